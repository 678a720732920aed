package core

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// ResponseType enumerates the standard reply flavors.
type ResponseType int

const (
	ResponseSuccess ResponseType = iota
	ResponseError
	ResponseWarning
	ResponseInfo
	ResponseLoading
)

// Embed colors per response type.
const (
	colorSuccess = 0x57f287
	colorError   = 0xed4245
	colorWarning = 0xfee75c
	colorInfo    = 0x5865f2
)

// ResponseConfig configures the next reply.
type ResponseConfig struct {
	Ephemeral   bool
	Title       string
	Color       int
	WithEmbed   bool
	Footer      string
	Timestamp   bool
	Components  []discordgo.MessageComponent
	Attachments []*discordgo.File
}

// ResponseManager sends standardized interaction replies.
type ResponseManager struct {
	session *discordgo.Session
	config  ResponseConfig
}

// NewResponseManager creates a response manager over a session.
func NewResponseManager(session *discordgo.Session) *ResponseManager {
	return &ResponseManager{session: session}
}

// WithConfig returns a manager configured for the next reply.
func (rm *ResponseManager) WithConfig(config ResponseConfig) *ResponseManager {
	return &ResponseManager{session: rm.session, config: config}
}

// Success sends a success reply.
func (rm *ResponseManager) Success(i *discordgo.InteractionCreate, message string) error {
	return rm.sendResponse(i, message, ResponseSuccess)
}

// Error sends an error reply.
func (rm *ResponseManager) Error(i *discordgo.InteractionCreate, message string) error {
	return rm.sendResponse(i, message, ResponseError)
}

// Warning sends a warning reply.
func (rm *ResponseManager) Warning(i *discordgo.InteractionCreate, message string) error {
	return rm.sendResponse(i, message, ResponseWarning)
}

// Info sends an informational reply.
func (rm *ResponseManager) Info(i *discordgo.InteractionCreate, message string) error {
	return rm.sendResponse(i, message, ResponseInfo)
}

// Ephemeral sends a simple ephemeral reply.
func (rm *ResponseManager) Ephemeral(i *discordgo.InteractionCreate, message string) error {
	config := rm.config
	config.Ephemeral = true
	return rm.WithConfig(config).Info(i, message)
}

// Custom sends a fully custom reply.
func (rm *ResponseManager) Custom(i *discordgo.InteractionCreate, content string, embeds []*discordgo.MessageEmbed) error {
	var flags discordgo.MessageFlags
	if rm.config.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	return rm.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Embeds:     embeds,
			Flags:      flags,
			Components: rm.config.Components,
			Files:      rm.config.Attachments,
		},
	})
}

func (rm *ResponseManager) sendResponse(i *discordgo.InteractionCreate, message string, responseType ResponseType) error {
	if rm.config.WithEmbed {
		return rm.sendEmbedResponse(i, message, responseType)
	}
	return rm.sendTextResponse(i, message, responseType)
}

func (rm *ResponseManager) sendTextResponse(i *discordgo.InteractionCreate, message string, responseType ResponseType) error {
	content := rm.formatTextMessage(message, responseType)

	var flags discordgo.MessageFlags
	if rm.config.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	return rm.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Flags:      flags,
			Components: rm.config.Components,
			Files:      rm.config.Attachments,
		},
	})
}

func (rm *ResponseManager) sendEmbedResponse(i *discordgo.InteractionCreate, message string, responseType ResponseType) error {
	embed := rm.createEmbed(message, responseType)

	var flags discordgo.MessageFlags
	if rm.config.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	return rm.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Flags:      flags,
			Components: rm.config.Components,
			Files:      rm.config.Attachments,
		},
	})
}

func (rm *ResponseManager) formatTextMessage(message string, responseType ResponseType) string {
	switch responseType {
	case ResponseSuccess:
		return "✅ " + message
	case ResponseError:
		return "❌ " + message
	case ResponseWarning:
		return "⚠️ " + message
	case ResponseInfo:
		return "ℹ️ " + message
	case ResponseLoading:
		return "⏳ " + message
	default:
		return message
	}
}

func (rm *ResponseManager) createEmbed(message string, responseType ResponseType) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Description: message,
		Color:       rm.getColorForType(responseType),
	}

	if rm.config.Title != "" {
		embed.Title = rm.config.Title
	} else {
		embed.Title = rm.getTitleForType(responseType)
	}

	if rm.config.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: rm.config.Footer}
	}

	if rm.config.Timestamp {
		embed.Timestamp = time.Now().Format(time.RFC3339)
	}

	return embed
}

func (rm *ResponseManager) getColorForType(responseType ResponseType) int {
	if rm.config.Color != 0 {
		return rm.config.Color
	}
	switch responseType {
	case ResponseSuccess:
		return colorSuccess
	case ResponseError:
		return colorError
	case ResponseWarning:
		return colorWarning
	default:
		return colorInfo
	}
}

func (rm *ResponseManager) getTitleForType(responseType ResponseType) string {
	switch responseType {
	case ResponseSuccess:
		return "Success"
	case ResponseError:
		return "Error"
	case ResponseWarning:
		return "Warning"
	case ResponseLoading:
		return "Working..."
	default:
		return "Info"
	}
}
