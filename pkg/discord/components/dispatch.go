// Package components routes message-component interactions for product
// panels: download buttons and the personal panel selector.
package components

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/productdock/pkg/download"
	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/log"
	"github.com/small-frappuccino/productdock/pkg/panel"
)

const interactionTimeout = 20 * time.Second

// Dispatcher decodes panel interaction tokens once at the boundary and
// routes to the handler for the action. Components from other features are
// ignored by token prefix, never guessed at.
type Dispatcher struct {
	config    *files.ConfigManager
	downloads *download.Service

	handlers map[panel.Action]func(s *discordgo.Session, i *discordgo.InteractionCreate, tok panel.Token) error
}

// NewDispatcher wires the component dispatcher.
func NewDispatcher(config *files.ConfigManager, downloads *download.Service) *Dispatcher {
	d := &Dispatcher{
		config:    config,
		downloads: downloads,
	}
	d.handlers = map[panel.Action]func(*discordgo.Session, *discordgo.InteractionCreate, panel.Token) error{
		panel.ActionChannelDownload:  d.handleDownload,
		panel.ActionPersonalDownload: d.handleDownload,
		panel.ActionPanelSelect:      d.handlePanelSelect,
	}
	return d
}

// HandleInteraction is registered as a discordgo handler.
func (d *Dispatcher) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	customID := i.MessageComponentData().CustomID
	if !panel.IsToken(customID) {
		return
	}

	tok, err := panel.DecodeToken(customID)
	if err != nil {
		log.DiscordLogger().Warn("Unparseable panel interaction token", "custom_id", customID, "error", err)
		d.replyEphemeral(s, i, "❌ This button is no longer valid. Ask an admin to refresh the panel.")
		return
	}

	if err := d.handlers[tok.Action](s, i, tok); err != nil {
		log.ErrorLoggerRaw().Error("Component interaction failed",
			"action", string(tok.Action), "panel", tok.PanelID, "error", err)
	}
}

func (d *Dispatcher) handleDownload(s *discordgo.Session, i *discordgo.InteractionCreate, tok panel.Token) error {
	user := interactionUser(i)
	if user == nil {
		return fmt.Errorf("component interaction without user")
	}

	// A personal panel button only works for the user it was rendered for.
	if tok.Action == panel.ActionPersonalDownload && tok.UserID != user.ID {
		return d.replyEphemeral(s, i, "❌ This panel belongs to someone else. Use /products to get your own.")
	}

	req := download.Request{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		PanelID:   tok.PanelID,
		ProductID: tok.ProductID,
		UserID:    user.ID,
		Username:  user.Username,
		Source:    "channel",
	}
	if tok.Action == panel.ActionPersonalDownload {
		req.Source = "personal"
	}
	if i.Member != nil {
		req.UserRoles = i.Member.Roles
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()
	res, err := d.downloads.Process(ctx, req)
	if err != nil {
		return d.replyEphemeral(s, i, d.denialMessage(err))
	}

	file, err := os.Open(res.FilePath)
	if err != nil {
		log.ErrorLoggerRaw().Error("Authorized product file vanished before delivery",
			"product", tok.ProductID, "path", res.FilePath, "error", err)
		return d.replyEphemeral(s, i, "❌ The product file is unavailable right now. Try again later.")
	}
	defer file.Close()

	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fmt.Sprintf("📦 Here is **%s**. This message is only visible to you.", res.Product.Name),
			Flags:   discordgo.MessageFlagsEphemeral,
			Files: []*discordgo.File{{
				Name:   res.Product.AttachmentName(),
				Reader: file,
			}},
		},
	})
}

// handlePanelSelect swaps the selector message for the chosen panel rendered
// with user-scoped buttons.
func (d *Dispatcher) handlePanelSelect(s *discordgo.Session, i *discordgo.InteractionCreate, _ panel.Token) error {
	values := i.MessageComponentData().Values
	if len(values) == 0 {
		return d.replyEphemeral(s, i, "❌ Nothing selected.")
	}

	spec, ok := d.config.PanelByID(values[0])
	if !ok {
		return d.replyEphemeral(s, i, "❌ That panel is no longer configured.")
	}

	user := interactionUser(i)
	if user == nil {
		return fmt.Errorf("component interaction without user")
	}

	rendered := panel.Render(spec, panel.RenderOptions{Personal: true, UserID: user.ID})
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    "",
			Embeds:     []*discordgo.MessageEmbed{rendered.Embed},
			Components: rendered.Components,
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	})
}

func (d *Dispatcher) denialMessage(err error) string {
	switch {
	case errors.Is(err, panel.ErrRoleDenied):
		return "🔒 " + d.config.Logging().NoPermissionReply()
	case errors.Is(err, panel.ErrProductNotFound), errors.Is(err, panel.ErrPanelNotFound):
		return "❌ This product is no longer available. The panel may be out of date."
	case errors.Is(err, panel.ErrProductDisabled):
		return "❌ This product is currently disabled."
	case errors.Is(err, panel.ErrFileUnavailable):
		return "❌ The product file is unavailable right now. Try again later."
	case errors.Is(err, panel.ErrConfigUnavailable):
		return "❌ Product downloads are temporarily unavailable."
	default:
		return "❌ Something went wrong processing your download."
	}
}

func (d *Dispatcher) replyEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, message string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: message,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}
