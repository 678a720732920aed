package core

import (
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/productdock/pkg/files"
)

// OptionExtractor simplifies extraction of options for Discord commands
type OptionExtractor struct {
	options []*discordgo.ApplicationCommandInteractionDataOption
}

// NewOptionExtractor creates a new option extractor
func NewOptionExtractor(options []*discordgo.ApplicationCommandInteractionDataOption) *OptionExtractor {
	return &OptionExtractor{options: options}
}

// String extracts a string option by name
func (e *OptionExtractor) String(name string) string {
	for _, opt := range e.options {
		if opt.Name == name {
			return strings.TrimSpace(opt.StringValue())
		}
	}
	return ""
}

// Bool extracts a boolean option by name
func (e *OptionExtractor) Bool(name string) bool {
	for _, opt := range e.options {
		if opt.Name == name {
			return opt.BoolValue()
		}
	}
	return false
}

// HasOption checks whether an option exists
func (e *OptionExtractor) HasOption(name string) bool {
	for _, opt := range e.options {
		if opt.Name == name {
			return true
		}
	}
	return false
}

// PermissionChecker decides who may run administrative panel commands.
// Allowed: the guild owner, members holding Administrator, and members
// holding any configured admin role.
type PermissionChecker struct {
	session *discordgo.Session
	config  *files.ConfigManager
}

func NewPermissionChecker(session *discordgo.Session, config *files.ConfigManager) *PermissionChecker {
	return &PermissionChecker{session: session, config: config}
}

// HasPermission reports whether the member may run admin commands.
func (pc *PermissionChecker) HasPermission(guildID string, member *discordgo.Member) bool {
	if guildID == "" || member == nil || member.User == nil {
		return false
	}

	if ownerID, ok := pc.guildOwnerID(guildID); ok && ownerID == member.User.ID {
		return true
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}

	adminRoles := pc.config.Settings().AdminRoles
	for _, role := range member.Roles {
		if slices.Contains(adminRoles, role) {
			return true
		}
	}
	return false
}

// guildOwnerID resolves the guild owner from state, falling back to REST.
func (pc *PermissionChecker) guildOwnerID(guildID string) (string, bool) {
	if pc.session.State != nil {
		if g, err := pc.session.State.Guild(guildID); err == nil && g.OwnerID != "" {
			return g.OwnerID, true
		}
	}
	g, err := pc.session.Guild(guildID)
	if err != nil || g.OwnerID == "" {
		return "", false
	}
	return g.OwnerID, true
}

// IsSlashCommandInteraction reports whether the interaction is a slash command.
func IsSlashCommandInteraction(i *discordgo.InteractionCreate) bool {
	return i.Type == discordgo.InteractionApplicationCommand
}

// InteractionUser returns the invoking user for both guild and DM interactions.
func InteractionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}

// SubCommandCall splits a group interaction into subcommand name and options.
func SubCommandCall(data discordgo.ApplicationCommandInteractionData) (string, []*discordgo.ApplicationCommandInteractionDataOption, bool) {
	if len(data.Options) == 0 {
		return "", nil, false
	}
	opt := data.Options[0]
	if opt.Type != discordgo.ApplicationCommandOptionSubCommand {
		return "", nil, false
	}
	return opt.Name, opt.Options, true
}
