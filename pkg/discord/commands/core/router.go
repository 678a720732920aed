package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"

	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/log"
)

// CommandRouter routes slash-command interactions to registered handlers.
type CommandRouter struct {
	session     *discordgo.Session
	config      *files.ConfigManager
	registry    *CommandRegistry
	responder   *ResponseManager
	permChecker *PermissionChecker
}

// NewCommandRouter builds a router with its responder and permission checker.
func NewCommandRouter(session *discordgo.Session, config *files.ConfigManager) *CommandRouter {
	return &CommandRouter{
		session:     session,
		config:      config,
		registry:    NewCommandRegistry(),
		responder:   NewResponseManager(session),
		permChecker: NewPermissionChecker(session, config),
	}
}

// RegisterCommand registers a top-level command.
func (cr *CommandRouter) RegisterCommand(cmd Command) {
	cr.registry.Register(cmd)
}

// GetPermissionChecker returns the permission checker.
func (cr *CommandRouter) GetPermissionChecker() *PermissionChecker {
	return cr.permChecker
}

// HandleInteraction routes slash-command interactions. Component presses are
// handled by the components dispatcher, not here.
func (cr *CommandRouter) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !IsSlashCommandInteraction(i) {
		return
	}
	cr.handleSlashCommand(i)
}

func (cr *CommandRouter) handleSlashCommand(i *discordgo.InteractionCreate) {
	ctx := cr.buildContext(i)
	commandName := i.ApplicationCommandData().Name

	cmd, exists := cr.registry.GetCommand(commandName)
	if !exists {
		log.DiscordLogger().Error("Command not found", "command", commandName)
		cr.responder.Error(i, "Command not found")
		return
	}

	if cmd.RequiresGuild() && ctx.GuildID == "" {
		cr.responder.Error(i, "This command can only be used in a server")
		return
	}

	if cmd.RequiresPermissions() && !cr.permChecker.HasPermission(ctx.GuildID, ctx.Member) {
		log.DiscordLogger().Warn("User without permission tried to use command",
			"command", commandName, "user", ctx.UserID)
		cr.responder.WithConfig(ResponseConfig{Ephemeral: true}).Error(i, "You do not have permission to use this command")
		return
	}

	log.DiscordLogger().Info("Executing command", "command", commandName, "user", ctx.UserID)
	if err := cmd.Handle(ctx); err != nil {
		log.ErrorLoggerRaw().Error("Command execution failed", "command", commandName, "error", err)

		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			if cmdErr.Ephemeral {
				cr.responder.Ephemeral(i, cmdErr.Message)
			} else {
				cr.responder.Error(i, cmdErr.Message)
			}
			return
		}
		cr.responder.WithConfig(ResponseConfig{Ephemeral: true}).Error(i, "An error occurred while executing the command")
	}
}

func (cr *CommandRouter) buildContext(i *discordgo.InteractionCreate) *Context {
	ctx := &Context{
		Session:     cr.session,
		Interaction: i,
		Config:      cr.config,
		GuildID:     i.GuildID,
		ChannelID:   i.ChannelID,
		Member:      i.Member,
	}
	if user := InteractionUser(i); user != nil {
		ctx.UserID = user.ID
	}
	return ctx
}

// CommandManager owns the command lifecycle against the Discord API.
type CommandManager struct {
	session *discordgo.Session
	router  *CommandRouter
}

// NewCommandManager creates a command manager.
func NewCommandManager(session *discordgo.Session, config *files.ConfigManager) *CommandManager {
	return &CommandManager{
		session: session,
		router:  NewCommandRouter(session, config),
	}
}

// GetRouter returns the command router.
func (cm *CommandManager) GetRouter() *CommandRouter {
	return cm.router
}

// SetupCommands registers the interaction handler and synchronizes commands
// with Discord incrementally: unchanged commands are skipped, drifted ones
// edited, missing ones created and orphans deleted.
func (cm *CommandManager) SetupCommands() error {
	cm.session.AddHandler(cm.router.HandleInteraction)

	registered, err := cm.session.ApplicationCommands(cm.session.State.User.ID, "")
	if err != nil {
		return fmt.Errorf("failed to fetch registered commands: %w", err)
	}

	regByName := make(map[string]*discordgo.ApplicationCommand, len(registered))
	for _, rc := range registered {
		regByName[rc.Name] = rc
	}

	codeCommands := cm.router.registry.GetAllCommands()

	created, updated, unchanged := 0, 0, 0
	for name, cmd := range codeCommands {
		desired := &discordgo.ApplicationCommand{
			Name:        cmd.Name(),
			Description: cmd.Description(),
			Options:     cmd.Options(),
		}

		if existing, ok := regByName[name]; ok {
			if CompareCommands(existing, desired) {
				unchanged++
				continue
			}
			if _, err := cm.session.ApplicationCommandEdit(cm.session.State.User.ID, "", existing.ID, desired); err != nil {
				return fmt.Errorf("error updating command '%s': %w", name, err)
			}
			log.DiscordLogger().Info("Command updated", "command", name)
			updated++
		} else {
			if _, err := cm.session.ApplicationCommandCreate(cm.session.State.User.ID, "", desired); err != nil {
				return fmt.Errorf("error creating command '%s': %w", name, err)
			}
			log.DiscordLogger().Info("Command created", "command", name)
			created++
		}
	}

	deleted := 0
	for _, rc := range registered {
		if _, exists := codeCommands[rc.Name]; !exists {
			if err := cm.session.ApplicationCommandDelete(cm.session.State.User.ID, "", rc.ID); err != nil {
				log.DiscordLogger().Warn("Error removing orphan command", "command", rc.Name, "error", err)
				continue
			}
			log.DiscordLogger().Info("Orphan command removed", "command", rc.Name)
			deleted++
		}
	}

	log.DiscordLogger().Info("Command synchronization completed",
		"created", created, "updated", updated, "deleted", deleted,
		"unchanged", unchanged, "total", len(codeCommands))
	return nil
}

// CompareCommands reports whether a registered command matches the desired
// definition. Options are compared through a canonical JSON form so unset
// server-side fields do not register as drift.
func CompareCommands(existing, desired *discordgo.ApplicationCommand) bool {
	if existing.Name != desired.Name || existing.Description != desired.Description {
		return false
	}
	return canonicalOptions(existing.Options) == canonicalOptions(desired.Options)
}

func canonicalOptions(opts []*discordgo.ApplicationCommandOption) string {
	sorted := make([]*discordgo.ApplicationCommandOption, len(opts))
	copy(sorted, opts)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Name < sorted[b].Name })
	data, err := json.Marshal(sorted)
	if err != nil {
		return ""
	}
	return string(data)
}

// GroupCommand is a command composed of subcommands.
type GroupCommand struct {
	name        string
	description string
	subcommands map[string]SubCommand
	order       []string
	checker     *PermissionChecker
}

// NewGroupCommand creates an empty command group.
func NewGroupCommand(name, description string, checker *PermissionChecker) *GroupCommand {
	return &GroupCommand{
		name:        name,
		description: description,
		subcommands: make(map[string]SubCommand),
		checker:     checker,
	}
}

// AddSubCommand adds a subcommand to the group.
func (gc *GroupCommand) AddSubCommand(subcmd SubCommand) {
	if _, exists := gc.subcommands[subcmd.Name()]; !exists {
		gc.order = append(gc.order, subcmd.Name())
	}
	gc.subcommands[subcmd.Name()] = subcmd
}

func (gc *GroupCommand) Name() string        { return gc.name }
func (gc *GroupCommand) Description() string { return gc.description }

// Options builds the group's options from its subcommands in registration order.
func (gc *GroupCommand) Options() []*discordgo.ApplicationCommandOption {
	options := make([]*discordgo.ApplicationCommandOption, 0, len(gc.order))
	for _, name := range gc.order {
		subcmd := gc.subcommands[name]
		options = append(options, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        subcmd.Name(),
			Description: subcmd.Description(),
			Options:     subcmd.Options(),
		})
	}
	return options
}

func (gc *GroupCommand) RequiresGuild() bool { return true }

// RequiresPermissions defers to per-subcommand checks in Handle.
func (gc *GroupCommand) RequiresPermissions() bool { return false }

// Handle routes to the invoked subcommand.
func (gc *GroupCommand) Handle(ctx *Context) error {
	subName, _, ok := SubCommandCall(ctx.Interaction.ApplicationCommandData())
	if !ok {
		return NewCommandError("No subcommand specified", true)
	}

	subcmd, exists := gc.subcommands[subName]
	if !exists {
		return NewCommandError("Unknown subcommand", true)
	}

	if subcmd.RequiresPermissions() && !gc.checker.HasPermission(ctx.GuildID, ctx.Member) {
		return NewCommandError("You don't have permission to use this subcommand", true)
	}

	return subcmd.Handle(ctx)
}

// SimpleCommand implements Command from plain functions.
type SimpleCommand struct {
	name                string
	description         string
	options             []*discordgo.ApplicationCommandOption
	handler             func(ctx *Context) error
	requiresGuild       bool
	requiresPermissions bool
}

// NewSimpleCommand creates a command from a handler function.
func NewSimpleCommand(
	name, description string,
	options []*discordgo.ApplicationCommandOption,
	handler func(ctx *Context) error,
	requiresGuild, requiresPermissions bool,
) *SimpleCommand {
	return &SimpleCommand{
		name:                name,
		description:         description,
		options:             options,
		handler:             handler,
		requiresGuild:       requiresGuild,
		requiresPermissions: requiresPermissions,
	}
}

func (sc *SimpleCommand) Name() string        { return sc.name }
func (sc *SimpleCommand) Description() string { return sc.description }
func (sc *SimpleCommand) Options() []*discordgo.ApplicationCommandOption {
	return sc.options
}
func (sc *SimpleCommand) Handle(ctx *Context) error { return sc.handler(ctx) }
func (sc *SimpleCommand) RequiresGuild() bool       { return sc.requiresGuild }
func (sc *SimpleCommand) RequiresPermissions() bool { return sc.requiresPermissions }
