// Package panelcmd implements the slash commands that manage product panels.
package panelcmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/productdock/pkg/discord/commands/core"
	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/panel"
	"github.com/small-frappuccino/productdock/pkg/storage"
)

const commandTimeout = 15 * time.Second

// DownloadCounter exposes the audit aggregates shown by the status
// subcommand. *storage.Store implements it.
type DownloadCounter interface {
	CountDownloads(guildID string) (success int, failed int, err error)
}

// PanelCommands wires panel management commands to the reconciler.
type PanelCommands struct {
	config     *files.ConfigManager
	reconciler *panel.Reconciler
	registry   *panel.Registry
	downloads  DownloadCounter
}

// NewPanelCommands creates the command set.
func NewPanelCommands(
	config *files.ConfigManager,
	reconciler *panel.Reconciler,
	registry *panel.Registry,
	downloads DownloadCounter,
) *PanelCommands {
	return &PanelCommands{
		config:     config,
		reconciler: reconciler,
		registry:   registry,
		downloads:  downloads,
	}
}

// RegisterCommands registers /setuppanel and /products on the router.
func (pc *PanelCommands) RegisterCommands(router *core.CommandRouter) {
	group := core.NewGroupCommand("setuppanel", "Manage product download panels", router.GetPermissionChecker())
	group.AddSubCommand(&subCommand{
		name:        "create",
		description: "Deploy a product panel in a channel",
		options: []*discordgo.ApplicationCommandOption{
			panelOption(false),
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        "channel",
				Description: "Target channel (defaults to the current channel)",
				ChannelTypes: []discordgo.ChannelType{
					discordgo.ChannelTypeGuildText,
				},
			},
		},
		requiresPerms: true,
		handler:       pc.handleCreate,
	})
	group.AddSubCommand(&subCommand{
		name:          "status",
		description:   "Show panel deployments and download totals",
		requiresPerms: true,
		handler:       pc.handleStatus,
	})
	group.AddSubCommand(&subCommand{
		name:        "refresh",
		description: "Reconcile deployed panels with the configuration",
		options: []*discordgo.ApplicationCommandOption{
			panelOption(false),
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        "channel",
				Description: "Channel of the panel (defaults to the current channel)",
			},
		},
		requiresPerms: true,
		handler:       pc.handleRefresh,
	})
	group.AddSubCommand(&subCommand{
		name:        "clear",
		description: "Remove deployed panels",
		options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "confirm",
				Description: "Confirm removal",
				Required:    true,
			},
			panelOption(false),
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        "channel",
				Description: "Only clear panels in this channel",
			},
		},
		requiresPerms: true,
		handler:       pc.handleClear,
	})
	router.RegisterCommand(group)

	router.RegisterCommand(core.NewSimpleCommand(
		"products",
		"Browse products available to you",
		[]*discordgo.ApplicationCommandOption{panelOption(false)},
		pc.handlePersonalPanel,
		true,
		false,
	))
}

func panelOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "panel",
		Description: "Panel id from the configuration",
		Required:    required,
	}
}

func (pc *PanelCommands) handleCreate(ctx *core.Context, opts *core.OptionExtractor) error {
	spec, err := pc.resolvePanel(opts.String("panel"))
	if err != nil {
		return err
	}

	channelID := ctx.ChannelID
	if ch := channelOption(ctx); ch != "" {
		channelID = ch
	}

	cctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	dep, err := pc.reconciler.Setup(cctx, ctx.GuildID, channelID, spec.ID)
	if err != nil {
		return commandErrorFor(err)
	}

	responder(ctx).WithConfig(core.ResponseConfig{Ephemeral: true}).Success(ctx.Interaction,
		fmt.Sprintf("Panel `%s` deployed in <#%s> with %d product(s).", spec.ID, channelID, dep.ProductCount))
	return nil
}

func (pc *PanelCommands) handleStatus(ctx *core.Context, _ *core.OptionExtractor) error {
	var b strings.Builder

	if !pc.config.Available() {
		b.WriteString("⚠️ Product configuration is unavailable; panels are read-only until it is fixed.\n\n")
	}

	specs := pc.config.PanelSpecs()
	fmt.Fprintf(&b, "**Configured panels:** %d\n", len(specs))
	for _, spec := range specs {
		state := "not deployed"
		if dep, ok := pc.registry.Get(panel.Key{ChannelID: spec.Panel.ChannelID, PanelID: spec.ID}); ok && dep.IsActive {
			state = fmt.Sprintf("deployed in <#%s>", dep.ChannelID)
		} else if found := pc.findDeployment(ctx.GuildID, spec.ID); found != nil {
			state = fmt.Sprintf("deployed in <#%s>", found.ChannelID)
		}
		b.WriteString(statusLine(spec, state))
	}

	fmt.Fprintf(&b, "\n**Active deployments:** %d\n", pc.registry.ActiveCount(ctx.GuildID))

	if pc.downloads != nil {
		if ok, failed, err := pc.downloads.CountDownloads(ctx.GuildID); err == nil {
			fmt.Fprintf(&b, "**Downloads:** %d delivered, %d denied or failed\n", ok, failed)
		}
	}

	responder(ctx).WithConfig(core.ResponseConfig{
		Ephemeral: true,
		WithEmbed: true,
		Title:     "Product Panels",
		Timestamp: true,
	}).Info(ctx.Interaction, b.String())
	return nil
}

// statusLine formats one panel row for the status reply, showing enabled
// versus configured product counts.
func statusLine(spec files.PanelSpec, state string) string {
	return fmt.Sprintf("• `%s` (%s, %d/%d products): %s\n",
		spec.ID, spec.Type, len(spec.Panel.EnabledProducts()), len(spec.Panel.Products), state)
}

func (pc *PanelCommands) handleRefresh(ctx *core.Context, opts *core.OptionExtractor) error {
	cctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	panelID := opts.String("panel")
	if panelID == "" {
		summary := pc.reconciler.RefreshAll(cctx, ctx.GuildID)
		reply := fmt.Sprintf("Panels reconciled: %d updated, %d error(s).", summary.Updated, summary.Errors)
		if summary.Errors > 0 {
			responder(ctx).WithConfig(core.ResponseConfig{Ephemeral: true}).Warning(ctx.Interaction, reply)
		} else {
			responder(ctx).WithConfig(core.ResponseConfig{Ephemeral: true}).Success(ctx.Interaction, reply)
		}
		return nil
	}

	channelID := ctx.ChannelID
	if ch := channelOption(ctx); ch != "" {
		channelID = ch
	}
	key := panel.Key{ChannelID: channelID, PanelID: panelID}
	if dep := pc.findDeployment(ctx.GuildID, panelID); dep != nil && !opts.HasOption("channel") {
		key.ChannelID = dep.ChannelID
	}

	action, err := pc.reconciler.Refresh(cctx, ctx.GuildID, key)
	if err != nil {
		return commandErrorFor(err)
	}

	messages := map[string]string{
		"noop":     "Panel `%s` is already up to date.",
		"update":   "Panel `%s` updated in place.",
		"recreate": "Panel `%s` message was missing and has been recreated.",
		"retire":   "Panel `%s` is no longer configured and has been removed.",
	}
	msg, ok := messages[action]
	if !ok {
		msg = "Panel `%s` reconciled."
	}
	responder(ctx).WithConfig(core.ResponseConfig{Ephemeral: true}).Success(ctx.Interaction,
		fmt.Sprintf(msg, panelID))
	return nil
}

func (pc *PanelCommands) handleClear(ctx *core.Context, opts *core.OptionExtractor) error {
	if !opts.Bool("confirm") {
		responder(ctx).WithConfig(core.ResponseConfig{Ephemeral: true}).Warning(ctx.Interaction,
			"Pass `confirm: True` to remove panels. Nothing was changed.")
		return nil
	}

	cctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	summary := pc.reconciler.Clear(cctx, ctx.GuildID, channelOption(ctx), opts.String("panel"))

	msg := fmt.Sprintf("Removed %d panel(s) across %d channel(s).", summary.Removed, summary.ChannelsAffected)
	if summary.Errors > 0 {
		msg += fmt.Sprintf(" %d panel(s) could not be removed; check the logs.", summary.Errors)
		responder(ctx).WithConfig(core.ResponseConfig{Ephemeral: true}).Warning(ctx.Interaction, msg)
		return nil
	}
	responder(ctx).WithConfig(core.ResponseConfig{Ephemeral: true}).Success(ctx.Interaction, msg)
	return nil
}

// handlePersonalPanel serves /products: an ephemeral copy of a panel with
// user-scoped download buttons. With several panels configured and none
// specified, the user picks one from a select menu.
func (pc *PanelCommands) handlePersonalPanel(ctx *core.Context) error {
	opts := core.NewOptionExtractor(ctx.Interaction.ApplicationCommandData().Options)

	if !pc.config.Available() {
		return commandErrorFor(panel.ErrConfigUnavailable)
	}

	panelID := opts.String("panel")
	if panelID == "" {
		specs := pc.config.PanelSpecs()
		switch len(specs) {
		case 0:
			return core.NewCommandError("No products are configured right now.", true)
		case 1:
			panelID = specs[0].ID
		default:
			return pc.sendPanelSelector(ctx, specs)
		}
	}

	spec, ok := pc.config.PanelByID(panelID)
	if !ok {
		return commandErrorFor(panel.ErrPanelNotFound)
	}

	rendered := panel.Render(spec, panel.RenderOptions{Personal: true, UserID: ctx.UserID})
	return responder(ctx).WithConfig(core.ResponseConfig{
		Ephemeral:  true,
		Components: rendered.Components,
	}).Custom(ctx.Interaction, "", []*discordgo.MessageEmbed{rendered.Embed})
}

func (pc *PanelCommands) sendPanelSelector(ctx *core.Context, specs []files.PanelSpec) error {
	options := make([]discordgo.SelectMenuOption, 0, len(specs))
	for _, spec := range specs {
		label := spec.Panel.Name
		if label == "" {
			label = spec.ID
		}
		options = append(options, discordgo.SelectMenuOption{
			Label:       label,
			Value:       spec.ID,
			Description: fmt.Sprintf("%d product(s)", len(spec.Panel.EnabledProducts())),
		})
	}

	menu := discordgo.SelectMenu{
		CustomID:    panel.Token{Action: panel.ActionPanelSelect, PanelID: "panel"}.Encode(),
		Placeholder: "Choose a panel",
		Options:     options,
	}
	return responder(ctx).WithConfig(core.ResponseConfig{
		Ephemeral: true,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu}},
		},
	}).Custom(ctx.Interaction, "Which products are you looking for?", nil)
}

// resolvePanel maps an optional panel id option to a configured panel. With
// no id given it succeeds only when exactly one panel is configured;
// otherwise it asks the user to disambiguate.
func (pc *PanelCommands) resolvePanel(panelID string) (files.PanelSpec, error) {
	if !pc.config.Available() {
		return files.PanelSpec{}, commandErrorFor(panel.ErrConfigUnavailable)
	}
	if panelID != "" {
		spec, ok := pc.config.PanelByID(panelID)
		if !ok {
			return files.PanelSpec{}, commandErrorFor(panel.ErrPanelNotFound)
		}
		return spec, nil
	}

	specs := pc.config.PanelSpecs()
	switch len(specs) {
	case 0:
		return files.PanelSpec{}, core.NewCommandError("No panels are configured.", true)
	case 1:
		return specs[0], nil
	default:
		ids := make([]string, len(specs))
		for i, spec := range specs {
			ids[i] = "`" + spec.ID + "`"
		}
		return files.PanelSpec{}, core.NewCommandError(
			"Several panels are configured; pass `panel` with one of: "+strings.Join(ids, ", "), true)
	}
}

func (pc *PanelCommands) findDeployment(guildID, panelID string) *storage.Deployment {
	for _, dep := range pc.registry.Active() {
		if dep.GuildID == guildID && dep.PanelID == panelID {
			return &dep
		}
	}
	return nil
}

func channelOption(ctx *core.Context) string {
	_, subOpts, ok := core.SubCommandCall(ctx.Interaction.ApplicationCommandData())
	if !ok {
		return ""
	}
	for _, opt := range subOpts {
		if opt.Name == "channel" {
			return opt.ChannelValue(nil).ID
		}
	}
	return ""
}

// commandErrorFor maps domain errors to the user-facing reply.
func commandErrorFor(err error) error {
	switch {
	case errors.Is(err, panel.ErrConfigUnavailable):
		return core.NewCommandError("The product configuration is unavailable right now. Try again after it is fixed.", true)
	case errors.Is(err, panel.ErrPanelNotFound):
		return core.NewCommandError("No panel with that id is configured.", true)
	case errors.Is(err, panel.ErrAlreadyExists):
		return core.NewCommandError("That panel is already deployed in this channel. Use `/setuppanel refresh` to update it.", true)
	case errors.Is(err, panel.ErrEmptyPanel):
		return core.NewCommandError("That panel has no enabled products; enable at least one before deploying.", true)
	case errors.Is(err, panel.ErrPermissionDenied):
		return core.NewCommandError("I can't post in that channel. Grant Send Messages and Embed Links there first.", true)
	case errors.Is(err, panel.ErrBusy):
		return core.NewCommandError("Another operation on that panel is still running. Try again in a moment.", true)
	default:
		return err
	}
}

// subCommand implements core.SubCommand from plain fields.
type subCommand struct {
	name          string
	description   string
	options       []*discordgo.ApplicationCommandOption
	requiresPerms bool
	handler       func(ctx *core.Context, opts *core.OptionExtractor) error
}

func (sc *subCommand) Name() string        { return sc.name }
func (sc *subCommand) Description() string { return sc.description }
func (sc *subCommand) Options() []*discordgo.ApplicationCommandOption {
	return sc.options
}
func (sc *subCommand) RequiresPermissions() bool { return sc.requiresPerms }

func (sc *subCommand) Handle(ctx *core.Context) error {
	_, subOpts, _ := core.SubCommandCall(ctx.Interaction.ApplicationCommandData())
	return sc.handler(ctx, core.NewOptionExtractor(subOpts))
}

func responder(ctx *core.Context) *core.ResponseManager {
	return core.NewResponseManager(ctx.Session)
}
