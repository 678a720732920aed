// Package app bootstraps the bot and blocks until shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/productdock/pkg/control"
	"github.com/small-frappuccino/productdock/pkg/discord/commands/core"
	"github.com/small-frappuccino/productdock/pkg/discord/commands/panelcmd"
	"github.com/small-frappuccino/productdock/pkg/discord/components"
	"github.com/small-frappuccino/productdock/pkg/discord/logging"
	"github.com/small-frappuccino/productdock/pkg/discord/session"
	"github.com/small-frappuccino/productdock/pkg/download"
	"github.com/small-frappuccino/productdock/pkg/errutil"
	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/log"
	"github.com/small-frappuccino/productdock/pkg/panel"
	"github.com/small-frappuccino/productdock/pkg/storage"
	"github.com/small-frappuccino/productdock/pkg/task"
	"github.com/small-frappuccino/productdock/pkg/util"
)

const (
	taskRefreshAll = "panel.refresh_all"

	defaultRefreshInterval = 5 * time.Minute
)

// Run bootstraps the bot with a unified flow and blocks until shutdown.
// appName affects config/db/log paths; tokenEnv names the environment
// variable holding the bot token. The variable is read from the process
// environment first; if empty, $HOME/.local/bin/.env is loaded and the
// variable re-checked.
func Run(appName, tokenEnv string) error {
	started := time.Now()

	// App name first (affects paths)
	util.SetAppName(appName)

	token, loadErr := util.LoadEnvWithLocalBinFallback(tokenEnv)
	if loadErr != nil {
		log.ApplicationLogger().Warn(fmt.Sprintf("Warning: %v", loadErr))
	}

	// Logger before anything that wants to log
	if err := log.SetupLogger(); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	log.ApplicationLogger().Info(fmt.Sprintf("🚀 Starting %s...", appName))

	if token == "" {
		return fmt.Errorf("%s not set in environment or .env file", tokenEnv)
	}

	if err := util.EnsureDirs(); err != nil {
		return fmt.Errorf("create application directories: %w", err)
	}

	// Config manager; an unloadable config degrades to "unavailable" and the
	// bot keeps running with panels read-only.
	configManager := files.NewConfigManager()
	if err := configManager.LoadConfig(); err != nil {
		log.ErrorLoggerRaw().Error(fmt.Sprintf("Failed to load products configuration: %v", err))
	}

	// Discord session
	log.DiscordLogger().Info("🔑 Authenticating with Discord API (token redacted)...")
	discordSession, err := session.NewDiscordSession(token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	if discordSession.State == nil || discordSession.State.User == nil {
		return fmt.Errorf("discord session state not properly initialized")
	}
	log.DiscordLogger().Info(fmt.Sprintf("✅ Authenticated as %s", discordSession.State.User.Username))

	// SQLite store
	store := storage.NewStore(util.DBPath())
	if err := errutil.HandleStorageError("init", store.Init); err != nil {
		return fmt.Errorf("initialize SQLite store: %w", err)
	}

	// Registry mirror, rebuilt from the store for the guilds we are in
	registry := panel.NewRegistry(store)
	if err := registry.Load(guildIDs(discordSession)); err != nil {
		return fmt.Errorf("load panel registry: %w", err)
	}

	// Domain services
	messenger := session.NewPanelMessenger(discordSession)
	reconciler := panel.NewReconciler(configManager, registry, messenger)
	notifier := logging.NewDownloadLogService(discordSession, configManager)
	downloads := download.NewService(configManager, store, notifier)

	// Component interactions (download buttons, panel selector)
	dispatcher := components.NewDispatcher(configManager, downloads)
	discordSession.AddHandler(dispatcher.HandleInteraction)

	// Slash commands
	commandManager := core.NewCommandManager(discordSession, configManager)
	panelcmd.NewPanelCommands(configManager, reconciler, registry, store).
		RegisterCommands(commandManager.GetRouter())
	if err := commandManager.SetupCommands(); err != nil {
		return fmt.Errorf("configure slash commands: %w", err)
	}

	// Task router: periodic reconciliation, deduped so a slow pass swallows
	// the next tick instead of queueing behind it.
	routerCfg := task.Defaults()
	router := task.NewRouter(routerCfg)
	defer router.Close()

	router.RegisterHandler(taskRefreshAll, func(ctx context.Context, _ any) error {
		for _, gid := range guildIDs(discordSession) {
			if sum := reconciler.RefreshAll(ctx, gid); sum.Updated > 0 || sum.Errors > 0 {
				log.ApplicationLogger().Info("Reconciliation tick",
					"guild", gid, "updated", sum.Updated, "errors", sum.Errors)
			}
		}
		return nil
	})

	refreshTask := task.Task{
		Type: taskRefreshAll,
		Options: task.Options{
			GroupKey:       taskRefreshAll,
			IdempotencyKey: taskRefreshAll,
		},
	}

	interval := defaultRefreshInterval
	if secs := configManager.Settings().UpdateIntervalSeconds; secs > 0 {
		interval = time.Duration(secs) * time.Second
	}
	cancelRefresh := router.ScheduleEvery(interval, refreshTask)
	defer cancelRefresh()

	// Initial pass: recreate anything lost while offline and deploy
	// channel-pinned panels that are missing.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	for _, gid := range guildIDs(discordSession) {
		reconciler.RefreshAll(startupCtx, gid)
	}
	startupCancel()

	// Optional control surface (metrics, status, manual refresh)
	controlServer := control.NewServer(os.Getenv("PRODUCTDOCK_CONTROL_ADDR"), configManager, registry, store, func() {
		_ = router.Dispatch(context.Background(), refreshTask)
	})
	if controlServer != nil {
		if err := controlServer.Start(); err != nil {
			return fmt.Errorf("start control server: %w", err)
		}
	}

	log.ApplicationLogger().Info(fmt.Sprintf("🎯 %s initialized successfully in %s", appName, time.Since(started).Round(time.Millisecond)))
	log.ApplicationLogger().Info(fmt.Sprintf("🤖 %s running. Press Ctrl+C to stop...", appName))

	util.WaitForInterrupt()
	log.ApplicationLogger().Info(fmt.Sprintf("🛑 Stopping %s...", appName))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if controlServer != nil {
		if err := controlServer.Stop(shutdownCtx); err != nil {
			log.ErrorLoggerRaw().Error(fmt.Sprintf("Control server failed to stop cleanly: %v", err))
		}
	}

	if err := store.Close(); err != nil {
		log.ErrorLoggerRaw().Error(fmt.Sprintf("SQLite store failed to close cleanly: %v", err))
	}
	if err := discordSession.Close(); err != nil {
		log.ErrorLoggerRaw().Error(fmt.Sprintf("Discord session failed to close cleanly: %v", err))
	}
	return nil
}

func guildIDs(s *discordgo.Session) []string {
	if s.State == nil {
		return nil
	}
	ids := make([]string, 0, len(s.State.Guilds))
	for _, g := range s.State.Guilds {
		ids = append(ids, g.ID)
	}
	return ids
}
