package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/log"
	"github.com/small-frappuccino/productdock/pkg/metrics"
	"github.com/small-frappuccino/productdock/pkg/storage"
)

// Messenger is the platform surface the reconciler needs. The session adapter
// implements it over Discord; tests substitute fakes. Implementations must
// return ErrMessageNotFound (wrapped is fine) when the target message no
// longer exists, and ErrPermissionDenied when the bot cannot post.
type Messenger interface {
	SendPanel(ctx context.Context, channelID string, r *RenderedPanel) (messageID string, err error)
	EditPanel(ctx context.Context, channelID, messageID string, r *RenderedPanel) error
	PanelMessageExists(ctx context.Context, channelID, messageID string) (bool, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	CanPost(channelID string) error
}

// ConfigSource is the slice of configuration the reconciler reads.
// *files.ConfigManager implements it.
type ConfigSource interface {
	Available() bool
	PanelByID(id string) (files.PanelSpec, bool)
	PanelSpecs() []files.PanelSpec
}

// ClearSummary reports the outcome of a bulk panel removal.
type ClearSummary struct {
	// Removed counts deployments whose message was successfully deleted.
	// Already-missing messages are retired silently and not counted here.
	Removed int
	// Errors counts deployments that could not be retired.
	Errors int
	// ChannelsAffected counts distinct channels that had at least one
	// deployment retired.
	ChannelsAffected int
}

// Reconciler drives panel messages toward their configured state. Every
// operation on a given (channel, panel) key is mutually exclusive: a second
// caller gets ErrBusy instead of queueing, since a queued duplicate would
// only redo work the holder is already doing.
type Reconciler struct {
	cfg      ConfigSource
	registry *Registry
	msgr     Messenger

	mu       sync.Mutex
	inFlight map[Key]struct{}
}

// NewReconciler wires a reconciler over its three collaborators.
func NewReconciler(cfg ConfigSource, registry *Registry, msgr Messenger) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		registry: registry,
		msgr:     msgr,
		inFlight: make(map[Key]struct{}),
	}
}

func (r *Reconciler) tryAcquire(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[key]; busy {
		return false
	}
	r.inFlight[key] = struct{}{}
	return true
}

func (r *Reconciler) release(key Key) {
	r.mu.Lock()
	delete(r.inFlight, key)
	r.mu.Unlock()
}

// Setup deploys a panel into a channel and records the deployment. A panel
// already live in the channel is rejected with ErrAlreadyExists; a stale
// registry row whose message is gone does not block a fresh setup.
func (r *Reconciler) Setup(ctx context.Context, guildID, channelID, panelID string) (storage.Deployment, error) {
	key := Key{ChannelID: channelID, PanelID: panelID}
	if !r.tryAcquire(key) {
		return storage.Deployment{}, ErrBusy
	}
	defer r.release(key)

	if !r.cfg.Available() {
		return storage.Deployment{}, ErrConfigUnavailable
	}
	spec, ok := r.cfg.PanelByID(panelID)
	if !ok {
		return storage.Deployment{}, ErrPanelNotFound
	}
	if err := r.msgr.CanPost(channelID); err != nil {
		return storage.Deployment{}, err
	}
	if len(spec.Panel.EnabledProducts()) == 0 {
		return storage.Deployment{}, ErrEmptyPanel
	}

	if existing, ok := r.registry.Get(key); ok && existing.IsActive {
		live, err := r.msgr.PanelMessageExists(ctx, channelID, existing.MessageID)
		if err != nil && !errors.Is(err, ErrMessageNotFound) {
			return storage.Deployment{}, fmt.Errorf("check existing panel message: %w", err)
		}
		if live {
			return storage.Deployment{}, ErrAlreadyExists
		}
		// Message deleted out from under us; the row is stale, not blocking.
		log.ApplicationLogger().Warn("Registry row points at a deleted message; redeploying",
			"channel", channelID, "panel", panelID)
	}

	rendered := Render(spec, RenderOptions{})
	messageID, err := r.msgr.SendPanel(ctx, channelID, rendered)
	if err != nil {
		metrics.ReconcileOps.WithLabelValues("error").Inc()
		return storage.Deployment{}, fmt.Errorf("send panel message: %w", err)
	}

	now := time.Now().UTC()
	dep := storage.Deployment{
		GuildID:      guildID,
		ChannelID:    channelID,
		PanelID:      panelID,
		MessageID:    messageID,
		PanelType:    string(spec.Type),
		PanelName:    spec.Panel.Name,
		Fingerprint:  Fingerprint(spec),
		ProductCount: len(spec.Panel.EnabledProducts()),
		CreatedAt:    now,
		LastUpdated:  now,
		IsActive:     true,
	}
	putErr := r.registry.Put(dep)
	metrics.ReconcileOps.WithLabelValues("create").Inc()
	log.ApplicationLogger().Info("Panel deployed",
		"guild", guildID, "channel", channelID, "panel", panelID, "message", messageID)
	return dep, putErr
}

// Refresh drives one deployed panel toward its configured state and returns
// the action taken: "noop", "update", "recreate" or "retire". A concurrent
// operation on the same key yields ErrBusy.
func (r *Reconciler) Refresh(ctx context.Context, guildID string, key Key) (string, error) {
	if !r.tryAcquire(key) {
		return "", ErrBusy
	}
	defer r.release(key)
	return r.refreshLocked(ctx, guildID, key)
}

func (r *Reconciler) refreshLocked(ctx context.Context, guildID string, key Key) (string, error) {
	dep, ok := r.registry.Get(key)
	if !ok || !dep.IsActive {
		return "", ErrPanelNotFound
	}
	if !r.cfg.Available() {
		return "", ErrConfigUnavailable
	}

	spec, configured := r.cfg.PanelByID(key.PanelID)
	if !configured {
		// Removed from configuration: take the message down and retire the row.
		if err := r.retire(ctx, guildID, key, dep); err != nil {
			metrics.ReconcileOps.WithLabelValues("error").Inc()
			return "", err
		}
		metrics.ReconcileOps.WithLabelValues("retire").Inc()
		return "retire", nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	live, err := r.msgr.PanelMessageExists(ctx, key.ChannelID, dep.MessageID)
	if err != nil && !errors.Is(err, ErrMessageNotFound) {
		metrics.ReconcileOps.WithLabelValues("error").Inc()
		return "", fmt.Errorf("check panel message: %w", err)
	}

	if !live {
		return r.recreate(ctx, guildID, key, spec)
	}

	fp := Fingerprint(spec)
	if fp == dep.Fingerprint {
		metrics.ReconcileOps.WithLabelValues("noop").Inc()
		return "noop", nil
	}

	rendered := Render(spec, RenderOptions{Updated: true})
	if err := r.msgr.EditPanel(ctx, key.ChannelID, dep.MessageID, rendered); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			// Deleted between the existence check and the edit.
			return r.recreate(ctx, guildID, key, spec)
		}
		metrics.ReconcileOps.WithLabelValues("error").Inc()
		return "", fmt.Errorf("edit panel message: %w", err)
	}

	dep.Fingerprint = fp
	dep.PanelName = spec.Panel.Name
	dep.ProductCount = len(spec.Panel.EnabledProducts())
	dep.LastUpdated = time.Now().UTC()
	putErr := r.registry.Put(dep)
	metrics.ReconcileOps.WithLabelValues("update").Inc()
	log.ApplicationLogger().Info("Panel updated in place",
		"guild", guildID, "channel", key.ChannelID, "panel", key.PanelID)
	return "update", putErr
}

func (r *Reconciler) recreate(ctx context.Context, guildID string, key Key, spec files.PanelSpec) (string, error) {
	rendered := Render(spec, RenderOptions{})
	messageID, err := r.msgr.SendPanel(ctx, key.ChannelID, rendered)
	if err != nil {
		// The message is gone and could not be re-sent. Deactivate the row so
		// the deployment is not retried every tick; a later setup reactivates.
		if dErr := r.registry.Deactivate(guildID, key); dErr != nil {
			log.ErrorLoggerRaw().Error("Panel deactivate after failed recreate",
				"channel", key.ChannelID, "panel", key.PanelID, "error", dErr)
		}
		log.ApplicationLogger().Warn("Panel message could not be recreated; deployment deactivated",
			"guild", guildID, "channel", key.ChannelID, "panel", key.PanelID, "error", err)
		metrics.ReconcileOps.WithLabelValues("error").Inc()
		return "", fmt.Errorf("recreate panel message: %w", err)
	}

	dep, _ := r.registry.Get(key)
	now := time.Now().UTC()
	dep.GuildID = guildID
	dep.ChannelID = key.ChannelID
	dep.PanelID = key.PanelID
	dep.MessageID = messageID
	dep.PanelType = string(spec.Type)
	dep.PanelName = spec.Panel.Name
	dep.Fingerprint = Fingerprint(spec)
	dep.ProductCount = len(spec.Panel.EnabledProducts())
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = now
	}
	dep.LastUpdated = now
	dep.IsActive = true
	putErr := r.registry.Put(dep)
	metrics.ReconcileOps.WithLabelValues("recreate").Inc()
	log.ApplicationLogger().Warn("Panel message was missing; recreated",
		"guild", guildID, "channel", key.ChannelID, "panel", key.PanelID, "message", messageID)
	return "recreate", putErr
}

func (r *Reconciler) retire(ctx context.Context, guildID string, key Key, dep storage.Deployment) error {
	if dep.MessageID != "" {
		if err := r.msgr.DeleteMessage(ctx, key.ChannelID, dep.MessageID); err != nil && !errors.Is(err, ErrMessageNotFound) {
			return fmt.Errorf("delete retired panel message: %w", err)
		}
	}
	if err := r.registry.Deactivate(guildID, key); err != nil {
		return err
	}
	log.ApplicationLogger().Info("Panel retired",
		"guild", guildID, "channel", key.ChannelID, "panel", key.PanelID)
	return nil
}

// RefreshSummary reports the outcome of a full reconcile pass: how many
// deployments changed (updated, recreated, retired or newly deployed) and
// how many keys failed.
type RefreshSummary struct {
	Updated int
	Errors  int
}

// RefreshAll runs Refresh over every active deployment in the guild and
// returns the accumulated summary. Keys with an operation already in flight
// are skipped, not retried: the holder is doing the same work a retry would.
// It also deploys configured panels that have a pinned channel but no active
// deployment yet.
func (r *Reconciler) RefreshAll(ctx context.Context, guildID string) RefreshSummary {
	var summary RefreshSummary
	for _, dep := range r.registry.Active() {
		if dep.GuildID != guildID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary
		}
		key := Key{ChannelID: dep.ChannelID, PanelID: dep.PanelID}
		action, err := r.Refresh(ctx, guildID, key)
		switch {
		case errors.Is(err, ErrBusy):
			log.ApplicationLogger().Debug("Refresh skipped; operation in flight",
				"channel", key.ChannelID, "panel", key.PanelID)
		case err != nil:
			summary.Errors++
			log.ErrorLoggerRaw().Error("Panel refresh failed",
				"channel", key.ChannelID, "panel", key.PanelID, "error", err)
		case action != "noop":
			summary.Updated++
			log.ApplicationLogger().Info("Panel reconciled", "panel", key.PanelID, "action", action)
		}
	}
	created, deployErrs := r.AutoDeploy(ctx, guildID)
	summary.Updated += created
	summary.Errors += deployErrs
	return summary
}

// AutoDeploy sets up configured panels that declare a channel but are not
// deployed there yet, returning how many were created and how many failed.
// Panels without a pinned channel are left to the setup command.
func (r *Reconciler) AutoDeploy(ctx context.Context, guildID string) (created, errs int) {
	if !r.cfg.Available() {
		return 0, 0
	}
	for _, spec := range r.cfg.PanelSpecs() {
		channelID := spec.Panel.ChannelID
		if channelID == "" {
			continue
		}
		key := Key{ChannelID: channelID, PanelID: spec.ID}
		if dep, ok := r.registry.Get(key); ok && dep.IsActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			return created, errs
		}
		if _, err := r.Setup(ctx, guildID, channelID, spec.ID); err != nil {
			if errors.Is(err, ErrBusy) || errors.Is(err, ErrAlreadyExists) {
				continue
			}
			errs++
			log.ErrorLoggerRaw().Error("Panel auto-deploy failed",
				"channel", channelID, "panel", spec.ID, "error", err)
			continue
		}
		created++
		log.ApplicationLogger().Info("Panel auto-deployed", "channel", channelID, "panel", spec.ID)
	}
	return created, errs
}

// Clear retires active deployments in the guild, narrowed by channelID
// and/or panelID when non-empty. Messages already gone are retired without
// counting toward Removed.
func (r *Reconciler) Clear(ctx context.Context, guildID, channelID, panelID string) ClearSummary {
	var summary ClearSummary
	channels := make(map[string]struct{})

	for _, dep := range r.registry.Active() {
		if dep.GuildID != guildID {
			continue
		}
		if channelID != "" && dep.ChannelID != channelID {
			continue
		}
		if panelID != "" && dep.PanelID != panelID {
			continue
		}
		key := Key{ChannelID: dep.ChannelID, PanelID: dep.PanelID}
		if !r.tryAcquire(key) {
			summary.Errors++
			continue
		}

		err := r.msgr.DeleteMessage(ctx, dep.ChannelID, dep.MessageID)
		deleted := err == nil
		if err != nil && !errors.Is(err, ErrMessageNotFound) {
			r.release(key)
			summary.Errors++
			log.ErrorLoggerRaw().Error("Panel clear failed",
				"channel", dep.ChannelID, "panel", dep.PanelID, "error", err)
			continue
		}
		if err := r.registry.Deactivate(guildID, key); err != nil {
			r.release(key)
			summary.Errors++
			continue
		}
		r.release(key)

		metrics.ReconcileOps.WithLabelValues("retire").Inc()
		if deleted {
			summary.Removed++
		}
		channels[dep.ChannelID] = struct{}{}
	}

	// An unfiltered clear with no failures also sweeps the store, so rows
	// the mirror never learned about (degraded load, earlier failed
	// deactivates) cannot stay active.
	if channelID == "" && panelID == "" && summary.Errors == 0 {
		if _, err := r.registry.DeactivateAll(guildID); err != nil {
			summary.Errors++
		}
	}

	summary.ChannelsAffected = len(channels)
	log.ApplicationLogger().Info("Panels cleared",
		"guild", guildID, "removed", summary.Removed, "errors", summary.Errors,
		"channels", summary.ChannelsAffected)
	return summary
}
