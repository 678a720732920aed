package panel

import (
	"fmt"
	"sync"

	"github.com/small-frappuccino/productdock/pkg/log"
	"github.com/small-frappuccino/productdock/pkg/storage"
)

// Key identifies one deployed panel instance within a guild.
type Key struct {
	ChannelID string
	PanelID   string
}

func (k Key) String() string { return k.ChannelID + ":" + k.PanelID }

// DeploymentStore is the durable side of the registry. *storage.Store
// implements it; tests substitute fakes.
type DeploymentStore interface {
	LoadDeployments(guildIDs []string) ([]storage.Deployment, error)
	UpsertDeployment(d storage.Deployment) error
	DeactivateDeployment(guildID, channelID, panelID string) error
	DeactivateAllDeployments(guildIDs []string) (int64, error)
}

// Registry is the durable mapping from (guild, channel, panel) to the live
// panel message, fronted by an in-memory mirror. The mirror is a cache
// rebuilt from the store at startup and is never a second source of truth:
// it can be discarded and rebuilt at any time. Only the Reconciler mutates
// it; everyone else reads.
type Registry struct {
	store DeploymentStore

	mu     sync.RWMutex
	loaded bool
	byKey  map[Key]storage.Deployment
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store DeploymentStore) *Registry {
	return &Registry{
		store: store,
		byKey: make(map[Key]storage.Deployment),
	}
}

// Load rebuilds the mirror from the store for the given guilds. It runs once;
// repeated calls are no-ops so startup paths cannot trigger redundant full
// scans. A store failure degrades to an empty mirror (logged, not fatal):
// the process runs as if no deployments were known.
func (r *Registry) Load(guildIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	r.loaded = true

	rows, err := r.store.LoadDeployments(guildIDs)
	if err != nil {
		log.DatabaseLogger().Error("Registry load failed; starting with no known deployments", "error", err)
		return nil
	}
	for _, d := range rows {
		r.byKey[Key{ChannelID: d.ChannelID, PanelID: d.PanelID}] = d
	}
	log.DatabaseLogger().Info("Registry loaded", "deployments", len(rows))
	return nil
}

// Get returns the mirrored deployment for a key, if any.
func (r *Registry) Get(key Key) (storage.Deployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byKey[key]
	return d, ok
}

// Active returns all active mirrored deployments.
func (r *Registry) Active() []storage.Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]storage.Deployment, 0, len(r.byKey))
	for _, d := range r.byKey {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out
}

// ActiveCount returns the number of active deployments for a guild.
func (r *Registry) ActiveCount(guildID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.byKey {
		if d.IsActive && d.GuildID == guildID {
			n++
		}
	}
	return n
}

// Put persists the deployment and updates the mirror. The mirror is updated
// even when the durable write fails: the message is already live on the
// platform, and a mirror that denies it would cause a duplicate send on the
// next pass. The error is still returned so the caller can log the
// inconsistency loudly; the next refresh tick heals the stored row.
func (r *Registry) Put(d storage.Deployment) error {
	err := r.store.UpsertDeployment(d)

	r.mu.Lock()
	r.byKey[Key{ChannelID: d.ChannelID, PanelID: d.PanelID}] = d
	r.mu.Unlock()

	if err != nil {
		log.DatabaseLogger().Error("PERSISTENCE INCONSISTENCY: registry write failed after platform call; message and registry may disagree until next refresh",
			"guild", d.GuildID, "channel", d.ChannelID, "panel", d.PanelID, "error", err)
		return fmt.Errorf("persist deployment %s: %w", d.Key(), err)
	}
	return nil
}

// DeactivateAll soft-deletes every deployment for the guild in store and
// mirror, returning how many stored rows changed. It reaches rows the mirror
// does not know about, such as after a degraded Load.
func (r *Registry) DeactivateAll(guildID string) (int64, error) {
	n, err := r.store.DeactivateAllDeployments([]string{guildID})

	r.mu.Lock()
	for k, d := range r.byKey {
		if d.GuildID == guildID && d.IsActive {
			d.IsActive = false
			r.byKey[k] = d
		}
	}
	r.mu.Unlock()

	if err != nil {
		log.DatabaseLogger().Error("PERSISTENCE INCONSISTENCY: registry deactivate-all failed",
			"guild", guildID, "error", err)
		return n, fmt.Errorf("deactivate deployments for guild %s: %w", guildID, err)
	}
	return n, nil
}

// Deactivate soft-deletes the deployment in store and mirror. A key that was
// never deployed is a no-op.
func (r *Registry) Deactivate(guildID string, key Key) error {
	err := r.store.DeactivateDeployment(guildID, key.ChannelID, key.PanelID)

	r.mu.Lock()
	if d, ok := r.byKey[key]; ok {
		d.IsActive = false
		r.byKey[key] = d
	}
	r.mu.Unlock()

	if err != nil {
		log.DatabaseLogger().Error("PERSISTENCE INCONSISTENCY: registry deactivate failed",
			"guild", guildID, "channel", key.ChannelID, "panel", key.PanelID, "error", err)
		return fmt.Errorf("deactivate deployment %s: %w", key, err)
	}
	return nil
}
