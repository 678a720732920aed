package panel

import (
	"errors"
	"testing"
	"time"

	"github.com/small-frappuccino/productdock/pkg/storage"
)

// fakeStore is an in-memory DeploymentStore with injectable failures.
type fakeStore struct {
	rows map[string]storage.Deployment

	loadErr   error
	upsertErr error

	loadCalls          int
	upsertCalls        int
	deactivateAllCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]storage.Deployment)}
}

func (f *fakeStore) LoadDeployments(guildIDs []string) ([]storage.Deployment, error) {
	f.loadCalls++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	var out []storage.Deployment
	for _, d := range f.rows {
		for _, g := range guildIDs {
			if d.GuildID == g && d.IsActive {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertDeployment(d storage.Deployment) error {
	f.upsertCalls++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.rows[d.Key()] = d
	return nil
}

func (f *fakeStore) DeactivateDeployment(guildID, channelID, panelID string) error {
	key := guildID + ":" + channelID + ":" + panelID
	if d, ok := f.rows[key]; ok {
		d.IsActive = false
		f.rows[key] = d
	}
	return nil
}

func (f *fakeStore) DeactivateAllDeployments(guildIDs []string) (int64, error) {
	f.deactivateAllCalls++
	var n int64
	for k, d := range f.rows {
		for _, g := range guildIDs {
			if d.GuildID == g && d.IsActive {
				d.IsActive = false
				f.rows[k] = d
				n++
			}
		}
	}
	return n, nil
}

func testDeployment(guild, channel, panelID string) storage.Deployment {
	now := time.Now().UTC()
	return storage.Deployment{
		GuildID:     guild,
		ChannelID:   channel,
		PanelID:     panelID,
		MessageID:   "m-" + panelID,
		PanelType:   "modern",
		Fingerprint: "fp",
		CreatedAt:   now,
		LastUpdated: now,
		IsActive:    true,
	}
}

func TestRegistryLoadOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.rows["g:c:p"] = testDeployment("g", "c", "p")

	reg := NewRegistry(store)
	if err := reg.Load([]string{"g"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := reg.Load([]string{"g"}); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if store.loadCalls != 1 {
		t.Fatalf("load must hit the store once, got %d", store.loadCalls)
	}

	if _, ok := reg.Get(Key{ChannelID: "c", PanelID: "p"}); !ok {
		t.Fatalf("loaded deployment missing from mirror")
	}
}

func TestRegistryLoadDegradesOnStoreError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.loadErr = errors.New("disk on fire")

	reg := NewRegistry(store)
	if err := reg.Load([]string{"g"}); err != nil {
		t.Fatalf("load failure must degrade, not fail: %v", err)
	}
	if got := len(reg.Active()); got != 0 {
		t.Fatalf("degraded mirror must be empty, got %d rows", got)
	}
}

func TestRegistryPutUpdatesMirrorDespiteStoreFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.upsertErr = errors.New("write failed")

	reg := NewRegistry(store)
	dep := testDeployment("g", "c", "p")
	err := reg.Put(dep)
	if err == nil {
		t.Fatalf("expected persistence error to surface")
	}

	// The message is live on the platform; the mirror must reflect it anyway
	// or the next pass would post a duplicate.
	got, ok := reg.Get(Key{ChannelID: "c", PanelID: "p"})
	if !ok || got.MessageID != dep.MessageID {
		t.Fatalf("mirror not updated after store failure")
	}
}

func TestRegistryDeactivate(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	reg := NewRegistry(store)
	if err := reg.Put(testDeployment("g", "c", "p")); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := reg.Deactivate("g", Key{ChannelID: "c", PanelID: "p"}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	dep, ok := reg.Get(Key{ChannelID: "c", PanelID: "p"})
	if !ok {
		t.Fatalf("row should remain in mirror, soft-deleted")
	}
	if dep.IsActive {
		t.Fatalf("deactivated row still active in mirror")
	}
	if stored := store.rows["g:c:p"]; stored.IsActive {
		t.Fatalf("deactivated row still active in store")
	}
	if reg.ActiveCount("g") != 0 {
		t.Fatalf("active count should be zero")
	}
}

func TestRegistryDeactivateAll(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	reg := NewRegistry(store)
	if err := reg.Put(testDeployment("g", "c1", "a")); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := reg.Put(testDeployment("g", "c2", "b")); err != nil {
		t.Fatalf("put b: %v", err)
	}
	// A store row the mirror never learned about must be reached too.
	store.rows["g:c3:ghost"] = testDeployment("g", "c3", "ghost")

	n, err := reg.DeactivateAll("g")
	if err != nil {
		t.Fatalf("deactivate all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 stored rows deactivated, got %d", n)
	}
	if reg.ActiveCount("g") != 0 {
		t.Fatalf("mirror rows still active")
	}
	if store.rows["g:c3:ghost"].IsActive {
		t.Fatalf("store-only row still active")
	}
}

func TestRegistryDeactivateUnknownKeyIsNoop(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(newFakeStore())
	if err := reg.Deactivate("g", Key{ChannelID: "c", PanelID: "missing"}); err != nil {
		t.Fatalf("deactivating an unknown key must be a no-op, got: %v", err)
	}
}
