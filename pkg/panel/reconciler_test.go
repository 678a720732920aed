package panel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/small-frappuccino/productdock/pkg/files"
)

// fakeConfig implements ConfigSource over a panel map.
type fakeConfig struct {
	unavailable bool
	specs       map[string]files.PanelSpec
}

func newFakeConfig(specs ...files.PanelSpec) *fakeConfig {
	fc := &fakeConfig{specs: make(map[string]files.PanelSpec)}
	for _, s := range specs {
		fc.specs[s.ID] = s
	}
	return fc
}

func (fc *fakeConfig) Available() bool { return !fc.unavailable }

func (fc *fakeConfig) PanelByID(id string) (files.PanelSpec, bool) {
	s, ok := fc.specs[id]
	return s, ok
}

func (fc *fakeConfig) PanelSpecs() []files.PanelSpec {
	out := make([]files.PanelSpec, 0, len(fc.specs))
	for _, s := range fc.specs {
		out = append(out, s)
	}
	return out
}

// fakeMessenger records platform calls in memory.
type fakeMessenger struct {
	nextID   int
	messages map[string]map[string]*RenderedPanel // channel -> message -> content

	sendErr    error
	canPostErr error

	sends, edits, deletes int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{messages: make(map[string]map[string]*RenderedPanel)}
}

func (fm *fakeMessenger) SendPanel(_ context.Context, channelID string, r *RenderedPanel) (string, error) {
	if fm.sendErr != nil {
		return "", fm.sendErr
	}
	fm.sends++
	fm.nextID++
	id := fmt.Sprintf("msg-%d", fm.nextID)
	if fm.messages[channelID] == nil {
		fm.messages[channelID] = make(map[string]*RenderedPanel)
	}
	fm.messages[channelID][id] = r
	return id, nil
}

func (fm *fakeMessenger) EditPanel(_ context.Context, channelID, messageID string, r *RenderedPanel) error {
	if _, ok := fm.messages[channelID][messageID]; !ok {
		return ErrMessageNotFound
	}
	fm.edits++
	fm.messages[channelID][messageID] = r
	return nil
}

func (fm *fakeMessenger) PanelMessageExists(_ context.Context, channelID, messageID string) (bool, error) {
	_, ok := fm.messages[channelID][messageID]
	return ok, nil
}

func (fm *fakeMessenger) DeleteMessage(_ context.Context, channelID, messageID string) error {
	if _, ok := fm.messages[channelID][messageID]; !ok {
		return ErrMessageNotFound
	}
	fm.deletes++
	delete(fm.messages[channelID], messageID)
	return nil
}

func (fm *fakeMessenger) CanPost(string) error { return fm.canPostErr }

func (fm *fakeMessenger) deleteAll(channelID string) {
	fm.messages[channelID] = make(map[string]*RenderedPanel)
}

func storeSpec(id string, products ...files.Product) files.PanelSpec {
	if len(products) == 0 {
		products = []files.Product{{ID: "p1", Name: "P1", Enabled: true}}
	}
	return files.PanelSpec{
		ID:   id,
		Type: files.PanelTypeModern,
		Panel: files.Panel{
			Enabled:  true,
			Name:     id,
			Title:    "Downloads",
			Products: products,
		},
	}
}

func newTestReconciler(cfg ConfigSource) (*Reconciler, *Registry, *fakeMessenger) {
	reg := NewRegistry(newFakeStore())
	msgr := newFakeMessenger()
	return NewReconciler(cfg, reg, msgr), reg, msgr
}

func TestSetupDeploysPanel(t *testing.T) {
	t.Parallel()

	rec, reg, msgr := newTestReconciler(newFakeConfig(storeSpec("store")))

	dep, err := rec.Setup(context.Background(), "g", "chan", "store")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if dep.MessageID == "" || !dep.IsActive {
		t.Fatalf("unexpected deployment: %+v", dep)
	}
	if dep.Fingerprint == "" {
		t.Fatalf("deployment missing fingerprint")
	}
	if msgr.sends != 1 {
		t.Fatalf("expected one send, got %d", msgr.sends)
	}
	if _, ok := reg.Get(Key{ChannelID: "chan", PanelID: "store"}); !ok {
		t.Fatalf("deployment not registered")
	}
}

func TestSetupRejectsDuplicate(t *testing.T) {
	t.Parallel()

	rec, _, msgr := newTestReconciler(newFakeConfig(storeSpec("store")))

	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); err != nil {
		t.Fatalf("first setup: %v", err)
	}
	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got: %v", err)
	}
	if msgr.sends != 1 {
		t.Fatalf("duplicate setup must not send, got %d sends", msgr.sends)
	}
}

func TestSetupRedeploysOverStaleRow(t *testing.T) {
	t.Parallel()

	rec, _, msgr := newTestReconciler(newFakeConfig(storeSpec("store")))

	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); err != nil {
		t.Fatalf("first setup: %v", err)
	}
	// Someone deleted the message behind our back; the row is stale and must
	// not block a fresh setup.
	msgr.deleteAll("chan")

	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); err != nil {
		t.Fatalf("setup over stale row: %v", err)
	}
	if msgr.sends != 2 {
		t.Fatalf("expected redeploy send, got %d sends", msgr.sends)
	}
}

func TestSetupErrors(t *testing.T) {
	t.Parallel()

	empty := storeSpec("empty")
	empty.Panel.Products = []files.Product{{ID: "off", Name: "Off", Enabled: false}}
	cfg := newFakeConfig(storeSpec("store"), empty)

	t.Run("unknown panel", func(t *testing.T) {
		rec, _, _ := newTestReconciler(cfg)
		if _, err := rec.Setup(context.Background(), "g", "chan", "nope"); !errors.Is(err, ErrPanelNotFound) {
			t.Fatalf("expected ErrPanelNotFound, got: %v", err)
		}
	})

	t.Run("no enabled products", func(t *testing.T) {
		rec, _, _ := newTestReconciler(cfg)
		if _, err := rec.Setup(context.Background(), "g", "chan", "empty"); !errors.Is(err, ErrEmptyPanel) {
			t.Fatalf("expected ErrEmptyPanel, got: %v", err)
		}
	})

	t.Run("cannot post", func(t *testing.T) {
		rec, _, msgr := newTestReconciler(cfg)
		msgr.canPostErr = ErrPermissionDenied
		if _, err := rec.Setup(context.Background(), "g", "chan", "store"); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got: %v", err)
		}
	})

	t.Run("config unavailable", func(t *testing.T) {
		broken := newFakeConfig(storeSpec("store"))
		broken.unavailable = true
		rec, _, _ := newTestReconciler(broken)
		if _, err := rec.Setup(context.Background(), "g", "chan", "store"); !errors.Is(err, ErrConfigUnavailable) {
			t.Fatalf("expected ErrConfigUnavailable, got: %v", err)
		}
	})
}

func TestRefreshNoopWhenUnchanged(t *testing.T) {
	t.Parallel()

	rec, _, msgr := newTestReconciler(newFakeConfig(storeSpec("store")))
	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	action, err := rec.Refresh(context.Background(), "g", Key{ChannelID: "chan", PanelID: "store"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if action != "noop" {
		t.Fatalf("expected noop, got %q", action)
	}
	if msgr.edits != 0 || msgr.sends != 1 {
		t.Fatalf("noop must not touch the platform: edits=%d sends=%d", msgr.edits, msgr.sends)
	}
}

func TestRefreshEditsOnDrift(t *testing.T) {
	t.Parallel()

	cfg := newFakeConfig(storeSpec("store"))
	rec, reg, msgr := newTestReconciler(cfg)
	dep, err := rec.Setup(context.Background(), "g", "chan", "store")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	drifted := storeSpec("store")
	drifted.Panel.Title = "New Title"
	cfg.specs["store"] = drifted

	action, err := rec.Refresh(context.Background(), "g", Key{ChannelID: "chan", PanelID: "store"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if action != "update" {
		t.Fatalf("expected update, got %q", action)
	}
	if msgr.edits != 1 {
		t.Fatalf("expected in-place edit, got %d edits and %d sends", msgr.edits, msgr.sends)
	}

	updated, _ := reg.Get(Key{ChannelID: "chan", PanelID: "store"})
	if updated.MessageID != dep.MessageID {
		t.Fatalf("in-place update must keep the message id")
	}
	if updated.Fingerprint == dep.Fingerprint {
		t.Fatalf("fingerprint not refreshed after update")
	}
}

func TestRefreshRecreatesMissingMessage(t *testing.T) {
	t.Parallel()

	rec, reg, msgr := newTestReconciler(newFakeConfig(storeSpec("store")))
	dep, err := rec.Setup(context.Background(), "g", "chan", "store")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	msgr.deleteAll("chan")

	action, err := rec.Refresh(context.Background(), "g", Key{ChannelID: "chan", PanelID: "store"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if action != "recreate" {
		t.Fatalf("expected recreate, got %q", action)
	}

	recreated, _ := reg.Get(Key{ChannelID: "chan", PanelID: "store"})
	if recreated.MessageID == dep.MessageID {
		t.Fatalf("recreate must register the new message id")
	}
	if !recreated.IsActive {
		t.Fatalf("recreated deployment must be active")
	}
}

func TestRefreshRetiresUnconfiguredPanel(t *testing.T) {
	t.Parallel()

	cfg := newFakeConfig(storeSpec("store"))
	rec, reg, msgr := newTestReconciler(cfg)
	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	delete(cfg.specs, "store")

	action, err := rec.Refresh(context.Background(), "g", Key{ChannelID: "chan", PanelID: "store"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if action != "retire" {
		t.Fatalf("expected retire, got %q", action)
	}
	if msgr.deletes != 1 {
		t.Fatalf("retire must delete the message")
	}
	if dep, _ := reg.Get(Key{ChannelID: "chan", PanelID: "store"}); dep.IsActive {
		t.Fatalf("retired deployment still active")
	}
}

func TestRefreshUnknownDeployment(t *testing.T) {
	t.Parallel()

	rec, _, _ := newTestReconciler(newFakeConfig(storeSpec("store")))
	if _, err := rec.Refresh(context.Background(), "g", Key{ChannelID: "chan", PanelID: "store"}); !errors.Is(err, ErrPanelNotFound) {
		t.Fatalf("expected ErrPanelNotFound, got: %v", err)
	}
}

func TestOperationsAreMutuallyExclusivePerKey(t *testing.T) {
	t.Parallel()

	rec, _, _ := newTestReconciler(newFakeConfig(storeSpec("store")))
	key := Key{ChannelID: "chan", PanelID: "store"}

	if !rec.tryAcquire(key) {
		t.Fatalf("acquire on free key failed")
	}
	defer rec.release(key)

	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from setup, got: %v", err)
	}
	if _, err := rec.Refresh(context.Background(), "g", key); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from refresh, got: %v", err)
	}

	// A different key is unaffected.
	if _, err := rec.Setup(context.Background(), "g", "other-chan", "store"); err != nil {
		t.Fatalf("other key should be free: %v", err)
	}
}

func TestClearSummary(t *testing.T) {
	t.Parallel()

	cfg := newFakeConfig(storeSpec("a"), storeSpec("b"))
	rec, reg, msgr := newTestReconciler(cfg)

	if _, err := rec.Setup(context.Background(), "g", "chan1", "a"); err != nil {
		t.Fatalf("setup a: %v", err)
	}
	if _, err := rec.Setup(context.Background(), "g", "chan2", "b"); err != nil {
		t.Fatalf("setup b: %v", err)
	}
	// One message already gone: retired silently, not counted as removed.
	msgr.deleteAll("chan2")

	summary := rec.Clear(context.Background(), "g", "", "")
	if summary.Removed != 1 {
		t.Fatalf("expected 1 removed, got %d", summary.Removed)
	}
	if summary.Errors != 0 {
		t.Fatalf("expected no errors, got %d", summary.Errors)
	}
	if summary.ChannelsAffected != 2 {
		t.Fatalf("expected 2 channels affected, got %d", summary.ChannelsAffected)
	}
	if reg.ActiveCount("g") != 0 {
		t.Fatalf("clear must deactivate all deployments")
	}
}

func TestClearScopedToChannel(t *testing.T) {
	t.Parallel()

	cfg := newFakeConfig(storeSpec("a"), storeSpec("b"))
	rec, reg, _ := newTestReconciler(cfg)

	if _, err := rec.Setup(context.Background(), "g", "chan1", "a"); err != nil {
		t.Fatalf("setup a: %v", err)
	}
	if _, err := rec.Setup(context.Background(), "g", "chan2", "b"); err != nil {
		t.Fatalf("setup b: %v", err)
	}

	summary := rec.Clear(context.Background(), "g", "chan1", "")
	if summary.Removed != 1 || summary.ChannelsAffected != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if dep, _ := reg.Get(Key{ChannelID: "chan2", PanelID: "b"}); !dep.IsActive {
		t.Fatalf("panel outside the target channel must stay deployed")
	}
}

func TestClearScopedToPanel(t *testing.T) {
	t.Parallel()

	cfg := newFakeConfig(storeSpec("a"), storeSpec("b"))
	rec, reg, _ := newTestReconciler(cfg)

	if _, err := rec.Setup(context.Background(), "g", "chan1", "a"); err != nil {
		t.Fatalf("setup a: %v", err)
	}
	if _, err := rec.Setup(context.Background(), "g", "chan1", "b"); err != nil {
		t.Fatalf("setup b: %v", err)
	}

	summary := rec.Clear(context.Background(), "g", "", "a")
	if summary.Removed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if dep, _ := reg.Get(Key{ChannelID: "chan1", PanelID: "b"}); !dep.IsActive {
		t.Fatalf("other panel must stay deployed")
	}
}

func TestAutoDeployPinnedPanels(t *testing.T) {
	t.Parallel()

	pinned := storeSpec("pinned")
	pinned.Panel.ChannelID = "home"
	floating := storeSpec("floating")
	rec, reg, msgr := newTestReconciler(newFakeConfig(pinned, floating))

	rec.AutoDeploy(context.Background(), "g")

	if _, ok := reg.Get(Key{ChannelID: "home", PanelID: "pinned"}); !ok {
		t.Fatalf("pinned panel not auto-deployed")
	}
	if msgr.sends != 1 {
		t.Fatalf("only the pinned panel should deploy, got %d sends", msgr.sends)
	}

	// Second pass is idempotent.
	rec.AutoDeploy(context.Background(), "g")
	if msgr.sends != 1 {
		t.Fatalf("auto-deploy must not duplicate, got %d sends", msgr.sends)
	}
}

func TestSetupChecksPermissionBeforeProducts(t *testing.T) {
	t.Parallel()

	empty := storeSpec("empty")
	empty.Panel.Products = []files.Product{{ID: "off", Name: "Off", Enabled: false}}
	rec, _, msgr := newTestReconciler(newFakeConfig(empty))
	msgr.canPostErr = ErrPermissionDenied

	// A channel the bot cannot post in must surface the permission problem
	// even when the panel would be rejected as empty anyway.
	_, err := rec.Setup(context.Background(), "g", "chan", "empty")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got: %v", err)
	}
}

func TestRefreshDeactivatesWhenRecreateFails(t *testing.T) {
	t.Parallel()

	rec, reg, msgr := newTestReconciler(newFakeConfig(storeSpec("store")))
	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); err != nil {
		t.Fatalf("setup: %v", err)
	}

	msgr.deleteAll("chan")
	msgr.sendErr = errors.New("channel gone")

	if _, err := rec.Refresh(context.Background(), "g", Key{ChannelID: "chan", PanelID: "store"}); err == nil {
		t.Fatalf("expected refresh to fail")
	}

	// The row must not stay active, or every tick retries the send.
	dep, ok := reg.Get(Key{ChannelID: "chan", PanelID: "store"})
	if !ok {
		t.Fatalf("deployment missing from mirror")
	}
	if dep.IsActive {
		t.Fatalf("failed recreate left the deployment active")
	}

	// A later setup can reactivate once the channel works again.
	msgr.sendErr = nil
	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); err != nil {
		t.Fatalf("setup after recovery: %v", err)
	}
}

func TestRefreshAllSummary(t *testing.T) {
	t.Parallel()

	cfg := newFakeConfig(storeSpec("a"), storeSpec("b"), storeSpec("c"))
	rec, _, msgr := newTestReconciler(cfg)

	for i, id := range []string{"a", "b", "c"} {
		if _, err := rec.Setup(context.Background(), "g", fmt.Sprintf("chan%d", i), id); err != nil {
			t.Fatalf("setup %s: %v", id, err)
		}
	}

	// Panel a drifted, panel b is unchanged, panel c lost its message and
	// cannot be re-sent.
	drifted := storeSpec("a")
	drifted.Panel.Title = "New Title"
	cfg.specs["a"] = drifted
	msgr.deleteAll("chan2")
	msgr.sendErr = errors.New("send rejected")

	summary := rec.RefreshAll(context.Background(), "g")
	if summary.Updated != 1 {
		t.Fatalf("expected 1 updated, got %d", summary.Updated)
	}
	if summary.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", summary.Errors)
	}
}

func TestClearAllSweepsStore(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	reg := NewRegistry(store)
	msgr := newFakeMessenger()
	rec := NewReconciler(newFakeConfig(storeSpec("store")), reg, msgr)

	if _, err := rec.Setup(context.Background(), "g", "chan", "store"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	// An active store row the mirror does not know about, as after a
	// degraded load.
	store.rows["g:lost-chan:lost"] = testDeployment("g", "lost-chan", "lost")

	summary := rec.Clear(context.Background(), "g", "", "")
	if summary.Errors != 0 {
		t.Fatalf("unexpected errors: %+v", summary)
	}
	if store.deactivateAllCalls != 1 {
		t.Fatalf("full clear must sweep the store, got %d sweeps", store.deactivateAllCalls)
	}
	if store.rows["g:lost-chan:lost"].IsActive {
		t.Fatalf("store-only row survived the sweep")
	}
}

func TestScopedClearDoesNotSweepStore(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	reg := NewRegistry(store)
	msgr := newFakeMessenger()
	rec := NewReconciler(newFakeConfig(storeSpec("a"), storeSpec("b")), reg, msgr)

	if _, err := rec.Setup(context.Background(), "g", "chan1", "a"); err != nil {
		t.Fatalf("setup a: %v", err)
	}
	if _, err := rec.Setup(context.Background(), "g", "chan2", "b"); err != nil {
		t.Fatalf("setup b: %v", err)
	}

	rec.Clear(context.Background(), "g", "chan1", "")
	if store.deactivateAllCalls != 0 {
		t.Fatalf("scoped clear must not sweep the store")
	}
	if !store.rows["g:chan2:b"].IsActive {
		t.Fatalf("row outside the scope was deactivated")
	}
}
