package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/panel"
	"github.com/small-frappuccino/productdock/pkg/storage"
)

type fakeConfig struct {
	unavailable bool
	dir         string
	logging     files.LoggingSettings
	spec        files.PanelSpec
}

func (fc *fakeConfig) Available() bool { return !fc.unavailable }

func (fc *fakeConfig) PanelByID(id string) (files.PanelSpec, bool) {
	if id != fc.spec.ID {
		return files.PanelSpec{}, false
	}
	return fc.spec, true
}

func (fc *fakeConfig) ProductByID(panelID, productID string) (files.Product, bool, bool) {
	if panelID != fc.spec.ID {
		return files.Product{}, false, false
	}
	for _, p := range fc.spec.Panel.Products {
		if p.ID == productID {
			return p, true, p.Enabled
		}
	}
	return files.Product{}, false, false
}

func (fc *fakeConfig) ProductsDir() string            { return fc.dir }
func (fc *fakeConfig) Logging() files.LoggingSettings { return fc.logging }

type fakeAudit struct {
	rows []storage.DownloadRecord
	err  error
}

func (fa *fakeAudit) InsertDownload(rec storage.DownloadRecord) error {
	if fa.err != nil {
		return fa.err
	}
	fa.rows = append(fa.rows, rec)
	return nil
}

type fakeNotifier struct {
	calls int
	last  storage.DownloadRecord
}

func (fn *fakeNotifier) NotifyDownload(rec storage.DownloadRecord) {
	fn.calls++
	fn.last = rec
}

// newTestService lays out a products dir with one real file and a config
// exposing open, gated, disabled and missing-file products.
func newTestService(t *testing.T) (*Service, *fakeConfig, *fakeAudit) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "open.zip"), []byte("payload!"), 0o644); err != nil {
		t.Fatalf("write product file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "gated.zip"), []byte("secret"), 0o644); err != nil {
		t.Fatalf("write product file: %v", err)
	}

	cfg := &fakeConfig{
		dir:     dir,
		logging: files.LoggingSettings{TrackDownloads: true},
		spec: files.PanelSpec{
			ID:   "store",
			Type: files.PanelTypeModern,
			Panel: files.Panel{
				Enabled: true,
				Name:    "Store",
				Products: []files.Product{
					{ID: "open", Name: "Open", FilePath: "open.zip", Enabled: true},
					{ID: "gated", Name: "Gated", FilePath: "gated.zip", RequiredRoles: []string{"vip"}, Enabled: true},
					{ID: "off", Name: "Off", FilePath: "open.zip", Enabled: false},
					{ID: "ghost", Name: "Ghost", FilePath: "nope.zip", Enabled: true},
					{ID: "sneaky", Name: "Sneaky", FilePath: "../outside.zip", Enabled: true},
					{ID: "rooted", Name: "Rooted", FilePath: "/etc/passwd", Enabled: true},
				},
			},
		},
	}
	audit := &fakeAudit{}
	return NewService(cfg, audit, nil), cfg, audit
}

func request(productID string, roles ...string) Request {
	return Request{
		GuildID:   "g",
		ChannelID: "c",
		PanelID:   "store",
		ProductID: productID,
		UserID:    "u",
		Username:  "tester",
		UserRoles: roles,
		Source:    "channel",
	}
}

func TestAuthorizeOpenProduct(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	res, err := svc.Authorize(request("open"))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if res.Product.ID != "open" {
		t.Fatalf("wrong product: %+v", res.Product)
	}
	if res.FileSize != int64(len("payload!")) {
		t.Fatalf("file size: %d", res.FileSize)
	}
}

func TestAuthorizeRoleGate(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	if _, err := svc.Authorize(request("gated")); !errors.Is(err, panel.ErrRoleDenied) {
		t.Fatalf("expected ErrRoleDenied, got: %v", err)
	}
	if _, err := svc.Authorize(request("gated", "other", "vip")); err != nil {
		t.Fatalf("holder of a required role denied: %v", err)
	}
}

func TestAuthorizeFailures(t *testing.T) {
	t.Parallel()

	svc, cfg, _ := newTestService(t)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown panel", Request{PanelID: "nope", ProductID: "open"}, panel.ErrPanelNotFound},
		{"unknown product", request("zz"), panel.ErrProductNotFound},
		{"disabled product", request("off"), panel.ErrProductDisabled},
		{"missing file", request("ghost"), panel.ErrFileUnavailable},
		{"traversing path", request("sneaky"), panel.ErrFileUnavailable},
		{"absolute path", request("rooted"), panel.ErrFileUnavailable},
	}
	for _, tc := range cases {
		if _, err := svc.Authorize(tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got: %v", tc.name, tc.want, err)
		}
	}

	cfg.unavailable = true
	if _, err := svc.Authorize(request("open")); !errors.Is(err, panel.ErrConfigUnavailable) {
		t.Fatalf("expected ErrConfigUnavailable, got: %v", err)
	}
}

func TestProcessWritesOneAuditRow(t *testing.T) {
	t.Parallel()

	svc, _, audit := newTestService(t)

	if _, err := svc.Process(context.Background(), request("open")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(audit.rows) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(audit.rows))
	}
	row := audit.rows[0]
	if !row.Success || row.ErrorMessage != "" {
		t.Fatalf("success row mismatch: %+v", row)
	}
	if row.ProductName != "Open" || row.PanelType != "modern" || row.FileSize == 0 {
		t.Fatalf("audit row incomplete: %+v", row)
	}
}

func TestProcessAuditsDenials(t *testing.T) {
	t.Parallel()

	svc, _, audit := newTestService(t)

	if _, err := svc.Process(context.Background(), request("gated")); !errors.Is(err, panel.ErrRoleDenied) {
		t.Fatalf("expected ErrRoleDenied, got: %v", err)
	}
	if len(audit.rows) != 1 {
		t.Fatalf("denial must write exactly one audit row, got %d", len(audit.rows))
	}
	row := audit.rows[0]
	if row.Success {
		t.Fatalf("denial recorded as success: %+v", row)
	}
	if row.ErrorMessage != "RoleDenied" {
		t.Fatalf("error kind: %q", row.ErrorMessage)
	}
}

func TestProcessWithTrackingDisabled(t *testing.T) {
	t.Parallel()

	svc, cfg, audit := newTestService(t)
	cfg.logging.TrackDownloads = false

	if _, err := svc.Process(context.Background(), request("open")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(audit.rows) != 0 {
		t.Fatalf("tracking disabled must write no rows, got %d", len(audit.rows))
	}
}

func TestProcessNotifiesLogChannel(t *testing.T) {
	t.Parallel()

	svc, cfg, _ := newTestService(t)
	notifier := &fakeNotifier{}
	svc.notifier = notifier
	cfg.logging.LogToChannel = true
	cfg.logging.LogChannelID = "log-chan"

	if _, err := svc.Process(context.Background(), request("open")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.calls)
	}
	if notifier.last.ProductID != "open" {
		t.Fatalf("notification record: %+v", notifier.last)
	}

	// Notifications follow the logging switch, not just the notifier wiring.
	cfg.logging.LogToChannel = false
	if _, err := svc.Process(context.Background(), request("open")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if notifier.calls != 1 {
		t.Fatalf("log_to_channel off must suppress notifications, got %d", notifier.calls)
	}
}

func TestProcessCancelledContext(t *testing.T) {
	t.Parallel()

	svc, _, audit := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Process(ctx, request("open")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if len(audit.rows) != 0 {
		t.Fatalf("cancelled request must not audit, got %d rows", len(audit.rows))
	}
}

func TestRoleSatisfied(t *testing.T) {
	t.Parallel()

	if !roleSatisfied(nil, nil) {
		t.Fatalf("no requirement must be open")
	}
	if roleSatisfied([]string{"vip"}, []string{"pleb"}) {
		t.Fatalf("missing role must deny")
	}
	if !roleSatisfied([]string{"vip", "mod"}, []string{"mod"}) {
		t.Fatalf("any one required role must suffice")
	}
}
