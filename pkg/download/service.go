// Package download authorizes and fulfills product download requests coming
// from panel button presses.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/log"
	"github.com/small-frappuccino/productdock/pkg/metrics"
	"github.com/small-frappuccino/productdock/pkg/panel"
	"github.com/small-frappuccino/productdock/pkg/storage"
)

// ConfigSource is the configuration slice the service reads.
// *files.ConfigManager implements it.
type ConfigSource interface {
	Available() bool
	PanelByID(id string) (files.PanelSpec, bool)
	ProductByID(panelID, productID string) (files.Product, bool, bool)
	ProductsDir() string
	Logging() files.LoggingSettings
}

// AuditStore records download attempts. *storage.Store implements it.
type AuditStore interface {
	InsertDownload(rec storage.DownloadRecord) error
}

// Notifier posts a download notification to the configured log channel.
// A nil Notifier disables channel notifications.
type Notifier interface {
	NotifyDownload(rec storage.DownloadRecord)
}

// Request is one download button press after token decoding.
type Request struct {
	GuildID   string
	ChannelID string
	PanelID   string
	ProductID string
	UserID    string
	Username  string
	UserRoles []string
	// Source is "channel" for public panel buttons and "personal" for
	// user-scoped panels.
	Source string
}

// Result is an authorized download ready to be delivered.
type Result struct {
	Product  files.Product
	FilePath string
	FileSize int64
}

// Service gates downloads behind configuration and roles and writes exactly
// one audit row per attempt.
type Service struct {
	cfg      ConfigSource
	store    AuditStore
	notifier Notifier
}

// NewService wires a download service. notifier may be nil.
func NewService(cfg ConfigSource, store AuditStore, notifier Notifier) *Service {
	return &Service{cfg: cfg, store: store, notifier: notifier}
}

// Authorize checks a request against configuration, roles and the products
// directory without recording anything. Checks run cheapest-first and the
// first failure wins.
func (s *Service) Authorize(req Request) (Result, error) {
	if !s.cfg.Available() {
		return Result{}, panel.ErrConfigUnavailable
	}
	spec, ok := s.cfg.PanelByID(req.PanelID)
	if !ok {
		return Result{}, panel.ErrPanelNotFound
	}
	product, found, enabled := s.cfg.ProductByID(spec.ID, req.ProductID)
	if !found {
		return Result{}, panel.ErrProductNotFound
	}
	if !enabled {
		return Result{}, panel.ErrProductDisabled
	}
	if !roleSatisfied(product.RequiredRoles, req.UserRoles) {
		return Result{}, panel.ErrRoleDenied
	}

	path, err := resolveProductPath(s.cfg.ProductsDir(), product.FilePath)
	if err != nil {
		return Result{}, err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		log.ApplicationLogger().Warn("Product file missing on disk",
			"panel", req.PanelID, "product", req.ProductID, "path", path)
		return Result{}, panel.ErrFileUnavailable
	}

	return Result{Product: product, FilePath: path, FileSize: info.Size()}, nil
}

// Process authorizes the request and records the attempt. Exactly one audit
// row is written per call, success or not, when tracking is enabled. The
// returned error carries the authorization failure; the caller derives the
// user-facing reply from panel.KindOf.
func (s *Service) Process(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res, err := s.Authorize(req)
	s.audit(req, res, err)
	return res, err
}

func (s *Service) audit(req Request, res Result, authErr error) {
	result := metricResult(authErr)
	metrics.Downloads.WithLabelValues(result).Inc()

	if !s.cfg.Logging().TrackDownloads {
		return
	}

	rec := storage.DownloadRecord{
		GuildID:      req.GuildID,
		UserID:       req.UserID,
		Username:     req.Username,
		ProductID:    req.ProductID,
		ProductName:  res.Product.Name,
		PanelID:      req.PanelID,
		Source:       req.Source,
		ChannelID:    req.ChannelID,
		FileSize:     res.FileSize,
		UserRoles:    req.UserRoles,
		Success:      authErr == nil,
		ErrorMessage: panel.KindOf(authErr),
		Timestamp:    time.Now().UTC(),
	}
	if spec, ok := s.cfg.PanelByID(req.PanelID); ok {
		rec.PanelType = string(spec.Type)
	}
	if err := s.store.InsertDownload(rec); err != nil {
		log.DatabaseLogger().Error("Download audit write failed",
			"user", req.UserID, "product", req.ProductID, "error", err)
	}

	if s.notifier != nil && s.cfg.Logging().LogToChannel {
		s.notifier.NotifyDownload(rec)
	}
}

// roleSatisfied reports whether the user may download the product. An empty
// requirement set means open to everyone.
func roleSatisfied(required, held []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range held {
			if want == have {
				return true
			}
		}
	}
	return false
}

// resolveProductPath confines a configured relative path to the products
// directory. Anything escaping the directory is rejected as unavailable
// rather than leaked as a distinct error.
func resolveProductPath(dir, rel string) (string, error) {
	if dir == "" || rel == "" || filepath.IsAbs(rel) {
		return "", panel.ErrFileUnavailable
	}
	abs := filepath.Join(dir, rel)
	inside, err := filepath.Rel(dir, abs)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes products directory: %w", panel.ErrFileUnavailable)
	}
	return abs, nil
}

func metricResult(err error) string {
	switch panel.KindOf(err) {
	case "":
		return "success"
	case "RoleDenied":
		return "role_denied"
	case "PanelNotFound", "ProductNotFound":
		return "not_found"
	case "ProductDisabled":
		return "disabled"
	case "FileUnavailable":
		return "file_unavailable"
	default:
		return "error"
	}
}
