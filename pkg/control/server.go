// Package control exposes a small operational HTTP surface: prometheus
// metrics, a status snapshot and a reconcile trigger.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/log"
	"github.com/small-frappuccino/productdock/pkg/metrics"
	"github.com/small-frappuccino/productdock/pkg/panel"
)

// DownloadCounter exposes audit aggregates for the status endpoint.
type DownloadCounter interface {
	CountDownloads(guildID string) (success int, failed int, err error)
}

// RefreshTrigger asks the runtime to reconcile all panels out of band.
type RefreshTrigger func()

// Server exposes operational controls for a running instance.
type Server struct {
	addr       string
	config     *files.ConfigManager
	registry   *panel.Registry
	downloads  DownloadCounter
	refresh    RefreshTrigger
	httpServer *http.Server
	listener   net.Listener
}

// NewServer returns nil if addr is empty; the control surface is opt-in.
func NewServer(addr string, config *files.ConfigManager, registry *panel.Registry, downloads DownloadCounter, refresh RefreshTrigger) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || config == nil {
		return nil
	}

	mux := http.NewServeMux()
	s := &Server{
		addr:      addr,
		config:    config,
		registry:  registry,
		downloads: downloads,
		refresh:   refresh,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/refresh", s.handleRefresh)

	return s
}

// Start opens the control server listening socket.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

type deploymentStatus struct {
	GuildID      string    `json:"guild_id"`
	ChannelID    string    `json:"channel_id"`
	PanelID      string    `json:"panel_id"`
	MessageID    string    `json:"message_id"`
	PanelType    string    `json:"panel_type"`
	ProductCount int       `json:"product_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]any{
		"config_available": s.config.Available(),
		"panels":           len(s.config.PanelSpecs()),
	}

	if s.registry != nil {
		active := s.registry.Active()
		deployments := make([]deploymentStatus, 0, len(active))
		guilds := make(map[string]struct{})
		for _, d := range active {
			guilds[d.GuildID] = struct{}{}
			deployments = append(deployments, deploymentStatus{
				GuildID:      d.GuildID,
				ChannelID:    d.ChannelID,
				PanelID:      d.PanelID,
				MessageID:    d.MessageID,
				PanelType:    d.PanelType,
				ProductCount: d.ProductCount,
				LastUpdated:  d.LastUpdated,
			})
		}
		status["deployments"] = deployments

		if s.downloads != nil {
			totals := map[string]any{}
			for guildID := range guilds {
				if ok, failed, err := s.downloads.CountDownloads(guildID); err == nil {
					totals[guildID] = map[string]int{"delivered": ok, "denied_or_failed": failed}
				}
			}
			status["downloads"] = totals
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.ApplicationLogger().Error("Failed to encode status response", "err", err)
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.refresh == nil {
		http.Error(w, "refresh not wired", http.StatusServiceUnavailable)
		return
	}

	s.refresh()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "refresh scheduled"}); err != nil {
		log.ApplicationLogger().Error("Failed to encode refresh response", "err", err)
	}
}
