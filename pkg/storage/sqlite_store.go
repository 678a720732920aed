package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps an embedded SQLite database holding the durable panel registry
// and the append-only download audit log. It uses modernc.org/sqlite for
// CGO-less builds. The registry rows survive restarts and are the source of
// truth the in-memory mirror is rebuilt from.
type Store struct {
	dbPath string
	db     *sql.DB
}

// NewStore creates a new Store pointing to dbPath. Call Init() before using it.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *Store) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return fmt.Errorf("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	// Pragmas for durability and concurrency
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA synchronous=NORMAL;`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Deployment is one persisted registry row: the association between a
// (guild, channel, panel) triple and the live panel message posted for it.
// Rows are soft-deleted via IsActive, never removed.
type Deployment struct {
	GuildID      string
	ChannelID    string
	PanelID      string
	MessageID    string
	PanelType    string
	PanelName    string
	Fingerprint  string
	ProductCount int
	CreatedAt    time.Time
	LastUpdated  time.Time
	IsActive     bool
}

// Key returns the natural key of the row.
func (d Deployment) Key() string {
	return d.GuildID + ":" + d.ChannelID + ":" + d.PanelID
}

// DownloadRecord is one audit row for a download attempt, successful or not.
// Rows are append-only; this package never updates or deletes them.
type DownloadRecord struct {
	GuildID      string
	UserID       string
	Username     string
	ProductID    string
	ProductName  string
	PanelID      string
	PanelType    string
	Source       string // "personal" or "channel"
	ChannelID    string
	FileSize     int64
	UserRoles    []string
	Success      bool
	ErrorMessage string
	Timestamp    time.Time
}

// LoadDeployments fetches all active registry rows for the given guilds.
// An empty guild list returns no rows.
func (s *Store) LoadDeployments(guildIDs []string) ([]Deployment, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	if len(guildIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(guildIDs)), ",")
	args := make([]any, len(guildIDs))
	for i, g := range guildIDs {
		args[i] = g
	}

	rows, err := s.db.Query(
		`SELECT guild_id, channel_id, panel_id, message_id, panel_type, panel_name,
		        fingerprint, product_count, created_at, last_updated, is_active
		 FROM panel_deployments
		 WHERE is_active = 1 AND guild_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(
			&d.GuildID, &d.ChannelID, &d.PanelID, &d.MessageID, &d.PanelType, &d.PanelName,
			&d.Fingerprint, &d.ProductCount, &d.CreatedAt, &d.LastUpdated, &d.IsActive,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertDeployment sets the row active with the given message id and
// fingerprint, creating it if absent. Atomic per key.
func (s *Store) UpsertDeployment(d Deployment) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if d.GuildID == "" || d.ChannelID == "" || d.PanelID == "" {
		return fmt.Errorf("deployment key incomplete")
	}
	now := time.Now().UTC()
	created := d.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := d.LastUpdated
	if updated.IsZero() {
		updated = now
	}

	_, err := s.db.Exec(
		`INSERT INTO panel_deployments
		   (guild_id, channel_id, panel_id, message_id, panel_type, panel_name,
		    fingerprint, product_count, created_at, last_updated, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		 ON CONFLICT(guild_id, channel_id, panel_id) DO UPDATE SET
		   message_id=excluded.message_id,
		   panel_type=excluded.panel_type,
		   panel_name=excluded.panel_name,
		   fingerprint=excluded.fingerprint,
		   product_count=excluded.product_count,
		   last_updated=excluded.last_updated,
		   is_active=1`,
		d.GuildID, d.ChannelID, d.PanelID, d.MessageID, d.PanelType, d.PanelName,
		d.Fingerprint, d.ProductCount, created, updated,
	)
	return err
}

// DeactivateDeployment soft-deletes a row. A missing row is a no-op.
func (s *Store) DeactivateDeployment(guildID, channelID, panelID string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(
		`UPDATE panel_deployments SET is_active=0, last_updated=?
		 WHERE guild_id=? AND channel_id=? AND panel_id=?`,
		time.Now().UTC(), guildID, channelID, panelID,
	)
	return err
}

// DeactivateAllDeployments soft-deletes every active row for the given guilds
// and returns the number of rows affected.
func (s *Store) DeactivateAllDeployments(guildIDs []string) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	if len(guildIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(guildIDs)), ",")
	args := []any{time.Now().UTC()}
	for _, g := range guildIDs {
		args = append(args, g)
	}
	res, err := s.db.Exec(
		`UPDATE panel_deployments SET is_active=0, last_updated=?
		 WHERE is_active=1 AND guild_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountActiveDeployments returns the number of active rows for a guild.
func (s *Store) CountActiveDeployments(guildID string) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	row := s.db.QueryRow(
		`SELECT COUNT(*) FROM panel_deployments WHERE guild_id=? AND is_active=1`,
		guildID,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// InsertDownload appends one audit row. Roles are stored comma-joined.
func (s *Store) InsertDownload(rec DownloadRecord) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if rec.GuildID == "" || rec.UserID == "" || rec.ProductID == "" {
		return fmt.Errorf("download record incomplete")
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO product_downloads
		   (guild_id, user_id, username, product_id, product_name, panel_id, panel_type,
		    source, channel_id, file_size, user_roles, success, error_message, download_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.GuildID, rec.UserID, rec.Username, rec.ProductID, rec.ProductName, rec.PanelID,
		rec.PanelType, rec.Source, rec.ChannelID, rec.FileSize,
		strings.Join(rec.UserRoles, ","), rec.Success, rec.ErrorMessage, ts,
	)
	return err
}

// CountDownloads returns the number of audit rows for a guild, split by outcome.
func (s *Store) CountDownloads(guildID string) (success int, failed int, err error) {
	if s.db == nil {
		return 0, 0, fmt.Errorf("store not initialized")
	}
	rows, err := s.db.Query(
		`SELECT success, COUNT(*) FROM product_downloads WHERE guild_id=? GROUP BY success`,
		guildID,
	)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var ok bool
		var n int
		if err := rows.Scan(&ok, &n); err != nil {
			return 0, 0, err
		}
		if ok {
			success = n
		} else {
			failed = n
		}
	}
	return success, failed, rows.Err()
}

// ensureSchema creates required tables and indexes if they don't exist.
func ensureSchema(db *sql.DB) error {
	const createDeployments = `
CREATE TABLE IF NOT EXISTS panel_deployments (
  guild_id      TEXT NOT NULL,
  channel_id    TEXT NOT NULL,
  panel_id      TEXT NOT NULL,
  message_id    TEXT NOT NULL,
  panel_type    TEXT NOT NULL DEFAULT 'modern',
  panel_name    TEXT NOT NULL DEFAULT '',
  fingerprint   TEXT NOT NULL DEFAULT '',
  product_count INTEGER NOT NULL DEFAULT 0,
  created_at    TIMESTAMP NOT NULL,
  last_updated  TIMESTAMP NOT NULL,
  is_active     INTEGER NOT NULL DEFAULT 1,
  PRIMARY KEY (guild_id, channel_id, panel_id)
);
CREATE INDEX IF NOT EXISTS idx_deployments_message ON panel_deployments(message_id);
CREATE INDEX IF NOT EXISTS idx_deployments_guild_active ON panel_deployments(guild_id, is_active);`

	const createDownloads = `
CREATE TABLE IF NOT EXISTS product_downloads (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  guild_id      TEXT NOT NULL,
  user_id       TEXT NOT NULL,
  username      TEXT NOT NULL DEFAULT '',
  product_id    TEXT NOT NULL,
  product_name  TEXT NOT NULL DEFAULT '',
  panel_id      TEXT NOT NULL,
  panel_type    TEXT NOT NULL DEFAULT 'modern',
  source        TEXT NOT NULL,
  channel_id    TEXT,
  file_size     INTEGER NOT NULL DEFAULT 0,
  user_roles    TEXT NOT NULL DEFAULT '',
  success       INTEGER NOT NULL DEFAULT 1,
  error_message TEXT NOT NULL DEFAULT '',
  download_time TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_guild_user ON product_downloads(guild_id, user_id, download_time);
CREATE INDEX IF NOT EXISTS idx_downloads_guild_product ON product_downloads(guild_id, product_id, download_time);
CREATE INDEX IF NOT EXISTS idx_downloads_time ON product_downloads(download_time);`

	for _, sqlText := range []string{createDeployments, createDownloads} {
		if _, err := db.Exec(sqlText); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
