package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem layout, relative to the OS user directories:
//   - Config:   <UserConfigDir>/<AppName>/products.json
//   - Database: <UserCacheDir>/<AppName>/panels/productdock.db
//   - Logs:     ~/.log/<AppName>
//   - Products: <UserConfigDir>/<AppName>/products
//
// PRODUCTDOCK_CONFIG_PATH, PRODUCTDOCK_DB_PATH and PRODUCTDOCK_PRODUCTS_DIR
// override the respective paths. Helpers return paths only; callers create
// directories as needed (EnsureDirs covers the common ones).

var appName = "productdock"

// SetAppName sets the application name used in filesystem paths. Host
// applications call it once before anything touches the disk.
func SetAppName(name string) {
	if n := sanitizeName(name); n != "" {
		appName = n
	}
}

// AppName returns the configured application name.
func AppName() string {
	return appName
}

// ConfigDirPath returns the base directory for configuration files.
func ConfigDirPath() string {
	if p := strings.TrimSpace(os.Getenv("PRODUCTDOCK_CONFIG_PATH")); p != "" {
		return filepath.Dir(p)
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(".", "config", appName)
}

// ConfigFilePath returns the path of the products configuration file.
func ConfigFilePath() string {
	if p := strings.TrimSpace(os.Getenv("PRODUCTDOCK_CONFIG_PATH")); p != "" {
		return p
	}
	return filepath.Join(ConfigDirPath(), "products.json")
}

// DataDirPath returns the base directory for durable application data.
func DataDirPath() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(".", "cache", appName)
}

// DBPath returns the SQLite database path.
// Layout: <DataDir>/panels/productdock.db
func DBPath() string {
	if p := strings.TrimSpace(os.Getenv("PRODUCTDOCK_DB_PATH")); p != "" {
		return p
	}
	return filepath.Join(DataDirPath(), "panels", "productdock.db")
}

// LogDirPath returns the directory for rotated log files.
func LogDirPath() string {
	home := homeDir()
	if home == "." {
		return filepath.Join(".", "logs", appName)
	}
	return filepath.Join(home, ".log", appName)
}

// ProductsDirPath returns the default directory holding downloadable product
// files. A products_dir setting in the configuration takes precedence.
func ProductsDirPath() string {
	if p := strings.TrimSpace(os.Getenv("PRODUCTDOCK_PRODUCTS_DIR")); p != "" {
		return p
	}
	return filepath.Join(ConfigDirPath(), "products")
}

// EnsureDirs creates the directories the application writes to. Safe to call
// multiple times.
func EnsureDirs() error {
	dirs := []string{
		ConfigDirPath(),
		filepath.Dir(DBPath()),
		LogDirPath(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

func homeDir() string {
	if h := strings.TrimSpace(os.Getenv("HOME")); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return "."
}

func sanitizeName(s string) string {
	out := strings.TrimSpace(s)
	out = strings.ReplaceAll(out, "/", "-")
	out = strings.ReplaceAll(out, "\\", "-")
	out = strings.ReplaceAll(out, "\x00", "")
	return strings.TrimSpace(out)
}
