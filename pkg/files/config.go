package files

import (
	"os"
	"sort"
	"sync"

	"github.com/small-frappuccino/productdock/pkg/errutil"
	"github.com/small-frappuccino/productdock/pkg/log"
	"github.com/small-frappuccino/productdock/pkg/util"
)

// ConfigManager owns the products configuration. It loads and validates the
// JSON document and serves read-only snapshots to the rest of the process.
type ConfigManager struct {
	configFilePath string
	jsonManager    *util.JSONManager

	mu        sync.RWMutex
	config    *ProductsConfig
	available bool
}

// NewConfigManager creates a manager bound to the default config path.
func NewConfigManager() *ConfigManager {
	return NewConfigManagerWithPath(util.ConfigFilePath())
}

// NewConfigManagerWithPath creates a manager bound to an explicit path.
func NewConfigManagerWithPath(configPath string) *ConfigManager {
	return &ConfigManager{
		configFilePath: configPath,
		jsonManager:    util.NewJSONManager(configPath),
	}
}

// LoadConfig reads and validates the configuration file. An invalid or
// missing document does not fail the process: the feature degrades to
// unavailable and every lookup reports a miss until a valid config is
// loaded.
func (mgr *ConfigManager) LoadConfig() error {
	cfg := &ProductsConfig{}
	err := mgr.jsonManager.Load(cfg)
	if err != nil {
		if os.IsNotExist(err) {
			log.ApplicationLogger().Info("Products config file not found; feature disabled", "path", mgr.configFilePath)
			mgr.setConfig(nil)
			return nil
		}
		mgr.setConfig(nil)
		return errutil.HandleConfigError("read", mgr.configFilePath, func() error { return err })
	}

	if err := ValidateConfig(cfg); err != nil {
		mgr.setConfig(nil)
		log.ErrorLoggerRaw().Error("Products config rejected", "path", mgr.configFilePath, "error", err)
		return errutil.HandleConfigError("validate", mgr.configFilePath, func() error { return err })
	}

	mgr.setConfig(cfg)
	log.ApplicationLogger().Info("Products config loaded",
		"path", mgr.configFilePath,
		"panels", len(cfg.Panels),
		"legacy", len(cfg.LegacyProducts) > 0,
	)
	return nil
}

func (mgr *ConfigManager) setConfig(cfg *ProductsConfig) {
	mgr.mu.Lock()
	mgr.config = cfg
	mgr.available = cfg != nil
	mgr.mu.Unlock()
}

// Available reports whether a valid configuration is loaded.
func (mgr *ConfigManager) Available() bool {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.available
}

// ConfigPath returns the config file path.
func (mgr *ConfigManager) ConfigPath() string { return mgr.configFilePath }

// Settings returns the global settings block (zero value when unavailable).
func (mgr *ConfigManager) Settings() Settings {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if mgr.config == nil {
		return Settings{}
	}
	return mgr.config.Settings
}

// Logging returns the logging settings block (zero value when unavailable).
func (mgr *ConfigManager) Logging() LoggingSettings {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if mgr.config == nil {
		return LoggingSettings{}
	}
	return mgr.config.Logging
}

// ProductsDir returns the directory that product file paths resolve under.
func (mgr *ConfigManager) ProductsDir() string {
	if dir := mgr.Settings().ProductsDir; dir != "" {
		return dir
	}
	return util.ProductsDirPath()
}

// PanelSpecs returns all enabled panels, named panels in id order and the
// legacy panel last.
func (mgr *ConfigManager) PanelSpecs() []PanelSpec {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if mgr.config == nil {
		return nil
	}

	ids := make([]string, 0, len(mgr.config.Panels))
	for id := range mgr.config.Panels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	specs := make([]PanelSpec, 0, len(ids)+1)
	for _, id := range ids {
		p := mgr.config.Panels[id]
		if !p.Enabled {
			continue
		}
		specs = append(specs, PanelSpec{ID: id, Type: PanelTypeModern, Panel: p})
	}
	if legacy, ok := mgr.legacySpecLocked(); ok {
		specs = append(specs, legacy)
	}
	return specs
}

// PanelByID resolves a panel id, including the reserved legacy id. Disabled
// panels resolve as not found.
func (mgr *ConfigManager) PanelByID(id string) (PanelSpec, bool) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if mgr.config == nil {
		return PanelSpec{}, false
	}
	if id == LegacyPanelID {
		return mgr.legacySpecLocked()
	}
	p, ok := mgr.config.Panels[id]
	if !ok || !p.Enabled {
		return PanelSpec{}, false
	}
	return PanelSpec{ID: id, Type: PanelTypeModern, Panel: p}, true
}

// legacySpecLocked assembles the legacy block into a PanelSpec.
func (mgr *ConfigManager) legacySpecLocked() (PanelSpec, bool) {
	if len(mgr.config.LegacyProducts) == 0 {
		return PanelSpec{}, false
	}
	p := Panel{Enabled: true, Name: "Products", Products: mgr.config.LegacyProducts}
	if mgr.config.LegacyPanel != nil {
		p = *mgr.config.LegacyPanel
		p.Enabled = true
		p.Products = mgr.config.LegacyProducts
		if p.Name == "" {
			p.Name = "Products"
		}
	}
	return PanelSpec{ID: LegacyPanelID, Type: PanelTypeLegacy, Panel: p}, true
}

// ProductByID resolves a product within a panel's enabled products.
// The second return distinguishes "product exists but is disabled".
func (mgr *ConfigManager) ProductByID(panelID, productID string) (Product, bool, bool) {
	spec, ok := mgr.PanelByID(panelID)
	if !ok {
		return Product{}, false, false
	}
	for _, prod := range spec.Panel.Products {
		if prod.ID == productID {
			return prod, true, prod.Enabled
		}
	}
	return Product{}, false, false
}
