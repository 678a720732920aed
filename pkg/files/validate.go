package files

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gookit/validate"
)

// Identifier shape shared by panel and product ids. Interaction tokens join
// ids with ':' so the separator must never appear in one.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateConfig rejects a configuration that violates the model invariants.
// Validation happens once at load time; business logic downstream assumes a
// valid document and never re-defaults fields.
func ValidateConfig(cfg *ProductsConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Settings.UpdateIntervalSeconds < 0 {
		return fmt.Errorf("settings.update_interval_seconds must not be negative")
	}
	if cfg.Logging.LogToChannel && cfg.Logging.LogChannelID == "" {
		return fmt.Errorf("logging.log_to_channel requires logging.log_channel_id")
	}

	for id, panel := range cfg.Panels {
		if err := validatePanelID(id); err != nil {
			return err
		}
		if err := validatePanel(fmt.Sprintf("panels.%s", id), panel); err != nil {
			return err
		}
	}

	if cfg.LegacyPanel != nil || len(cfg.LegacyProducts) > 0 {
		legacy := Panel{Products: cfg.LegacyProducts}
		if cfg.LegacyPanel != nil {
			legacy = *cfg.LegacyPanel
			legacy.Products = cfg.LegacyProducts
		}
		if err := validatePanel("panel", legacy); err != nil {
			return err
		}
	}

	return nil
}

func validatePanelID(id string) error {
	if id == "" {
		return fmt.Errorf("panel id must not be empty")
	}
	if id == LegacyPanelID {
		return fmt.Errorf("panel id %q is reserved for the legacy block", LegacyPanelID)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("panel id %q contains invalid characters", id)
	}
	return nil
}

func validatePanel(path string, panel Panel) error {
	seen := make(map[string]struct{}, len(panel.Products))
	for i, prod := range panel.Products {
		where := fmt.Sprintf("%s.products[%d]", path, i)

		if prod.ID == "" {
			return fmt.Errorf("%s: id must not be empty", where)
		}
		if !idPattern.MatchString(prod.ID) {
			return fmt.Errorf("%s: id %q contains invalid characters", where, prod.ID)
		}
		if _, dup := seen[prod.ID]; dup {
			return fmt.Errorf("%s: duplicate product id %q", where, prod.ID)
		}
		seen[prod.ID] = struct{}{}

		// Disabled products may be partially configured; enabled ones must
		// satisfy the full model.
		if !prod.Enabled {
			continue
		}
		v := validate.Struct(prod)
		if !v.Validate() {
			return fmt.Errorf("%s: %s", where, v.Errors.One())
		}
		if strings.Contains(prod.FilePath, "..") {
			return fmt.Errorf("%s: file_path must not traverse outside the products directory", where)
		}
	}
	return nil
}
