package files

// Configuration model for product panels. The JSON shape mirrors the deployed
// config files: a settings block, a logging block, named panels, and the
// legacy single-panel block kept for configs that predate named panels.

// LegacyPanelID is the reserved panel id for the legacy single-panel block.
const LegacyPanelID = "legacy"

// PanelType distinguishes panels from the named map from the legacy block.
type PanelType string

const (
	PanelTypeModern PanelType = "modern"
	PanelTypeLegacy PanelType = "legacy"
)

// Product is one downloadable file offered on a panel.
// An empty RequiredRoles set means the product is open to everyone.
type Product struct {
	ID            string   `json:"id" validate:"required"`
	Name          string   `json:"name" validate:"required"`
	Description   string   `json:"description,omitempty"`
	Emoji         string   `json:"emoji,omitempty"`
	FilePath      string   `json:"file_path" validate:"required"`
	DownloadName  string   `json:"download_name,omitempty"`
	RequiredRoles []string `json:"required_roles,omitempty"`
	Enabled       bool     `json:"enabled"`
}

// AttachmentName returns the filename to present to the downloading user.
func (p Product) AttachmentName() string {
	if p.DownloadName != "" {
		return p.DownloadName
	}
	return p.FilePath
}

// PanelStyle holds the render-affecting cosmetic fields of a panel.
type PanelStyle struct {
	EmbedColor   string `json:"embed_color,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	FooterText   string `json:"footer_text,omitempty"`
}

// Panel is a named, configured collection of products rendered as a single
// message with one button per product.
type Panel struct {
	Enabled     bool      `json:"enabled"`
	Name        string    `json:"name"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	PanelStyle            // flattened style fields
	Products    []Product `json:"products"`
}

// EnabledProducts returns the panel's enabled products in configured order.
func (p Panel) EnabledProducts() []Product {
	out := make([]Product, 0, len(p.Products))
	for _, prod := range p.Products {
		if prod.Enabled {
			out = append(out, prod)
		}
	}
	return out
}

// PanelSpec is a resolved panel: its id, its type and its configuration.
// The legacy block surfaces as a PanelSpec with ID "legacy".
type PanelSpec struct {
	ID    string
	Type  PanelType
	Panel Panel
}

// Settings holds global feature settings.
type Settings struct {
	AdminRoles            []string `json:"admin_roles,omitempty"`
	CommandChannelID      string   `json:"command_channel_id,omitempty"`
	UpdateIntervalSeconds int      `json:"update_interval_seconds,omitempty"`
	ProductsDir           string   `json:"products_dir,omitempty"`
}

// LoggingSettings controls download auditing and log-channel notifications.
type LoggingSettings struct {
	TrackDownloads      bool   `json:"track_downloads"`
	LogToChannel        bool   `json:"log_to_channel"`
	LogChannelID        string `json:"log_channel_id,omitempty"`
	NoPermissionMessage string `json:"no_permission_message,omitempty"`
}

// NoPermissionReply returns the configured role-denied message or a default.
func (l LoggingSettings) NoPermissionReply() string {
	if l.NoPermissionMessage != "" {
		return l.NoPermissionMessage
	}
	return "You don't have the required role(s) to download this product."
}

// ProductsConfig is the full on-disk configuration document.
type ProductsConfig struct {
	Settings Settings         `json:"settings"`
	Logging  LoggingSettings  `json:"logging"`
	Panels   map[string]Panel `json:"panels,omitempty"`

	// Legacy single-panel block. When LegacyProducts is non-empty the pair is
	// surfaced as the reserved panel id "legacy".
	LegacyPanel    *Panel    `json:"panel,omitempty"`
	LegacyProducts []Product `json:"products,omitempty"`
}
