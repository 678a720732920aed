package panel

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/small-frappuccino/productdock/pkg/files"
)

// The fingerprint covers exactly the fields that affect rendered output:
// panel title, description and style, plus the ordered list of enabled
// products. Reordering products changes the rendered button order and so
// changes the fingerprint. Fields that never reach the rendered message
// (file paths, channel pins, disabled products) deliberately do not.

type fingerprintProduct struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Emoji         string   `json:"emoji"`
	RequiredRoles []string `json:"required_roles"`
}

type fingerprintPanel struct {
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	EmbedColor   string               `json:"embed_color"`
	ThumbnailURL string               `json:"thumbnail_url"`
	FooterText   string               `json:"footer_text"`
	Products     []fingerprintProduct `json:"products"`
}

// Fingerprint returns a deterministic content hash of a panel's
// render-affecting configuration.
func Fingerprint(spec files.PanelSpec) string {
	enabled := spec.Panel.EnabledProducts()
	fp := fingerprintPanel{
		Title:        spec.Panel.Title,
		Description:  spec.Panel.Description,
		EmbedColor:   spec.Panel.EmbedColor,
		ThumbnailURL: spec.Panel.ThumbnailURL,
		FooterText:   spec.Panel.FooterText,
		Products:     make([]fingerprintProduct, 0, len(enabled)),
	}
	for _, prod := range enabled {
		// Role order is not visible in the rendered panel; sort so two
		// configs differing only in role order hash identically.
		roles := append([]string(nil), prod.RequiredRoles...)
		sort.Strings(roles)
		fp.Products = append(fp.Products, fingerprintProduct{
			ID:            prod.ID,
			Name:          prod.Name,
			Description:   prod.Description,
			Emoji:         prod.Emoji,
			RequiredRoles: roles,
		})
	}

	// Marshal of a fixed struct is canonical: field order is declaration
	// order, and there are no maps involved.
	b, err := json.Marshal(fp)
	if err != nil {
		// Cannot happen for this shape; keep the signature hash-only.
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
