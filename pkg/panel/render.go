package panel

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/log"
)

// Discord caps message components at 5 action rows of 5 buttons each.
const (
	maxButtonsPerRow = 5
	maxButtonRows    = 5
	maxPanelButtons  = maxButtonsPerRow * maxButtonRows
)

const (
	defaultPanelTitle       = "🛍️ Product Download Panel"
	defaultPanelDescription = "Click the buttons below to download products. Downloads will be sent privately to you."
	defaultFooterText       = "Product Downloads"
	defaultEmbedColor       = 0x0099ff
)

// RenderedPanel is the message content produced for a panel: one embed plus
// up to five button rows. It is plain data; sending and editing happen
// elsewhere.
type RenderedPanel struct {
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// RenderOptions adjusts rendering without touching panel configuration.
type RenderOptions struct {
	// Updated marks the footer of a panel edited in place.
	Updated bool
	// Personal renders buttons with user-scoped tokens for the given user
	// instead of public channel tokens.
	Personal bool
	UserID   string
}

// Render maps a panel configuration to message content. It is deterministic
// and side-effect-free apart from a warning when products are truncated.
// A panel with no enabled products renders a distinct empty-state embed with
// no buttons, never a broken message.
func Render(spec files.PanelSpec, opts RenderOptions) *RenderedPanel {
	p := spec.Panel
	products := p.EnabledProducts()

	title := p.Title
	if title == "" {
		title = defaultPanelTitle
	}
	description := p.Description
	if description == "" {
		description = defaultPanelDescription
	}
	footer := p.FooterText
	if footer == "" {
		footer = defaultFooterText
	}
	footer += " • Anyone can use this panel, downloads are private."
	if opts.Updated {
		footer += " • Updated"
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       parseColor(p.EmbedColor),
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if p.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: p.ThumbnailURL}
	}

	if len(products) == 0 {
		embed.Description = "There are no products available right now. Check back later."
		return &RenderedPanel{Embed: embed}
	}

	if len(products) > maxPanelButtons {
		log.ApplicationLogger().Warn("Panel exceeds button limit; truncating",
			"panel", spec.ID,
			"products", len(products),
			"limit", maxPanelButtons,
		)
		products = products[:maxPanelButtons]
	}

	return &RenderedPanel{
		Embed:      embed,
		Components: productButtonRows(spec.ID, products, opts),
	}
}

// productButtonRows lays enabled products out into action rows in configured
// order, five per row.
func productButtonRows(panelID string, products []files.Product, opts RenderOptions) []discordgo.MessageComponent {
	rows := make([]discordgo.MessageComponent, 0, (len(products)+maxButtonsPerRow-1)/maxButtonsPerRow)
	for start := 0; start < len(products); start += maxButtonsPerRow {
		end := min(start+maxButtonsPerRow, len(products))
		row := discordgo.ActionsRow{}
		for _, prod := range products[start:end] {
			tok := Token{Action: ActionChannelDownload, PanelID: panelID, ProductID: prod.ID}
			if opts.Personal {
				tok.Action = ActionPersonalDownload
				tok.UserID = opts.UserID
			}
			button := discordgo.Button{
				Label:    prod.Name,
				Style:    discordgo.PrimaryButton,
				CustomID: tok.Encode(),
			}
			if prod.Emoji != "" {
				button.Emoji = &discordgo.ComponentEmoji{Name: prod.Emoji}
			}
			row.Components = append(row.Components, button)
		}
		rows = append(rows, row)
	}
	return rows
}

// parseColor accepts "#RRGGBB" or "RRGGBB"; anything else falls back to the
// default color.
func parseColor(s string) int {
	if s == "" {
		return defaultEmbedColor
	}
	if s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return defaultEmbedColor
	}
	v := 0
	for _, c := range s {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= int(c - '0')
		case c >= 'a' && c <= 'f':
			v |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= int(c-'A') + 10
		default:
			return defaultEmbedColor
		}
	}
	return v
}
