// Package logging posts download activity to the configured log channel.
package logging

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/productdock/pkg/files"
	"github.com/small-frappuccino/productdock/pkg/log"
	"github.com/small-frappuccino/productdock/pkg/storage"
)

const (
	colorDelivered = 0x57f287
	colorDenied    = 0xed4245
)

// DownloadLogService posts one embed per download attempt to the log channel
// configured in the logging block. It implements download.Notifier.
type DownloadLogService struct {
	session       *discordgo.Session
	configManager *files.ConfigManager
}

func NewDownloadLogService(session *discordgo.Session, configManager *files.ConfigManager) *DownloadLogService {
	return &DownloadLogService{
		session:       session,
		configManager: configManager,
	}
}

// NotifyDownload posts the audit record to the log channel. Failures are
// logged and swallowed; notification must never affect the download itself.
func (dl *DownloadLogService) NotifyDownload(rec storage.DownloadRecord) {
	logging := dl.configManager.Logging()
	if !logging.LogToChannel || logging.LogChannelID == "" {
		return
	}

	embed := dl.buildEmbed(rec)
	if _, err := dl.session.ChannelMessageSendEmbed(logging.LogChannelID, embed); err != nil {
		log.DiscordLogger().Warn("Failed to post download log",
			"channel", logging.LogChannelID, "product", rec.ProductID, "error", err)
	}
}

func (dl *DownloadLogService) buildEmbed(rec storage.DownloadRecord) *discordgo.MessageEmbed {
	title := "📦 Product Downloaded"
	color := colorDelivered
	if !rec.Success {
		title = "🚫 Download Denied"
		color = colorDenied
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: fmt.Sprintf("<@%s> (`%s`)", rec.UserID, rec.Username), Inline: true},
		{Name: "Product", Value: fmt.Sprintf("%s (`%s`)", rec.ProductName, rec.ProductID), Inline: true},
		{Name: "Panel", Value: fmt.Sprintf("`%s` (%s)", rec.PanelID, rec.Source), Inline: true},
	}
	if rec.Success && rec.FileSize > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Size", Value: formatFileSize(rec.FileSize), Inline: true,
		})
	}
	if !rec.Success && rec.ErrorMessage != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Reason", Value: rec.ErrorMessage, Inline: true,
		})
	}
	if len(rec.UserRoles) > 0 {
		mentions := make([]string, 0, len(rec.UserRoles))
		for _, role := range rec.UserRoles {
			mentions = append(mentions, "<@&"+role+">")
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Roles", Value: strings.Join(mentions, " "),
		})
	}

	return &discordgo.MessageEmbed{
		Title:     title,
		Color:     color,
		Fields:    fields,
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339),
	}
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
