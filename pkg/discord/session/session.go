package session

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/productdock/pkg/errutil"
	"github.com/small-frappuccino/productdock/pkg/log"
)

// Error messages
const (
	ErrSessionCreationFailed   = "failed to create Discord session: %w"
	ErrSessionConnectionFailed = "failed to connect to Discord: %w"
)

// NewDiscordSession creates and opens a Discord session with the intents the
// panel feature needs: guilds for channel/permission state and members for
// role checks on downloads.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	var s *discordgo.Session

	if token == "" {
		log.ErrorLoggerRaw().Error("❌ Discord bot token is empty. Please set the token before starting the bot.")
		return nil, fmt.Errorf("discord bot token is empty")
	}

	if err := errutil.HandleDiscordError("create_session", func() error {
		var sessionErr error
		s, sessionErr = discordgo.New("Bot " + token)
		return sessionErr
	}); err != nil {
		return nil, fmt.Errorf(ErrSessionCreationFailed, err)
	}

	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	s.StateEnabled = true

	log.DiscordLogger().Info("🔗 Connecting to Discord...")
	if err := errutil.HandleDiscordError("connect", func() error {
		return s.Open()
	}); err != nil {
		return nil, fmt.Errorf(ErrSessionConnectionFailed, err)
	}

	log.DiscordLogger().Info("✅ Connected to Discord successfully")
	return s, nil
}
