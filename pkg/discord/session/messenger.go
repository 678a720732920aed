package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/productdock/pkg/panel"
)

// PanelMessenger adapts a discordgo session to the message operations the
// reconciler performs. Discord "unknown message" and "unknown channel" REST
// errors are normalized to panel.ErrMessageNotFound so callers can branch on
// them without knowing REST codes.
type PanelMessenger struct {
	session *discordgo.Session
}

// NewPanelMessenger wraps a session.
func NewPanelMessenger(s *discordgo.Session) *PanelMessenger {
	return &PanelMessenger{session: s}
}

// SendPanel posts a rendered panel and returns the new message id.
func (m *PanelMessenger) SendPanel(ctx context.Context, channelID string, r *panel.RenderedPanel) (string, error) {
	msg, err := m.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{r.Embed},
		Components: r.Components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", normalizeRESTError(err)
	}
	return msg.ID, nil
}

// EditPanel replaces the embed and components of an existing panel message.
func (m *PanelMessenger) EditPanel(ctx context.Context, channelID, messageID string, r *panel.RenderedPanel) error {
	embeds := []*discordgo.MessageEmbed{r.Embed}
	components := r.Components
	_, err := m.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    channelID,
		ID:         messageID,
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	return normalizeRESTError(err)
}

// PanelMessageExists reports whether the panel message is still present.
func (m *PanelMessenger) PanelMessageExists(ctx context.Context, channelID, messageID string) (bool, error) {
	_, err := m.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	err = normalizeRESTError(err)
	if errors.Is(err, panel.ErrMessageNotFound) {
		return false, nil
	}
	return false, err
}

// DeleteMessage removes a panel message. Deleting an already-gone message
// returns panel.ErrMessageNotFound.
func (m *PanelMessenger) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return normalizeRESTError(m.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

// CanPost verifies the bot can send embeds in the channel before any message
// is attempted.
func (m *PanelMessenger) CanPost(channelID string) error {
	if m.session.State == nil || m.session.State.User == nil {
		return fmt.Errorf("session state unavailable")
	}
	perms, err := m.session.UserChannelPermissions(m.session.State.User.ID, channelID)
	if err != nil {
		return fmt.Errorf("resolve channel permissions: %w", err)
	}
	const needed = discordgo.PermissionSendMessages | discordgo.PermissionEmbedLinks
	if perms&needed != needed {
		return panel.ErrPermissionDenied
	}
	return nil
}

// Discord REST error codes for missing targets.
const (
	restCodeUnknownChannel = 10003
	restCodeUnknownMessage = 10008
)

func normalizeRESTError(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		switch rerr.Message.Code {
		case restCodeUnknownMessage, restCodeUnknownChannel:
			return fmt.Errorf("%s: %w", rerr.Message.Message, panel.ErrMessageNotFound)
		}
	}
	return err
}
