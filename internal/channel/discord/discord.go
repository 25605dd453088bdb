// Package discord implements an outbound-only Discord adapter. Delivery uses
// the REST API with a bot token; no gateway connection is opened.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/voxgate/voxgate/internal/channel"
)

// maxMessageLen is Discord's per-message content limit.
const maxMessageLen = 2000

// sessionFactory builds a REST client for a bot token. Swapped in tests.
type sessionFactory func(token string) (restClient, error)

// restClient is the slice of discordgo.Session the adapter uses.
type restClient interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Adapter delivers messages to Discord channels and DMs.
type Adapter struct {
	newSession sessionFactory
}

var _ channel.Adapter = (*Adapter)(nil)

// New builds a Discord adapter.
func New() *Adapter {
	return &Adapter{
		newSession: func(token string) (restClient, error) {
			return discordgo.New("Bot " + token)
		},
	}
}

// Name implements channel.Adapter.
func (a *Adapter) Name() string { return "discord" }

// Send implements channel.Adapter. TargetID names a channel; without one the
// message goes to the sender's DM channel. Long content is split at Discord's
// message limit.
func (a *Adapter) Send(ctx context.Context, out channel.Outbound) error {
	if out.Credentials.Token == "" {
		return fmt.Errorf("discord: send: missing bot token")
	}
	session, err := a.newSession(out.Credentials.Token)
	if err != nil {
		return fmt.Errorf("discord: send: create session: %w", err)
	}

	channelID := out.TargetID
	if channelID == "" {
		if out.UserExternalID == "" {
			return fmt.Errorf("discord: send: no target channel and no user id")
		}
		dm, err := session.UserChannelCreate(out.UserExternalID, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord: send: open dm channel: %w", err)
		}
		channelID = dm.ID
	}

	for _, chunk := range splitContent(out.Text) {
		if _, err := session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: send: %w", err)
		}
	}
	return nil
}

// splitContent breaks content into message-sized chunks.
func splitContent(content string) []string {
	if content == "" {
		return nil
	}
	var chunks []string
	runes := []rune(content)
	for len(runes) > 0 {
		n := len(runes)
		if n > maxMessageLen {
			n = maxMessageLen
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
