package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo.Session methods we use, enabling
// test mocks.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts to a Discord channel over the REST API.
type Discord struct {
	sess      discordSession
	channelID string
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real API.
	Session discordSession
}

// NewDiscord creates a Discord notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord channel is required")
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		sess = dg
	}
	return &Discord{sess: sess, channelID: opts.ChannelID}, nil
}

// Notify implements Notifier.
func (d *Discord) Notify(_ context.Context, a Alert) error {
	if _, err := d.sess.ChannelMessageSend(d.channelID, format(a)); err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	return nil
}
