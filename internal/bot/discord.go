package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Intents the worker subscribes to. Message content is privileged and must be
// enabled for the application.
const discordIntents = discordgo.IntentGuilds |
	discordgo.IntentGuildMessages |
	discordgo.IntentDirectMessages |
	discordgo.IntentMessageContent

// DiscordClient is a Client backed by a discordgo session.
type DiscordClient struct {
	session *discordgo.Session
}

// NewDiscordClient is a ClientFactory for Discord bot tokens.
func NewDiscordClient(token string) (Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordIntents
	return &DiscordClient{session: s}, nil
}

func (c *DiscordClient) Connect(ctx context.Context, h Handler, ready func(Identity)) error {
	c.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User == nil {
			return
		}
		ready(Identity{ID: r.User.ID, Name: r.User.Username})
	})
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil {
			return
		}
		h.HandleMessage(ctx, &discordMessage{session: s, msg: m.Message})
	})
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

func (c *DiscordClient) Close() error {
	return c.session.Close()
}

type discordMessage struct {
	session *discordgo.Session
	msg     *discordgo.Message
}

func (m *discordMessage) AuthorID() string  { return m.msg.Author.ID }
func (m *discordMessage) AuthorIsBot() bool { return m.msg.Author.Bot }
func (m *discordMessage) ChannelID() string { return m.msg.ChannelID }
func (m *discordMessage) Content() string   { return m.msg.Content }

func (m *discordMessage) IsSelf() bool {
	if m.session.State == nil || m.session.State.User == nil {
		return false
	}
	return m.msg.Author.ID == m.session.State.User.ID
}

func (m *discordMessage) Send(ctx context.Context, text string) error {
	_, err := m.session.ChannelMessageSend(m.msg.ChannelID, text, discordgo.WithContext(ctx))
	return err
}
