package transports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/shannonlabs/shannon/internal/bus"
)

// discordLimit stays under Discord's 2000-char cap to leave headroom
// for re-fenced code blocks.
const discordLimit = 1900

// Discord bridges a Discord bot account to the bus. The bot answers
// DMs and messages that mention it; everything else is ignored.
type Discord struct {
	session *discordgo.Session
	bus     *bus.Bus
}

// NewDiscord builds the transport. The session stays closed until Start.
func NewDiscord(token string, b *bus.Bus) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	d := &Discord{session: session, bus: b}
	session.AddHandler(d.onMessageCreate)
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord connected", "user", r.User.Username)
	})
	return d, nil
}

// Platform implements Transport.
func (d *Discord) Platform() string { return "discord" }

// MessageLimit implements Transport.
func (d *Discord) MessageLimit() int { return discordLimit }

// Start opens the gateway connection.
func (d *Discord) Start(_ context.Context) error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	return nil
}

// Stop closes the gateway connection.
func (d *Discord) Stop(_ context.Context) error {
	return d.session.Close()
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	isDM := m.GuildID == ""
	mentioned := false
	if s.State.User != nil {
		for _, u := range m.Mentions {
			if u.ID == s.State.User.ID {
				mentioned = true
				break
			}
		}
	}
	if !isDM && !mentioned {
		return
	}

	content := m.Content
	if s.State.User != nil {
		content = strings.ReplaceAll(content, "<@"+s.State.User.ID+">", "")
		content = strings.ReplaceAll(content, "<@!"+s.State.User.ID+">", "")
		content = strings.TrimSpace(content)
	}

	var attachments []bus.Attachment
	for _, a := range m.Attachments {
		attachments = append(attachments, bus.Attachment{
			URL:         a.URL,
			ContentType: a.ContentType,
			Filename:    a.Filename,
		})
	}

	d.bus.Publish(bus.NewIncoming(bus.IncomingMessage{
		Platform:    "discord",
		Channel:     m.ChannelID,
		UserID:      m.Author.ID,
		UserName:    m.Author.Username,
		MessageID:   m.ID,
		Content:     content,
		Attachments: attachments,
		Timestamp:   time.Now().UTC(),
	}))
}

// Send delivers one chunk, as a reply when replyTo names a message in
// the same channel.
func (d *Discord) Send(channel, content, replyTo string) error {
	msg := &discordgo.MessageSend{Content: content}
	if replyTo != "" {
		msg.Reference = &discordgo.MessageReference{
			MessageID: replyTo,
			ChannelID: channel,
		}
	}
	_, err := d.session.ChannelMessageSendComplex(channel, msg)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	return nil
}
