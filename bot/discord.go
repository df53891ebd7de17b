package bot

import (
	"Vizier/core"
	"Vizier/lib/sl"
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord feeds Discord messages to the router
type Discord struct {
	token   string
	guildID string
	router  *Router
	session *discordgo.Session
	log     *slog.Logger
}

func NewDiscord(conf *core.Config, router *Router, log *slog.Logger) *Discord {
	return &Discord{
		token:   conf.DiscordToken,
		guildID: conf.DiscordGuildID,
		router:  router,
		log:     log.With(sl.Module("discord")),
	}
}

// Start connects to the gateway and blocks until ctx is done
func (d *Discord) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	// handlers only hand events to the router, which runs them in the background
	session.SyncEvents = true
	d.session = session

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.log.With(
			slog.String("user", r.User.Username),
		).Info("logged in")
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || s.State.User == nil {
			return
		}
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}
		ev, selfID := d.event(m), s.State.User.ID
		if !d.router.Go(func() { d.router.Handle(ctx, ev, selfID) }) {
			d.log.Debug("shutting down, message dropped")
		}
	})

	if err = session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	<-ctx.Done()
	d.log.Info("disconnecting")
	return session.Close()
}

func (d *Discord) event(m *discordgo.MessageCreate) *core.Event {
	attachments := make([]core.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, core.Attachment{
			Filename: a.Filename,
			URL:      a.URL,
		})
	}
	return &core.Event{
		Platform:    core.PlatformDiscord,
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		Content:     m.Content,
		Attachments: attachments,
		Channel: &discordChannel{
			session:   d.session,
			channelID: m.ChannelID,
		},
	}
}

// discordChannel is the conversation handle of one Discord channel
type discordChannel struct {
	session   *discordgo.Session
	channelID string
}

// SendText posts text, split to the Discord limit of 2000 characters
func (c *discordChannel) SendText(ctx context.Context, text string) error {
	return sendChunks(ctx, splitMessageRunes(text, discordMaxMsgLen), func(chunk string) error {
		if _, err := c.session.ChannelMessageSend(c.channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
		return nil
	})
}

func (c *discordChannel) SendFile(ctx context.Context, name string, data []byte) error {
	_, err := c.session.ChannelFileSend(c.channelID, name, bytes.NewReader(data), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord file send: %w", err)
	}
	return nil
}
