package bot

import (
	"Vizier/ai"
	"Vizier/core"
	"Vizier/lib/sl"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

const (
	telegramMaxMsgLen = 4096
	telegramPhotoName = "photo.jpg"

	maxAttachmentSize int64 = 20 << 20
)

// TgBot feeds Telegram updates to the router
type TgBot struct {
	api        *tgbotapi.BotAPI
	router     *Router
	httpClient *http.Client
	log        *slog.Logger
}

func NewTgBot(conf *core.Config, router *Router, log *slog.Logger) (*TgBot, error) {
	api, err := tgbotapi.NewBotAPI(conf.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram api: %w", err)
	}
	return &TgBot{
		api:        api,
		router:     router,
		httpClient: ai.NewHTTPClient(),
		log:        log.With(sl.Module("telegram")),
	}, nil
}

// Start polls for updates until ctx is done
func (t *TgBot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates, err := t.api.GetUpdatesChan(u)
	if err != nil {
		return fmt.Errorf("telegram updates: %w", err)
	}
	t.log.With(
		slog.String("user", t.api.Self.UserName),
	).Info("logged in")

	selfID := strconv.Itoa(t.api.Self.ID)
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			t.log.Info("disconnecting")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			incoming := update.Message
			if !t.router.Go(func() { t.handle(ctx, incoming, selfID) }) {
				t.log.Debug("shutting down, update dropped")
			}
		}
	}
}

func (t *TgBot) handle(ctx context.Context, incoming *tgbotapi.Message, selfID string) {
	stopTyping := make(chan struct{})
	defer close(stopTyping)
	go t.keepTyping(incoming.Chat.ID, stopTyping)

	t.router.Handle(ctx, t.event(incoming), selfID)
}

// keepTyping shows the typing status every 5 seconds until stop is closed
func (t *TgBot) keepTyping(chatID int64, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := t.api.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
				t.log.Debug("sending chat action", sl.Err(err))
			}
		case <-stop:
			return
		}
	}
}

func (t *TgBot) event(incoming *tgbotapi.Message) *core.Event {
	content := incoming.Text
	if content == "" {
		content = incoming.Caption
	}

	var attachments []core.Attachment
	if incoming.Photo != nil && len(*incoming.Photo) > 0 {
		photos := *incoming.Photo
		largest := photos[len(photos)-1]
		attachments = append(attachments, core.Attachment{
			Filename: telegramPhotoName,
			Resolve:  t.inline(largest.FileID, "image/jpeg"),
		})
	}
	if doc := incoming.Document; doc != nil {
		attachments = append(attachments, core.Attachment{
			Filename: doc.FileName,
			Resolve:  t.inline(doc.FileID, doc.MimeType),
		})
	}

	return &core.Event{
		Platform:    core.PlatformTelegram,
		AuthorID:    strconv.Itoa(incoming.From.ID),
		AuthorName:  incoming.From.UserName,
		Content:     content,
		Attachments: attachments,
		Channel: &telegramChat{
			api:    t.api,
			chatID: incoming.Chat.ID,
		},
	}
}

// inline downloads a Telegram file and returns it as a data URL. File links
// contain the bot token, so they are never handed to the model provider.
func (t *TgBot) inline(fileID, mime string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		link, err := t.api.GetFileDirectURL(fileID)
		if err != nil {
			return "", fmt.Errorf("getting file link: %w", err)
		}
		return downloadDataURL(ctx, t.httpClient, link, mime, maxAttachmentSize)
	}
}

// downloadDataURL fetches link and encodes the body as a data URL. Bodies over
// limit bytes are rejected; an empty mime is detected from the content.
func downloadDataURL(ctx context.Context, client *http.Client, link, mime string, limit int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("making request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading file: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("file exceeds %d bytes", limit)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return ai.EncodeDataURL(mime, data), nil
}

// telegramChat is the conversation handle of one Telegram chat
type telegramChat struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func (c *telegramChat) SendText(ctx context.Context, text string) error {
	return sendChunks(ctx, splitMessage(text, telegramMaxMsgLen), func(chunk string) error {
		if _, err := c.api.Send(tgbotapi.NewMessage(c.chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	})
}

func (c *telegramChat) SendFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocumentUpload(c.chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	if _, err := c.api.Send(doc); err != nil {
		return fmt.Errorf("telegram file send: %w", err)
	}
	return nil
}
