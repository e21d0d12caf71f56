package bot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig configures the Bot API connection.
type TelegramConfig struct {
	Token string
	// Endpoint overrides tgbotapi.APIEndpoint; used by tests.
	Endpoint    string
	Client      *http.Client
	PollTimeout time.Duration
}

// Telegram adapts the Bot API long-poll client to Sender and an Update stream.
type Telegram struct {
	api         *tgbotapi.BotAPI
	pollTimeout int
}

// NewTelegram authenticates against the Bot API with the given token.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, err
	}
	timeout := int(cfg.PollTimeout / time.Second)
	if timeout <= 0 {
		timeout = 60
	}
	return &Telegram{api: api, pollTimeout: timeout}, nil
}

// Username returns the bot account name.
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// Send implements Sender.
func (t *Telegram) Send(ctx context.Context, reply Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(reply.ChatID, reply.Text)
	msg.ReplyToMessageID = reply.ReplyTo
	msg.DisableWebPagePreview = true
	_, err := t.api.Send(msg)
	return err
}

// Updates starts long polling and streams text messages until ctx is done.
func (t *Telegram) Updates(ctx context.Context) <-chan Update {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = t.pollTimeout
	cfg.AllowedUpdates = []string{"message"}
	raw := t.api.GetUpdatesChan(cfg)

	out := make(chan Update)
	go func() {
		defer close(out)
		defer t.api.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case tu, ok := <-raw:
				if !ok {
					return
				}
				u, ok := fromTelegram(tu)
				if !ok {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// fromTelegram keeps messages that carry text or a caption.
func fromTelegram(tu tgbotapi.Update) (Update, bool) {
	m := tu.Message
	if m == nil || m.Chat == nil {
		return Update{}, false
	}
	text, entities := m.Text, m.Entities
	if text == "" {
		text, entities = m.Caption, m.CaptionEntities
	}
	if text == "" {
		return Update{}, false
	}
	u := Update{ChatID: m.Chat.ID, MessageID: m.MessageID, Text: text}
	for _, e := range entities {
		u.Entities = append(u.Entities, Entity{Type: e.Type, Offset: e.Offset, Length: e.Length, URL: e.URL})
	}
	return u, true
}
