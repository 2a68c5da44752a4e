package channels

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "alertflow/pkg/logx"
)

// TelegramConfig configures the team-chat adapter.
type TelegramConfig struct {
	Token string
	// ChatID is the default target chat. A ChatResolver can override it
	// per client.
	ChatID      int64
	PollTimeout time.Duration
	// Offline skips the getMe probe at construction (tests).
	Offline bool
}

// ChatResolver maps a client to its team chat. Returning 0 falls back to the
// default chat.
type ChatResolver func(clientID string) int64

// Telegram delivers team-chat notifications through a send-only bot.
// The bot is never started; only the outbound send path is used.
type Telegram struct {
	cfg     TelegramConfig
	bot     *tele.Bot
	resolve ChatResolver
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, resolve ChatResolver, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{cfg: cfg, bot: b, resolve: resolve, log: log}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(ctx context.Context, clientID string, msg Message) error {
	chatID := t.cfg.ChatID
	if t.resolve != nil {
		if id := t.resolve(clientID); id != 0 {
			chatID = id
		}
	}
	if chatID == 0 {
		return Permanent("telegram: no chat configured for client %q", clientID)
	}

	text := renderChatText(clientID, msg)
	if text == "" {
		return nil
	}

	_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &DeliveryError{Err: err} // throttled; retry after backoff
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		// Chat not found, bot blocked, message too long: retrying won't help.
		return &DeliveryError{Err: err, Permanent: true}
	}
	return err // network-level; transient
}

func renderChatText(clientID string, msg Message) string {
	var b strings.Builder
	switch {
	case msg.Decision:
		b.WriteString("⚠️ approval needed")
	case msg.Aggregate:
		b.WriteString("\U0001f4cb grouped update")
	default:
		b.WriteString("\U0001f514")
	}
	if clientID != "" {
		b.WriteString(" [")
		b.WriteString(clientID)
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(msg.Text)
	return strings.TrimSpace(b.String())
}
