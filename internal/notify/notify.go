// Package notify delivers operator notifications about referral activity.
package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"anzacash/internal/logger"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram posts notifications to a single admin chat.
type Telegram struct {
	bot    *telego.Bot
	chatID int64
}

func NewTelegram(token string, chatID int64, opts ...telego.BotOption) (*Telegram, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("telegram admin chat id is required")
	}
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(t.chatID), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// New returns a Telegram notifier when a token is configured and Nop
// otherwise.
func New(token string, chatID int64) (Notifier, error) {
	if token == "" {
		logger.Info("Telegram token not set, notifications disabled")
		return Nop{}, nil
	}
	return NewTelegram(token, chatID)
}
