// Package notify delivers operator alerts to a Telegram chat.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// maxMessageLen is Telegram's limit on message text, in runes.
const maxMessageLen = 4096

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram sends plain text alerts to a single chat.
type Telegram struct {
	sender messageSender
	chatID int64
	log    *zap.Logger
}

// NewTelegram creates the bot client.  The token is not validated
// against the API until the first message is sent.
func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, err
	}
	return &Telegram{sender: b, chatID: chatID, log: log.Named("telegram")}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen-20]) + "\n\n... (truncated)"
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		t.log.Warn("send failed", zap.Int64("chat_id", t.chatID), zap.Error(err))
	}
	return err
}
