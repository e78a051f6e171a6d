package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel delivers notifications as plain-text Telegram messages.
type TelegramChannel struct {
	api    telegramAPI
	chatID int64
}

// NewTelegramChannel creates a Telegram channel with the given bot token.
func NewTelegramChannel(token string, chatID int64) (*TelegramChannel, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramChannel{api: api, chatID: chatID}, nil
}

// Name implements Channel.
func (c *TelegramChannel) Name() string { return "telegram" }

// Send implements Channel.
func (c *TelegramChannel) Send(_ context.Context, n Notification) error {
	msg := tgbotapi.NewMessage(c.chatID, n.Title+"\n\n"+n.Text)
	msg.DisableWebPagePreview = true
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
