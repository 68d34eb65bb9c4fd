package events

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/hive/internal/domain"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink sends notifications as chat messages, usually routed at warning level and above.
type TelegramSink struct {
	api    botSender
	chatID int64
}

// NewTelegramSink authorizes the bot token.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}
	return &TelegramSink{api: api, chatID: chatID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(s.chatID, FormatText(n))
	_, err := s.api.Send(msg)
	return errors.Wrap(err, "telegram send")
}

// FormatText renders a notification as plain text.
func FormatText(n domain.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s/%s %s\n%s", strings.ToUpper(string(n.Severity)), n.Topic, n.Kind, n.Subject, n.Message)

	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, n.Fields[k])
	}
	return b.String()
}
