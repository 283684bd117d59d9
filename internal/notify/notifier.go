// Package notify delivers robot events to the operator.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Notifier delivers messages without expecting replies.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(string) {}

func (Nop) Sendf(string, ...any) {}

// Commands exposes the operator actions reachable from the chat.
type Commands interface {
	// Status returns a short human-readable robot summary.
	Status() string
	// Stop halts the robot after the current cycle.
	Stop()
}

type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram sends messages to a single chat and answers /status and /stop from it.
type Telegram struct {
	bot    botAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegram connects to the bot API with token.
func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "connect telegram bot")
	}
	return newTelegram(b, chatID, logger), nil
}

func newTelegram(b botAPI, chatID int64, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{bot: b, chatID: chatID, logger: logger.With(zap.String("component", "telegram"))}
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.logger.Warn("failed to send telegram message", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Listen answers chat commands until ctx is done.
func (t *Telegram) Listen(ctx context.Context, cmds Commands) {
	if t == nil || t.bot == nil || cmds == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			t.handle(upd, cmds)
		}
	}
}

func (t *Telegram) handle(upd tgbot.Update, cmds Commands) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
		return
	}

	switch strings.ToLower(msg.Command()) {
	case "status":
		t.Send(cmds.Status())
	case "stop":
		cmds.Stop()
		t.Send("robot will stop after the current cycle")
	default:
		t.Send("commands: /status, /stop")
	}
}
