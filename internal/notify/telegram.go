package notify

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "casewatch/pkg/logx"
)

// TelegramMirror posts a copy of each reminder into a chat. It is wired
// as a mirror only: delivery state lives with the primary sender.
type TelegramMirror struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger
}

func NewTelegramMirror(token string, chatID int64, log logx.Logger) (*TelegramMirror, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramMirror{
		bot:  bot,
		chat: &tele.Chat{ID: chatID},
		log:  log,
	}, nil
}

func (t *TelegramMirror) Send(ctx context.Context, to, from string, n Notice) error {
	_ = ctx // telebot's Send has no context variant
	text := Subject(n) + "\n\n" + Body(n)
	if _, err := t.bot.Send(t.chat, text); err != nil {
		return fmt.Errorf("telegram: send case %d: %w", n.CaseID, err)
	}
	t.log.Debug("reminder mirrored to telegram",
		logx.Int64("case_id", n.CaseID),
		logx.Int64("chat_id", t.chat.ID),
	)
	return nil
}
