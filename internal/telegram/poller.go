package telegram

import (
	"context"
	"mailbox/backend/internal/storage"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// CursorName is the key of the Telegram update offset in the cursor store.
const CursorName = "telegram"

// MessageHandler receives authorized text messages.
type MessageHandler func(ctx context.Context, msg *tgbotapi.Message)

// Poller is a restartable long-poll loop. The next offset is persisted after
// each update, so a restart resumes where the previous run stopped.
type Poller struct {
	api     Sender
	cursor  storage.CursorStore
	chatID  int64
	handler MessageHandler
	log     logrus.FieldLogger

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// Backoff is the pause after a failed GetUpdates call.
	Backoff time.Duration
}

func NewPoller(api Sender, cursor storage.CursorStore, chatID int64, handler MessageHandler, log logrus.FieldLogger) *Poller {
	return &Poller{
		api:         api,
		cursor:      cursor,
		chatID:      chatID,
		handler:     handler,
		log:         log.WithField("component", "poller"),
		PollTimeout: 30,
		Backoff:     5 * time.Second,
	}
}

type pollResult struct {
	updates []tgbotapi.Update
	err     error
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	offset, err := p.cursor.LoadOffset(ctx, CursorName)
	if err != nil {
		return err
	}
	p.log.WithField("offset", offset).Info("polling started")

	for {
		if ctx.Err() != nil {
			p.log.Info("polling stopped")
			return nil
		}

		cfg := tgbotapi.NewUpdate(offset)
		cfg.Timeout = p.PollTimeout

		// GetUpdates не приймає context, тому чекаємо в окремій горутині.
		done := make(chan pollResult, 1)
		go func() {
			updates, err := p.api.GetUpdates(cfg)
			done <- pollResult{updates: updates, err: err}
		}()

		var res pollResult
		select {
		case <-ctx.Done():
			p.log.Info("polling stopped")
			return nil
		case res = <-done:
		}

		if res.err != nil {
			p.log.WithError(res.err).Warn("getUpdates failed, backing off")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.Backoff):
			}
			continue
		}

		for i := range res.updates {
			upd := res.updates[i]
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			p.dispatch(ctx, &upd)
			if err := p.cursor.SaveOffset(ctx, CursorName, offset); err != nil {
				p.log.WithError(err).Warn("failed to persist poll offset")
			}
		}
	}
}

// dispatch drops everything that is not a text message from the authorized chat.
func (p *Poller) dispatch(ctx context.Context, upd *tgbotapi.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}
	if msg.Chat.ID != p.chatID {
		p.log.WithField("chat_id", msg.Chat.ID).Debug("dropping message from unauthorized chat")
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	p.handler(ctx, msg)
}
