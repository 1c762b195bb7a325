package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"mailbox/backend/internal/localization"
	"mailbox/backend/internal/models"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// MaxMessageRunes is the longest text sent in one Telegram message.
const MaxMessageRunes = 4000

// Sender is the subset of *tgbotapi.BotAPI the package uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// DeliveryError означає, що Telegram не прийняв повідомлення.
type DeliveryError struct {
	Err error
	// Retried is true when the plain text retry was attempted too.
	Retried bool
}

func (e *DeliveryError) Error() string {
	if e.Retried {
		return fmt.Sprintf("telegram delivery failed after plain text retry: %v", e.Err)
	}
	return fmt.Sprintf("telegram delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Notifier sends text to the single authorized chat.
type Notifier struct {
	api       Sender
	chatID    int64
	localizer *localization.Localizer
	lang      string
	timeout   time.Duration
	log       logrus.FieldLogger
}

func NewNotifier(api Sender, chatID int64, localizer *localization.Localizer, lang string, timeout time.Duration, log logrus.FieldLogger) *Notifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{
		api:       api,
		chatID:    chatID,
		localizer: localizer,
		lang:      lang,
		timeout:   timeout,
		log:       log.WithField("component", "notifier"),
	}
}

// Send надсилає текст у чат. On a markup rejection the same text is retried
// once without parse mode.
func (n *Notifier) Send(ctx context.Context, text, parseMode string) error {
	return n.send(ctx, text, parseMode, text)
}

// Deliver implements mailbox.Deliverer. Fast answers get a robot prefix,
// deferred answers a header naming the question.
func (n *Notifier) Deliver(ctx context.Context, answer *models.Message) error {
	formatted, plain := n.decorate(answer)
	return n.send(ctx, formatted, tgbotapi.ModeHTML, plain)
}

func (n *Notifier) decorate(answer *models.Message) (formatted, plain string) {
	if answer.Responder == models.ResponderFast || answer.AnswersQuestionID == nil {
		text := "🤖 " + answer.Content
		return text, text
	}

	header := fmt.Sprintf(n.localizer.GetString(n.lang, "answer_header"), *answer.AnswersQuestionID)
	formatted = "📤 <b>" + html.EscapeString(header) + "</b>\n\n" + answer.Content
	plain = "📤 " + header + "\n\n" + answer.Content
	return formatted, plain
}

func (n *Notifier) send(ctx context.Context, text, parseMode, plain string) error {
	msg := tgbotapi.NewMessage(n.chatID, Truncate(text, MaxMessageRunes))
	msg.ParseMode = parseMode

	err := n.call(ctx, msg)
	if err == nil {
		return nil
	}
	if parseMode == "" || !isMarkupError(err) {
		return &DeliveryError{Err: err}
	}

	n.log.WithError(err).Warn("markup rejected, retrying as plain text")
	retry := tgbotapi.NewMessage(n.chatID, Truncate(plain, MaxMessageRunes))
	if err := n.call(ctx, retry); err != nil {
		return &DeliveryError{Err: err, Retried: true}
	}
	return nil
}

// call runs a blocking Bot API request under ctx. A request that outlives ctx
// is abandoned; its result is ignored.
func (n *Notifier) call(ctx context.Context, c tgbotapi.Chattable) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := n.api.Send(c)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Typing shows the "typing…" indicator. Errors are only logged.
func (n *Notifier) Typing() {
	params := tgbotapi.Params{
		"chat_id": strconv.FormatInt(n.chatID, 10),
		"action":  "typing",
	}
	if _, err := n.api.MakeRequest("sendChatAction", params); err != nil {
		n.log.WithError(err).Debug("failed to send typing action")
	}
}

func isMarkupError(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "can't parse entities")
}

// Truncate обрізає текст до limit рун.
func Truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}
