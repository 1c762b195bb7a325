// Package telegram handles the integration with the Telegram Bot API.
// It receives updates from the authorized chat, answers bot commands and
// hands questions to the mailbox engine.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"mailbox/backend/internal/knowledge"
	"mailbox/backend/internal/localization"
	"mailbox/backend/internal/mailbox"
	"mailbox/backend/internal/models"
	"mailbox/backend/internal/triage"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	recentActivityLimit = 5
	pendingListLimit    = 20
	previewRunes        = 60
)

// JobQueue accepts questions for asynchronous triage.
type JobQueue interface {
	Enqueue(job mailbox.Job) error
}

// KnowledgeStats reports the state of the knowledge overlay.
type KnowledgeStats interface {
	Stats() (knowledge.Stats, error)
}

// BotService routes messages from the authorized chat.
type BotService struct {
	Notifier   *Notifier
	Engine     *mailbox.Engine
	Queue      JobQueue
	Classifier *triage.Classifier
	Knowledge  KnowledgeStats
	Localizer  *localization.Localizer
	Lang       string
	log        logrus.FieldLogger
}

// NewBotAPI connects to Telegram and checks the token.
func NewBotAPI(token string, log logrus.FieldLogger) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Infof("✅ Authorized on account %s", bot.Self.UserName)
	return bot, nil
}

func NewBotService(notifier *Notifier, engine *mailbox.Engine, queue JobQueue, classifier *triage.Classifier,
	stats KnowledgeStats, localizer *localization.Localizer, lang string, log logrus.FieldLogger) *BotService {
	return &BotService{
		Notifier:   notifier,
		Engine:     engine,
		Queue:      queue,
		Classifier: classifier,
		Knowledge:  stats,
		Localizer:  localizer,
		Lang:       lang,
		log:        log.WithField("component", "bot"),
	}
}

// Announce повідомляє чат про запуск.
func (s *BotService) Announce(ctx context.Context) {
	if err := s.Notifier.Send(ctx, s.t("started"), tgbotapi.ModeHTML); err != nil {
		s.log.WithError(err).Warn("failed to send startup message")
	}
}

// HandleMessage is the poller's MessageHandler.
func (s *BotService) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() && s.handleCommand(ctx, msg.Command()) {
		return
	}
	s.handleQuestion(ctx, msg.Text)
}

// handleCommand returns false for commands the bot does not know; those are
// treated as ordinary questions.
func (s *BotService) handleCommand(ctx context.Context, command string) bool {
	var (
		reply string
		err   error
	)
	switch command {
	case "start":
		reply = s.t("start")
	case "help":
		reply = s.t("help")
	case "status":
		reply, err = s.statusText(ctx)
	case "context":
		reply, err = s.contextText()
	case "pending":
		reply, err = s.pendingText(ctx)
	default:
		return false
	}

	if err != nil {
		s.log.WithError(err).WithField("command", command).Error("command failed")
		reply = s.t("command_error")
	}
	s.reply(ctx, reply, tgbotapi.ModeHTML)
	return true
}

func (s *BotService) handleQuestion(ctx context.Context, text string) {
	id, err := s.Engine.Submit(ctx, text)
	if err != nil {
		s.log.WithError(err).Error("failed to submit question")
		s.reply(ctx, s.t("save_error"), "")
		return
	}

	if s.Classifier != nil && s.Classifier.Classify(text) == triage.Fast {
		s.Notifier.Typing()
	}

	// Відповідь доставляє сам engine; тут лише підтвердження для черги.
	ackCtx := context.WithoutCancel(ctx)
	err = s.Queue.Enqueue(mailbox.Job{
		QuestionID: id,
		Text:       text,
		Done: func(out mailbox.Outcome, err error) {
			s.acknowledge(ackCtx, id, out, err)
		},
	})
	if errors.Is(err, mailbox.ErrQueueFull) {
		s.log.WithField("question_id", id).Warn("dispatch queue full, question left for deferred responder")
		s.reply(ctx, fmt.Sprintf(s.t("fallback"), id), "")
	} else if err != nil {
		s.log.WithError(err).WithField("question_id", id).Error("failed to enqueue question")
		s.reply(ctx, fmt.Sprintf(s.t("fallback"), id), "")
	}
}

func (s *BotService) acknowledge(ctx context.Context, id uint, out mailbox.Outcome, err error) {
	if err != nil {
		s.reply(ctx, fmt.Sprintf(s.t("fallback"), id), "")
		return
	}
	switch out.Kind {
	case mailbox.OutcomeDeferred:
		s.reply(ctx, fmt.Sprintf(s.t("queued"), id), "")
	case mailbox.OutcomeFallback:
		s.reply(ctx, fmt.Sprintf(s.t("fallback"), id), "")
	}
}

func (s *BotService) statusText(ctx context.Context) (string, error) {
	count, err := s.Engine.PendingCount(ctx)
	if err != nil {
		return "", err
	}
	recent, err := s.Engine.History(ctx, recentActivityLimit)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(s.t("status_header"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, s.t("status_pending"), count)
	b.WriteString("\n\n")
	if len(recent) == 0 {
		b.WriteString(s.t("status_empty"))
		return b.String(), nil
	}
	b.WriteString(s.t("status_recent"))
	for _, m := range recent {
		icon := "📥"
		if m.Direction == models.Outgoing {
			icon = "📤"
		}
		fmt.Fprintf(&b, "\n%s #%d [%s] %s", icon, m.ID, m.Status, html.EscapeString(m.Preview(previewRunes)))
	}
	return b.String(), nil
}

func (s *BotService) pendingText(ctx context.Context) (string, error) {
	pending, err := s.Engine.ListPending(ctx)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return s.t("pending_empty"), nil
	}

	var b strings.Builder
	b.WriteString(s.t("pending_header"))
	b.WriteString("\n")
	for i, m := range pending {
		if i == pendingListLimit {
			fmt.Fprintf(&b, "\n… +%d", len(pending)-pendingListLimit)
			break
		}
		fmt.Fprintf(&b, "\n#%d: %s", m.ID, html.EscapeString(m.Preview(previewRunes)))
	}
	return b.String(), nil
}

func (s *BotService) contextText() (string, error) {
	if s.Knowledge == nil {
		return s.t("context_no_document"), nil
	}
	st, err := s.Knowledge.Stats()
	if err != nil {
		return "", err
	}

	lines := []string{s.t("context_header"), ""}
	if st.DocumentPresent {
		lines = append(lines, fmt.Sprintf(s.t("context_document"), st.DocumentBytes))
	} else {
		lines = append(lines, s.t("context_no_document"))
	}
	lines = append(lines, fmt.Sprintf(s.t("context_facts"), st.FactCount))
	if len(st.Categories) > 0 {
		lines = append(lines, fmt.Sprintf(s.t("context_categories"), html.EscapeString(strings.Join(st.Categories, ", "))))
	}
	return strings.Join(lines, "\n"), nil
}

func (s *BotService) reply(ctx context.Context, text, parseMode string) {
	if err := s.Notifier.Send(ctx, text, parseMode); err != nil {
		s.log.WithError(err).Warn("failed to send reply")
	}
}

func (s *BotService) t(key string) string {
	return s.Localizer.GetString(s.Lang, key)
}
