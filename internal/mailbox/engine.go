// Package mailbox owns the question/answer lifecycle: it records questions,
// runs triage, calls the fast responder, records answers and hands them to
// the delivery sink. Fast-path failures leave the question pending for the
// deferred responder.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"mailbox/backend/internal/events"
	"mailbox/backend/internal/models"
	"mailbox/backend/internal/responder"
	"mailbox/backend/internal/storage"
	"mailbox/backend/internal/triage"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyQuestion = errors.New("question text is empty")
	ErrEmptyAnswer   = errors.New("answer text is empty")
)

// Deliverer відправляє відповідь у чат.
type Deliverer interface {
	Deliver(ctx context.Context, answer *models.Message) error
}

// KnowledgeSource provides the context appended to fast responder prompts.
type KnowledgeSource interface {
	PromptContext() (string, error)
}

// Config is the explicit set of collaborators and limits of an Engine.
// Storage and Classifier are required; everything else is optional.
type Config struct {
	Storage    storage.Storage
	Classifier *triage.Classifier
	Responder  responder.Responder
	Knowledge  KnowledgeSource
	Deliverer  Deliverer
	Events     events.Publisher
	Logger     logrus.FieldLogger

	ResponderTimeout    time.Duration
	DeliveryTimeout     time.Duration
	MaxDeliveryAttempts int
}

// OutcomeKind says what happened to a question after triage.
type OutcomeKind int

const (
	// OutcomeAnswered: the fast responder answered and the answer was recorded.
	OutcomeAnswered OutcomeKind = iota
	// OutcomeDeferred: triage routed the question to the deferred responder.
	OutcomeDeferred
	// OutcomeFallback: the fast path failed, the question waits in the queue.
	OutcomeFallback
	// OutcomeAlreadyAnswered: someone answered while the fast path was running.
	OutcomeAlreadyAnswered
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAnswered:
		return "answered"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeFallback:
		return "fallback"
	case OutcomeAlreadyAnswered:
		return "already_answered"
	}
	return "unknown"
}

// Outcome describes the result of TriageAndDispatch.
type Outcome struct {
	Kind       OutcomeKind
	QuestionID uint
	AnswerID   uint
	Answer     string
	// Keyword is the triage keyword that deferred the question.
	Keyword string
	// Delivered is true when the answer reached the chat synchronously.
	Delivered bool
	// Err is the responder error behind a fallback.
	Err error
}

type Engine struct {
	store      storage.Storage
	classifier *triage.Classifier
	responder  responder.Responder
	knowledge  KnowledgeSource
	deliverer  Deliverer
	events     events.Publisher
	log        logrus.FieldLogger

	deliveryTimeout time.Duration
	maxAttempts     int

	mu       sync.Mutex
	inFlight map[uint]struct{}
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Storage == nil {
		return nil, errors.New("mailbox: storage is required")
	}
	if cfg.Classifier == nil {
		return nil, errors.New("mailbox: classifier is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	if cfg.ResponderTimeout <= 0 {
		cfg.ResponderTimeout = responder.DefaultTimeout
	}

	e := &Engine{
		store:           cfg.Storage,
		classifier:      cfg.Classifier,
		knowledge:       cfg.Knowledge,
		deliverer:       cfg.Deliverer,
		events:          cfg.Events,
		log:             log.WithField("component", "mailbox"),
		deliveryTimeout: cfg.DeliveryTimeout,
		maxAttempts:     cfg.MaxDeliveryAttempts,
		inFlight:        make(map[uint]struct{}),
	}
	if cfg.Responder != nil {
		e.responder = responder.WithTimeout(cfg.Responder, cfg.ResponderTimeout)
	}
	return e, nil
}

// Submit записує нове питання зі статусом pending.
func (e *Engine) Submit(ctx context.Context, text string) (uint, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyQuestion
	}

	id, err := e.store.Insert(ctx, models.Incoming, text, models.StatusPending)
	if err != nil {
		e.log.WithError(err).Error("failed to store question")
		return 0, err
	}

	e.publish(ctx, models.Event{Type: models.EventQuestionReceived, MessageID: id, Content: text})
	return id, nil
}

// TriageAndDispatch classifies a stored question and runs the fast path when
// allowed. Responder failures are not returned as errors: they produce an
// OutcomeFallback and leave the question pending.
func (e *Engine) TriageAndDispatch(ctx context.Context, id uint, text string) (Outcome, error) {
	log := e.log.WithField("question_id", id)

	if keyword, deferred := e.classifier.Match(text); deferred {
		log.WithFields(logrus.Fields{"verdict": triage.Deferred, "keyword": keyword}).Info("question deferred")
		e.publish(ctx, models.Event{Type: models.EventQuestionQueued, MessageID: id, Content: text})
		return Outcome{Kind: OutcomeDeferred, QuestionID: id, Keyword: keyword}, nil
	}

	if e.responder == nil {
		return e.fallback(ctx, id, text, errors.New("no fast responder configured")), nil
	}

	answer, err := e.responder.Answer(ctx, text, e.promptContext(ctx))
	if err != nil {
		return e.fallback(ctx, id, text, err), nil
	}

	msg, err := e.store.RecordAnswer(ctx, id, answer, models.ResponderFast)
	if errors.Is(err, storage.ErrNotFound) {
		log.Info("question answered concurrently, discarding fast answer")
		return Outcome{Kind: OutcomeAlreadyAnswered, QuestionID: id}, nil
	}
	if err != nil {
		log.WithError(err).Error("failed to record fast answer")
		return Outcome{}, err
	}

	log.WithFields(logrus.Fields{"verdict": triage.Fast, "answer_id": msg.ID}).Info("question answered by fast responder")
	e.publish(ctx, answerEvent(msg))

	return Outcome{
		Kind:       OutcomeAnswered,
		QuestionID: id,
		AnswerID:   msg.ID,
		Answer:     msg.Content,
		Delivered:  e.deliver(ctx, msg),
	}, nil
}

func (e *Engine) fallback(ctx context.Context, id uint, text string, cause error) Outcome {
	e.log.WithError(cause).WithField("question_id", id).Warn("fast responder failed, question left for deferred responder")
	e.publish(ctx, models.Event{Type: models.EventQuestionQueued, MessageID: id, Content: text})
	return Outcome{Kind: OutcomeFallback, QuestionID: id, Err: cause}
}

// Ingest is Submit followed by TriageAndDispatch.
func (e *Engine) Ingest(ctx context.Context, text string) (Outcome, error) {
	id, err := e.Submit(ctx, text)
	if err != nil {
		return Outcome{}, err
	}
	return e.TriageAndDispatch(ctx, id, text)
}

// SubmitDeferredAnswer records an answer from the deferred responder and
// tries to deliver it right away. A failed delivery is retried by the sweep.
func (e *Engine) SubmitDeferredAnswer(ctx context.Context, questionID uint, answer string) (uint, error) {
	if strings.TrimSpace(answer) == "" {
		return 0, ErrEmptyAnswer
	}

	msg, err := e.store.RecordAnswer(ctx, questionID, answer, models.ResponderDeferred)
	if err != nil {
		return 0, err
	}
	e.log.WithFields(logrus.Fields{"question_id": questionID, "answer_id": msg.ID}).Info("deferred answer recorded")
	e.publish(ctx, answerEvent(msg))

	e.deliver(ctx, msg)
	return msg.ID, nil
}

// MarkDelivered переводить відповідь у sent. Повторний виклик безпечний.
func (e *Engine) MarkDelivered(ctx context.Context, answerID uint) error {
	return e.store.MarkSent(ctx, answerID)
}

// ListPending returns unanswered questions, oldest first.
func (e *Engine) ListPending(ctx context.Context) ([]models.Message, error) {
	return e.store.PendingIncoming(ctx)
}

// History returns the latest messages, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]models.Message, error) {
	return e.store.History(ctx, limit)
}

// PendingCount рахує питання в черзі.
func (e *Engine) PendingCount(ctx context.Context) (int64, error) {
	return e.store.CountPendingIncoming(ctx)
}

// promptContext returns the knowledge overlay plus live queue state. Errors
// degrade to a smaller context rather than failing the fast path.
func (e *Engine) promptContext(ctx context.Context) string {
	var parts []string
	if e.knowledge != nil {
		kc, err := e.knowledge.PromptContext()
		if err != nil {
			e.log.WithError(err).Warn("failed to load knowledge context")
		} else if kc != "" {
			parts = append(parts, kc)
		}
	}

	if n, err := e.store.CountPendingIncoming(ctx); err == nil && n > 0 {
		// поточне питання теж pending, тому віднімаємо його
		if n > 1 {
			parts = append(parts, fmt.Sprintf("Questions waiting for the administrator: %d", n-1))
		}
	}
	return strings.Join(parts, "\n\n")
}

func (e *Engine) publish(ctx context.Context, ev models.Event) {
	if e.events != nil {
		e.events.Publish(ctx, ev)
	}
}

func answerEvent(msg *models.Message) models.Event {
	ev := models.Event{Type: models.EventAnswerRecorded, MessageID: msg.ID, Content: msg.Content}
	if msg.AnswersQuestionID != nil {
		ev.QuestionID = *msg.AnswersQuestionID
	}
	return ev
}
