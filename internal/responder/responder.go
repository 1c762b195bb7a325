// Package responder wraps the fast LLM backends that answer questions
// synchronously. Every failure is reported as *Error so the mailbox can fall
// back to the deferred queue without inspecting backend specifics.
package responder

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrResponder is matched by every *Error.
var ErrResponder = errors.New("responder failed")

// DefaultTimeout bounds a call when no positive timeout is configured.
const DefaultTimeout = 60 * time.Second

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = `You are a concise, helpful assistant answering in the chat.
Answer short questions directly. If a request needs changes on servers,
deployments or code, say that it has been handed over to the administrator.
Use the context below when it is relevant.`

// Responder answers a question using the supplied knowledge context.
type Responder interface {
	Answer(ctx context.Context, question, knowledge string) (string, error)
}

// Error описує невдалий виклик бекенда.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("responder %s: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrResponder }

var errEmptyAnswer = errors.New("empty answer")

type timeoutResponder struct {
	next    Responder
	timeout time.Duration
}

// WithTimeout bounds every call to next. The call runs on its own goroutine;
// at the deadline the caller gets a timeout *Error and the late result is
// dropped. A non-positive timeout means DefaultTimeout.
func WithTimeout(next Responder, timeout time.Duration) Responder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timeoutResponder{next: next, timeout: timeout}
}

type result struct {
	answer string
	err    error
}

func (t *timeoutResponder) Answer(ctx context.Context, question, knowledge string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// буферизований канал: горутина не зависне, якщо ми вже пішли
	done := make(chan result, 1)
	go func() {
		answer, err := t.next.Answer(ctx, question, knowledge)
		done <- result{answer: answer, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			var re *Error
			if errors.As(r.err, &re) {
				return "", r.err
			}
			return "", &Error{Backend: "unknown", Err: r.err}
		}
		return r.answer, nil
	case <-ctx.Done():
		return "", &Error{Backend: "timeout", Err: fmt.Errorf("no answer within %s: %w", t.timeout, ctx.Err())}
	}
}

// userPrompt склеює контекст і питання в одне повідомлення користувача.
func userPrompt(question, knowledge string) string {
	if knowledge == "" {
		return question
	}
	return "Context:\n" + knowledge + "\n\nQuestion:\n" + question
}
