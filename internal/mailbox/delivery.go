package mailbox

import (
	"context"
	"mailbox/backend/internal/models"

	"github.com/sirupsen/logrus"
)

// claim marks an answer as being delivered. It returns false when another
// goroutine is already delivering it.
func (e *Engine) claim(id uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

func (e *Engine) release(id uint) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

// deliver sends one answer and marks it sent. It reports whether the chat
// accepted the message.
func (e *Engine) deliver(ctx context.Context, msg *models.Message) bool {
	if e.deliverer == nil {
		return false
	}
	if !e.claim(msg.ID) {
		return false
	}
	defer e.release(msg.ID)

	return e.send(ctx, msg)
}

func (e *Engine) send(ctx context.Context, msg *models.Message) bool {
	log := e.log.WithField("answer_id", msg.ID)

	dctx, cancel := context.WithTimeout(ctx, e.deliveryTimeout)
	err := e.deliverer.Deliver(dctx, msg)
	cancel()
	if err != nil {
		log.WithError(err).WithField("attempt", msg.DeliveryAttempts+1).Warn("answer delivery failed")
		if ierr := e.store.IncrementDeliveryAttempts(ctx, msg.ID); ierr != nil {
			log.WithError(ierr).Error("failed to record delivery attempt")
		}
		return false
	}

	if err := e.store.MarkSent(ctx, msg.ID); err != nil {
		// Повідомлення вже в чаті; sweep може надіслати його ще раз.
		log.WithError(err).Error("answer delivered but not marked sent")
		return true
	}

	ev := models.Event{Type: models.EventAnswerDelivered, MessageID: msg.ID}
	if msg.AnswersQuestionID != nil {
		ev.QuestionID = *msg.AnswersQuestionID
	}
	e.publish(ctx, ev)
	return true
}

// FlushPendingDeliveries retries every undelivered answer under the attempt
// cap, oldest first. Answers whose delivery is already running are skipped.
func (e *Engine) FlushPendingDeliveries(ctx context.Context) (int, error) {
	if e.deliverer == nil {
		return 0, nil
	}

	pending, err := e.store.PendingOutgoing(ctx, e.maxAttempts)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		id := pending[i].ID
		if !e.claim(id) {
			continue
		}

		// Перечитуємо: поки ми брали список, відповідь могли вже доставити.
		current, err := e.store.GetMessage(ctx, id)
		if err != nil || current.Status != models.StatusPending {
			e.release(id)
			continue
		}
		if e.send(ctx, current) {
			delivered++
		}
		e.release(id)
	}

	if len(pending) > 0 {
		e.log.WithFields(logrus.Fields{"pending": len(pending), "delivered": delivered}).Info("delivery sweep finished")
	}
	return delivered, nil
}
