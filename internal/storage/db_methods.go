package storage

import (
	"context"
	"errors"
	"fmt"
	"mailbox/backend/internal/models"
	"time"

	"gorm.io/gorm"
)

// DefaultHistoryLimit is used when History is called with a non-positive limit.
const DefaultHistoryLimit = 20

// Insert додає нове повідомлення і повертає його ID.
func (s *Service) Insert(ctx context.Context, direction models.Direction, content string, status models.Status) (uint, error) {
	if !direction.Valid() {
		return 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidTransition, direction)
	}
	if !statusAllowed(direction, status) {
		return 0, fmt.Errorf("%w: %s message cannot be %s", ErrInvalidTransition, direction, status)
	}

	now := time.Now().UTC()
	msg := models.Message{
		Direction: direction,
		Content:   content,
		Status:    status,
		CreatedAt: now,
	}
	if status == models.StatusAnswered {
		msg.AnsweredAt = &now
	}

	if err := s.DB.WithContext(ctx).Create(&msg).Error; err != nil {
		return 0, wrap("insert", err)
	}
	return msg.ID, nil
}

func statusAllowed(direction models.Direction, status models.Status) bool {
	switch status {
	case models.StatusPending:
		return true
	case models.StatusAnswered:
		return direction == models.Incoming
	case models.StatusSent:
		return direction == models.Outgoing
	}
	return false
}

// UpdateStatus переводить повідомлення в новий статус.
// Legal moves are incoming pending→answered (answeredAt required) and
// outgoing pending→sent. Setting the current status again is a no-op. The
// UPDATE is conditional on the row still being pending, so of two racing
// writers only one can set answered_at.
func (s *Service) UpdateStatus(ctx context.Context, id uint, status models.Status, answeredAt *time.Time) error {
	db := s.DB.WithContext(ctx)

	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg.Status == status {
		return nil
	}
	if msg.Status != models.StatusPending || !statusAllowed(msg.Direction, status) || status == models.StatusPending {
		return fmt.Errorf("%w: %s message %d from %s to %s", ErrInvalidTransition, msg.Direction, id, msg.Status, status)
	}

	updates := map[string]interface{}{"status": status}
	if status == models.StatusAnswered {
		if answeredAt == nil {
			return fmt.Errorf("%w: answered_at is required for message %d", ErrInvalidTransition, id)
		}
		updates["answered_at"] = answeredAt.UTC()
	}

	res := db.Model(&models.Message{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return wrap("update status", res.Error)
	}
	if res.RowsAffected == 0 {
		// Хтось інший встиг першим.
		if status == models.StatusSent {
			return nil
		}
		return &NotFoundError{ID: id, Reason: "no longer pending"}
	}
	return nil
}

// RecordAnswer atomically marks the question answered and inserts the
// outgoing answer referencing it. Nothing is written when the question is
// missing, is not incoming, or has already been answered.
func (s *Service) RecordAnswer(ctx context.Context, questionID uint, content, responder string) (*models.Message, error) {
	var answer *models.Message

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		res := tx.Model(&models.Message{}).
			Where("id = ? AND direction = ? AND status = ?", questionID, models.Incoming, models.StatusPending).
			Updates(map[string]interface{}{
				"status":      models.StatusAnswered,
				"answered_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return explainMiss(tx, questionID)
		}

		qid := questionID
		answer = &models.Message{
			Direction:         models.Outgoing,
			Content:           content,
			Status:            models.StatusPending,
			AnswersQuestionID: &qid,
			Responder:         responder,
			CreatedAt:         now,
		}
		return tx.Create(answer).Error
	})
	if err != nil {
		return nil, wrap("record answer", err)
	}
	return answer, nil
}

// explainMiss пояснює, чому умовний UPDATE не зачепив жодного рядка.
func explainMiss(tx *gorm.DB, id uint) error {
	var msg models.Message
	err := tx.First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{ID: id}
	}
	if err != nil {
		return err
	}
	if msg.Direction != models.Incoming {
		return &NotFoundError{ID: id, Reason: "not a question"}
	}
	return &NotFoundError{ID: id, Reason: "already " + string(msg.Status)}
}

// MarkSent завершує доставку відповіді. Повторний виклик нічого не змінює.
func (s *Service) MarkSent(ctx context.Context, id uint) error {
	return s.UpdateStatus(ctx, id, models.StatusSent, nil)
}

// IncrementDeliveryAttempts bumps the failed delivery counter of an answer.
func (s *Service) IncrementDeliveryAttempts(ctx context.Context, id uint) error {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND direction = ?", id, models.Outgoing).
		UpdateColumn("delivery_attempts", gorm.Expr("delivery_attempts + ?", 1))
	if res.Error != nil {
		return wrap("increment delivery attempts", res.Error)
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{ID: id, Reason: "not an answer"}
	}
	return nil
}

// GetMessage повертає повідомлення за ID.
func (s *Service) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, wrap("get message", err)
	}
	return &msg, nil
}

// PendingIncoming returns unanswered questions, oldest first.
func (s *Service) PendingIncoming(ctx context.Context) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("direction = ? AND status = ?", models.Incoming, models.StatusPending).
		Order("id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, wrap("pending incoming", err)
	}
	return msgs, nil
}

// PendingOutgoing returns undelivered answers, oldest first. Answers that
// already failed maxAttempts times are skipped; maxAttempts <= 0 disables the cap.
func (s *Service) PendingOutgoing(ctx context.Context, maxAttempts int) ([]models.Message, error) {
	q := s.DB.WithContext(ctx).
		Where("direction = ? AND status = ?", models.Outgoing, models.StatusPending)
	if maxAttempts > 0 {
		q = q.Where("delivery_attempts < ?", maxAttempts)
	}

	var msgs []models.Message
	if err := q.Order("id asc").Find(&msgs).Error; err != nil {
		return nil, wrap("pending outgoing", err)
	}
	return msgs, nil
}

// History повертає останні limit повідомлень, найновіші першими.
func (s *Service) History(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var msgs []models.Message
	err := s.DB.WithContext(ctx).Order("id desc").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, wrap("history", err)
	}
	return msgs, nil
}

// CountPendingIncoming рахує питання, що чекають на відповідь.
func (s *Service) CountPendingIncoming(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("direction = ? AND status = ?", models.Incoming, models.StatusPending).
		Count(&n).Error
	if err != nil {
		return 0, wrap("count pending", err)
	}
	return n, nil
}
