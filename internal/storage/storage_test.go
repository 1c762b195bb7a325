package storage_test

import (
	"context"
	"errors"
	"mailbox/backend/internal/models"
	"mailbox/backend/internal/storage"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *storage.Service {
	t.Helper()
	db, err := storage.OpenDatabase(storage.DriverSQLite, ":memory:", logger.Silent)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return storage.NewStorageService(db, nil)
}

func TestOpenDatabase_EmptyDriverIsSQLite(t *testing.T) {
	db, err := storage.OpenDatabase("", ":memory:", logger.Silent)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	assert.Equal(t, storage.DriverSQLite, db.Dialector.Name())

	_, err = storage.OpenDatabase("oracle", "", logger.Silent)
	assert.Error(t, err)
}

func TestInsert_QuestionStartsPending(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, models.Incoming, "Как дела?", models.StatusPending)
	require.NoError(t, err)

	msg, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, msg.Status)
	assert.Equal(t, models.Incoming, msg.Direction)
	assert.Nil(t, msg.AnsweredAt)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestInsert_IDsIncrease(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	a, err := s.Insert(ctx, models.Incoming, "a", models.StatusPending)
	require.NoError(t, err)
	b, err := s.Insert(ctx, models.Outgoing, "b", models.StatusPending)
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestInsert_RejectsStatusForWrongDirection(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, models.Outgoing, "x", models.StatusAnswered)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	_, err = s.Insert(ctx, models.Incoming, "x", models.StatusSent)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	_, err = s.Insert(ctx, models.Direction("sideways"), "x", models.StatusPending)
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	qID, err := s.Insert(ctx, models.Incoming, "q", models.StatusPending)
	require.NoError(t, err)

	t.Run("answered requires timestamp", func(t *testing.T) {
		err := s.UpdateStatus(ctx, qID, models.StatusAnswered, nil)
		assert.ErrorIs(t, err, storage.ErrInvalidTransition)
	})

	t.Run("incoming cannot be sent", func(t *testing.T) {
		err := s.UpdateStatus(ctx, qID, models.StatusSent, nil)
		assert.ErrorIs(t, err, storage.ErrInvalidTransition)
	})

	t.Run("pending to answered", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, s.UpdateStatus(ctx, qID, models.StatusAnswered, &now))

		msg, err := s.GetMessage(ctx, qID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAnswered, msg.Status)
		require.NotNil(t, msg.AnsweredAt)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		before, err := s.GetMessage(ctx, qID)
		require.NoError(t, err)

		later := time.Now().Add(time.Hour)
		require.NoError(t, s.UpdateStatus(ctx, qID, models.StatusAnswered, &later))

		after, err := s.GetMessage(ctx, qID)
		require.NoError(t, err)
		assert.True(t, before.AnsweredAt.Equal(*after.AnsweredAt), "answered_at is set exactly once")
	})

	t.Run("terminal state cannot go back", func(t *testing.T) {
		err := s.UpdateStatus(ctx, qID, models.StatusPending, nil)
		assert.ErrorIs(t, err, storage.ErrInvalidTransition)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := s.UpdateStatus(ctx, 9999, models.StatusSent, nil)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestRecordAnswer_LinksAnswerToQuestion(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	qID, err := s.Insert(ctx, models.Incoming, "разверни новый сервис", models.StatusPending)
	require.NoError(t, err)

	answer, err := s.RecordAnswer(ctx, qID, "Готово", models.ResponderDeferred)
	require.NoError(t, err)
	require.NotNil(t, answer.AnswersQuestionID)
	assert.Equal(t, qID, *answer.AnswersQuestionID)
	assert.Equal(t, models.Outgoing, answer.Direction)
	assert.Equal(t, models.StatusPending, answer.Status)
	assert.Nil(t, answer.AnsweredAt)

	q, err := s.GetMessage(ctx, qID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnswered, q.Status)
	assert.NotNil(t, q.AnsweredAt)
}

func TestRecordAnswer_RejectsSecondAnswer(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	qID, err := s.Insert(ctx, models.Incoming, "q", models.StatusPending)
	require.NoError(t, err)
	_, err = s.RecordAnswer(ctx, qID, "first", models.ResponderDeferred)
	require.NoError(t, err)

	_, err = s.RecordAnswer(ctx, qID, "second", models.ResponderDeferred)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	history, err := s.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2, "rejected answer must not be stored")
}

func TestRecordAnswer_RejectsMissingAndOutgoing(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.RecordAnswer(ctx, 42, "x", models.ResponderDeferred)
	var nf *storage.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, uint(42), nf.ID)

	outID, err := s.Insert(ctx, models.Outgoing, "answer", models.StatusPending)
	require.NoError(t, err)
	_, err = s.RecordAnswer(ctx, outID, "x", models.ResponderDeferred)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordAnswer_ConcurrentAnswersOnlyOneWins(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	qID, err := s.Insert(ctx, models.Incoming, "q", models.StatusPending)
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordAnswer(ctx, qID, "a", models.ResponderDeferred)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
	assert.Equal(t, 1, wins)
}

func TestMarkSent_Idempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, models.Outgoing, "Хорошо", models.StatusPending)
	require.NoError(t, err)

	require.NoError(t, s.MarkSent(ctx, id))
	require.NoError(t, s.MarkSent(ctx, id))

	msg, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)
}

func TestPendingQueries_OrderAndFilters(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	q1, _ := s.Insert(ctx, models.Incoming, "first", models.StatusPending)
	q2, _ := s.Insert(ctx, models.Incoming, "second", models.StatusPending)
	q3, _ := s.Insert(ctx, models.Incoming, "third", models.StatusPending)
	a2, err := s.RecordAnswer(ctx, q2, "done", models.ResponderDeferred)
	require.NoError(t, err)

	pending, err := s.PendingIncoming(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, q1, pending[0].ID)
	assert.Equal(t, q3, pending[1].ID)

	count, err := s.CountPendingIncoming(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	out, err := s.PendingOutgoing(ctx, 3)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, a2.ID, out[0].ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.IncrementDeliveryAttempts(ctx, a2.ID))
	}
	out, err = s.PendingOutgoing(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, out, "answers past the attempt cap are skipped")

	out, err = s.PendingOutgoing(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestIncrementDeliveryAttempts_OnlyAnswers(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	qID, _ := s.Insert(ctx, models.Incoming, "q", models.StatusPending)
	assert.ErrorIs(t, s.IncrementDeliveryAttempts(ctx, qID), storage.ErrNotFound)
}

func TestHistory_NewestFirstWithDefaultLimit(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	var last uint
	for i := 0; i < storage.DefaultHistoryLimit+5; i++ {
		id, err := s.Insert(ctx, models.Incoming, "q", models.StatusPending)
		require.NoError(t, err)
		last = id
	}

	history, err := s.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, storage.DefaultHistoryLimit)
	assert.Equal(t, last, history[0].ID)

	history, err = s.History(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestOffset_DatabaseFallback(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	offset, err := s.LoadOffset(ctx, "telegram")
	require.NoError(t, err)
	assert.Equal(t, 0, offset)

	require.NoError(t, s.SaveOffset(ctx, "telegram", 17))
	require.NoError(t, s.SaveOffset(ctx, "telegram", 18))

	offset, err = s.LoadOffset(ctx, "telegram")
	require.NoError(t, err)
	assert.Equal(t, 18, offset)
}

func TestOffset_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := newTestService(t)
	s.Redis = rdb
	ctx := context.Background()

	offset, err := s.LoadOffset(ctx, "telegram")
	require.NoError(t, err)
	assert.Equal(t, 0, offset)

	require.NoError(t, s.SaveOffset(ctx, "telegram", 101))
	val, err := mr.Get("mailbox:cursor:telegram")
	require.NoError(t, err)
	assert.Equal(t, "101", val)

	offset, err = s.LoadOffset(ctx, "telegram")
	require.NoError(t, err)
	assert.Equal(t, 101, offset)
}

func TestPublishEvent_WithoutRedis(t *testing.T) {
	s := newTestService(t)
	err := s.PublishEvent(context.Background(), models.Event{Type: models.EventAnswerRecorded})
	assert.ErrorIs(t, err, storage.ErrNoRedis)
}

func TestStorageError_WrapsDatabaseFailure(t *testing.T) {
	s := newTestService(t)
	sqlDB, err := s.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = s.Insert(context.Background(), models.Incoming, "q", models.StatusPending)
	var se *storage.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "insert", se.Op)
}
