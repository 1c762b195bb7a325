package storage

import (
	"context"
	"encoding/json"
	"errors"
	"mailbox/backend/internal/models"
	"strconv"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventsChannel is the Redis Pub/Sub channel shared by all mailbox processes.
const EventsChannel = "mailbox:events"

// ErrNoRedis is returned by Pub/Sub operations when Redis is not configured.
var ErrNoRedis = errors.New("redis is not configured")

func cursorKey(name string) string {
	return "mailbox:cursor:" + name
}

// LoadOffset повертає збережений offset або 0, якщо його ще немає.
func (s *Service) LoadOffset(ctx context.Context, name string) (int, error) {
	if s.Redis != nil {
		val, err := s.Redis.Get(ctx, cursorKey(name)).Result()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		if err != nil {
			return 0, wrap("load offset", err)
		}
		offset, err := strconv.Atoi(val)
		if err != nil {
			return 0, wrap("load offset", err)
		}
		return offset, nil
	}

	var cursor models.PollCursor
	err := s.DB.WithContext(ctx).Where("name = ?", name).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("load offset", err)
	}
	return cursor.Offset, nil
}

// SaveOffset зберігає offset (upsert).
func (s *Service) SaveOffset(ctx context.Context, name string, offset int) error {
	if s.Redis != nil {
		return wrap("save offset", s.Redis.Set(ctx, cursorKey(name), offset, 0).Err())
	}

	cursor := models.PollCursor{Name: name, Offset: offset}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_offset"}),
	}).Create(&cursor).Error
	return wrap("save offset", err)
}

// PublishEvent публікує подію в Redis Pub/Sub
func (s *Service) PublishEvent(ctx context.Context, event models.Event) error {
	if s.Redis == nil {
		return ErrNoRedis
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, EventsChannel, string(payload)).Err()
}

// SubscribeEvents subscribes to the shared events channel. The caller closes the PubSub.
func (s *Service) SubscribeEvents(ctx context.Context) (*redis.PubSub, error) {
	if s.Redis == nil {
		return nil, ErrNoRedis
	}
	return s.Redis.Subscribe(ctx, EventsChannel), nil
}
