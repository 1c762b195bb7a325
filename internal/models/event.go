package models

import "time"

// EventType names a mailbox lifecycle notification.
type EventType string

const (
	EventQuestionReceived EventType = "question.received"
	EventQuestionQueued   EventType = "question.queued"
	EventAnswerRecorded   EventType = "answer.recorded"
	EventAnswerDelivered  EventType = "answer.delivered"
)

// Event публікується в Redis Pub/Sub та в websocket-стрім.
type Event struct {
	Type       EventType `json:"type"`
	MessageID  uint      `json:"message_id"`
	QuestionID uint      `json:"question_id,omitempty"`
	Content    string    `json:"content,omitempty"`
	// Origin identifies the process that produced the event.
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}
