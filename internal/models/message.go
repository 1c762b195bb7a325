package models

import "time"

// Direction визначає, хто автор повідомлення.
type Direction string

const (
	// Incoming is a question from the chat user.
	Incoming Direction = "incoming"
	// Outgoing is an answer produced by a responder.
	Outgoing Direction = "outgoing"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Incoming || d == Outgoing
}

// Status is the lifecycle state of a Message.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered" // тільки для incoming
	StatusSent     Status = "sent"     // тільки для outgoing
)

// Responder names the path that produced an outgoing answer.
const (
	ResponderFast     = "fast"
	ResponderDeferred = "deferred"
)

// Message is one row of the mailbox. Rows are append-only: the only mutations
// after insert are the status transitions and the delivery attempt counter.
type Message struct {
	// ID is assigned by the database, strictly increasing and never reused.
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Direction Direction `gorm:"type:varchar(16);not null;index:idx_dir_status" json:"direction"`
	// Content is stored in full; truncation happens only at display time.
	Content string `gorm:"type:text;not null" json:"content"`
	Status  Status `gorm:"type:varchar(16);not null;index:idx_dir_status" json:"status"`

	// AnswersQuestionID links an outgoing answer to the question it resolves.
	AnswersQuestionID *uint  `gorm:"index" json:"answers_question_id,omitempty"`
	Responder         string `gorm:"type:varchar(16)" json:"responder,omitempty"`
	DeliveryAttempts  int    `gorm:"not null;default:0" json:"delivery_attempts"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	// AnsweredAt is set exactly once, when an incoming question becomes answered.
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// IsQuestion reports whether m is an incoming question.
func (m *Message) IsQuestion() bool {
	return m.Direction == Incoming
}

// Preview повертає вміст, обрізаний до limit рун, для списків і логів.
func (m *Message) Preview(limit int) string {
	r := []rune(m.Content)
	if limit <= 0 || len(r) <= limit {
		return m.Content
	}
	return string(r[:limit]) + "..."
}

// PollCursor зберігає offset long-poll циклу, коли Redis не налаштовано.
type PollCursor struct {
	Name   string `gorm:"primaryKey;type:varchar(64)"`
	Offset int    `gorm:"column:next_offset;not null"`
}
