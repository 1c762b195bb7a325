package models_test

import (
	"mailbox/backend/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirection_Valid(t *testing.T) {
	assert.True(t, models.Incoming.Valid())
	assert.True(t, models.Outgoing.Valid())
	assert.False(t, models.Direction("sideways").Valid())
	assert.False(t, models.Direction("").Valid())
}

// TestMessagePreview_CountsRunes verifies truncation does not split Cyrillic characters.
func TestMessagePreview_CountsRunes(t *testing.T) {
	m := &models.Message{Content: "Привет, мир"}

	assert.Equal(t, "Привет...", m.Preview(6))
	assert.Equal(t, "Привет, мир", m.Preview(100))
	assert.Equal(t, "Привет, мир", m.Preview(0), "non-positive limit disables truncation")
}

func TestMessage_IsQuestion(t *testing.T) {
	assert.True(t, (&models.Message{Direction: models.Incoming}).IsQuestion())
	assert.False(t, (&models.Message{Direction: models.Outgoing}).IsQuestion())
}
