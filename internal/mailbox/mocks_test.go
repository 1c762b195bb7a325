package mailbox_test

import (
	"context"
	"mailbox/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockResponder is a testify mock of responder.Responder.
type MockResponder struct {
	mock.Mock
}

func (m *MockResponder) Answer(ctx context.Context, question, knowledge string) (string, error) {
	args := m.Called(ctx, question, knowledge)
	return args.String(0), args.Error(1)
}

// MockDeliverer is a testify mock of mailbox.Deliverer.
type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Deliver(ctx context.Context, answer *models.Message) error {
	args := m.Called(ctx, answer)
	return args.Error(0)
}

type staticKnowledge string

func (s staticKnowledge) PromptContext() (string, error) { return string(s), nil }
