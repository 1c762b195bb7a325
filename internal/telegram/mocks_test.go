package telegram

import (
	"context"
	"mailbox/backend/internal/mailbox"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/mock"
)

// MockSender is a testify mock of Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func (m *MockSender) GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	args := m.Called(config)
	updates, _ := args.Get(0).([]tgbotapi.Update)
	return updates, args.Error(1)
}

func (m *MockSender) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	args := m.Called(endpoint, params)
	return &tgbotapi.APIResponse{Ok: true}, args.Error(0)
}

// sentTexts returns the text of every message passed to Send, in order.
func (m *MockSender) sentTexts() []string {
	var out []string
	for _, call := range m.Calls {
		if call.Method != "Send" {
			continue
		}
		if msg, ok := call.Arguments.Get(0).(tgbotapi.MessageConfig); ok {
			out = append(out, msg.Text)
		}
	}
	return out
}

// MockResponder is a testify mock of responder.Responder.
type MockResponder struct {
	mock.Mock
}

func (m *MockResponder) Answer(ctx context.Context, question, knowledge string) (string, error) {
	args := m.Called(ctx, question, knowledge)
	return args.String(0), args.Error(1)
}

// syncQueue runs jobs inline so tests see the acknowledgement immediately.
type syncQueue struct {
	engine *mailbox.Engine
}

func (q syncQueue) Enqueue(job mailbox.Job) error {
	out, err := q.engine.TriageAndDispatch(context.Background(), job.QuestionID, job.Text)
	if job.Done != nil {
		job.Done(out, err)
	}
	return nil
}

type fullQueue struct{}

func (fullQueue) Enqueue(mailbox.Job) error { return mailbox.ErrQueueFull }

type memCursor struct {
	mu      sync.Mutex
	offsets map[string]int
}

func newMemCursor() *memCursor {
	return &memCursor{offsets: make(map[string]int)}
}

func (c *memCursor) LoadOffset(_ context.Context, name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsets[name], nil
}

func (c *memCursor) SaveOffset(_ context.Context, name string, offset int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsets[name] = offset
	return nil
}
