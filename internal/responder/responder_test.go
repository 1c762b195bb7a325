package responder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcResponder func(ctx context.Context, question, knowledge string) (string, error)

func (f funcResponder) Answer(ctx context.Context, question, knowledge string) (string, error) {
	return f(ctx, question, knowledge)
}

func TestWithTimeout_ReturnsAnswer(t *testing.T) {
	r := WithTimeout(funcResponder(func(_ context.Context, q, k string) (string, error) {
		return "echo:" + q + ":" + k, nil
	}), time.Second)

	got, err := r.Answer(context.Background(), "q", "k")
	require.NoError(t, err)
	assert.Equal(t, "echo:q:k", got)
}

func TestWithTimeout_DiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	slow := funcResponder(func(context.Context, string, string) (string, error) {
		<-release
		return "too late", nil
	})

	start := time.Now()
	got, err := WithTimeout(slow, 20*time.Millisecond).Answer(context.Background(), "q", "")
	close(release)

	assert.Empty(t, got)
	assert.ErrorIs(t, err, ErrResponder)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeout_WrapsForeignErrors(t *testing.T) {
	boom := errors.New("boom")
	r := WithTimeout(funcResponder(func(context.Context, string, string) (string, error) {
		return "", boom
	}), time.Second)

	_, err := r.Answer(context.Background(), "q", "")
	assert.ErrorIs(t, err, ErrResponder)
	assert.ErrorIs(t, err, boom)
}

func TestWithTimeout_NonPositiveUsesDefault(t *testing.T) {
	next := funcResponder(func(context.Context, string, string) (string, error) {
		return "", errors.New("boom")
	})

	for _, d := range []time.Duration{0, -time.Second} {
		r, ok := WithTimeout(next, d).(*timeoutResponder)
		require.True(t, ok)
		assert.Equal(t, DefaultTimeout, r.timeout)

		_, err := r.Answer(context.Background(), "q", "")
		assert.ErrorIs(t, err, ErrResponder)
	}
}

func TestUserPrompt(t *testing.T) {
	assert.Equal(t, "q", userPrompt("q", ""))
	assert.Equal(t, "Context:\nk\n\nQuestion:\nq", userPrompt("q", "k"))
}

func completionServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okCompletion = `{"id":"c1","object":"chat.completion","created":1,"model":"gemini-2.5-flash",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" Хорошо "}}]}`

func TestOpenAIResponder_Answer(t *testing.T) {
	var req map[string]any
	srv := completionServer(t, http.StatusOK, okCompletion, &req)

	r := NewOpenAIResponder(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "test-key"})
	got, err := r.Answer(context.Background(), "Как дела?", "## infra\nVM1")
	require.NoError(t, err)
	assert.Equal(t, "Хорошо", got)

	assert.Equal(t, DefaultModel, req["model"])
	assert.InDelta(t, DefaultTemperature, req["temperature"], 0.001)
	msgs, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)
	parts, ok := user["content"].([]any)
	require.True(t, ok, "user content is sent as text parts")
	require.NotEmpty(t, parts)
	text, _ := parts[0].(map[string]any)["text"].(string)
	assert.Contains(t, text, "Как дела?")
	assert.Contains(t, text, "VM1")
}

func TestOpenAIResponder_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"auth"}}`},
		{"no choices", http.StatusOK, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`},
		{"empty content", http.StatusOK, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  "}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, tt.status, tt.body, nil)
			r := NewOpenAIResponder(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "test-key"})

			_, err := r.Answer(context.Background(), "q", "")
			assert.ErrorIs(t, err, ErrResponder)
		})
	}
}

// fakeChatModel records the last prompt and returns a canned reply.
type fakeChatModel struct {
	reply string
	err   error
	last  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.last = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.last = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(f.reply, nil)}), nil
}

func (f *fakeChatModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestChatModelResponder_Answer(t *testing.T) {
	fake := &fakeChatModel{reply: "Хорошо"}
	r, err := NewChatModelResponder(context.Background(), "fake", fake, "be brief {not a var}")
	require.NoError(t, err)

	got, err := r.Answer(context.Background(), "Как дела?", "facts {x}")
	require.NoError(t, err)
	assert.Equal(t, "Хорошо", got)

	require.Len(t, fake.last, 2)
	assert.Equal(t, schema.System, fake.last[0].Role)
	assert.Equal(t, "be brief {not a var}", fake.last[0].Content)
	assert.Equal(t, "Context:\nfacts {x}\n\nQuestion:\nКак дела?", fake.last[1].Content)
}

func TestChatModelResponder_Failures(t *testing.T) {
	boom := errors.New("upstream down")
	r, err := NewChatModelResponder(context.Background(), "fake", &fakeChatModel{err: boom}, "")
	require.NoError(t, err)
	_, err = r.Answer(context.Background(), "q", "")
	assert.ErrorIs(t, err, ErrResponder)

	r, err = NewChatModelResponder(context.Background(), "fake", &fakeChatModel{reply: " "}, "")
	require.NoError(t, err)
	_, err = r.Answer(context.Background(), "q", "")
	assert.ErrorIs(t, err, ErrResponder)
}
