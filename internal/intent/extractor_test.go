package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/aide/internal/llm"
)

// mockChatter implements Chatter for testing.
type mockChatter struct {
	response string
	err      error
	delay    time.Duration
	messages []llm.Message
	schema   *llm.Schema
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []llm.Message, schema *llm.Schema) (string, error) {
	m.messages = messages
	m.schema = schema
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func TestExtract_ValidAction(t *testing.T) {
	mock := &mockChatter{response: `{"action":"send_email","parameters":{"recipient":"Ana","subject":"rent","mood":"happy"}}`}
	got := NewLLMExtractor(mock, "phi3.5").Extract(context.Background(), "shoot Ana a note about rent")

	assert.Equal(t, ActionIntent{
		Action:     SendEmail,
		Parameters: map[string]string{"recipient": "Ana", "subject": "rent"},
		Executable: true,
	}, got)

	require.NotNil(t, mock.schema)
	assert.Contains(t, mock.schema.Properties["action"].Enum, "none")
	require.Len(t, mock.messages, 2)
	assert.True(t, strings.Contains(mock.messages[0].Content, "book_ride(destination)"))
	assert.Equal(t, "shoot Ana a note about rent", mock.messages[1].Content)
}

func TestExtract_FailuresYieldZeroIntent(t *testing.T) {
	cases := map[string]*mockChatter{
		"none action":    {response: `{"action":"none","parameters":{}}`},
		"unknown action": {response: `{"action":"launch_rocket","parameters":{}}`},
		"malformed json": {response: `not json`},
		"chat error":     {err: errors.New("connection refused")},
	}
	for name, mock := range cases {
		t.Run(name, func(t *testing.T) {
			got := NewLLMExtractor(mock, "phi3.5").Extract(context.Background(), "do something")
			assert.Equal(t, ActionIntent{}, got)
		})
	}
}

func TestExtract_Timeout(t *testing.T) {
	mock := &mockChatter{response: `{"action":"book_ride","parameters":{}}`, delay: 10 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := NewLLMExtractor(mock, "phi3.5").Extract(ctx, "get me home")
	assert.Equal(t, ActionIntent{}, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExtract_EmptyTextSkipsLLM(t *testing.T) {
	mock := &mockChatter{}
	assert.Equal(t, ActionIntent{}, NewLLMExtractor(mock, "phi3.5").Extract(context.Background(), ""))
	assert.Nil(t, mock.messages)
}
