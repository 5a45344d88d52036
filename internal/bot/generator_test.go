package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amara-dev/chatflow/internal/apperr"
	"github.com/amara-dev/chatflow/internal/models"
)

func completionServer(t *testing.T, handler func(req chatRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		status, content := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": content}},
				},
			})
		} else {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": content},
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateSendsInstructionAndHistory(t *testing.T) {
	var got chatRequest
	srv := completionServer(t, func(req chatRequest) (int, string) {
		got = req
		return http.StatusOK, "Hi, how can I help?"
	})

	client := NewClient(srv.URL, "test-key", "deepseek-chat")
	reply, err := client.Generate(context.Background(),
		[]Turn{
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello!"},
			{Role: "user", Content: "I need help"},
		},
		"You are the support bot for Acme.")

	require.NoError(t, err)
	assert.Equal(t, "Hi, how can I help?", reply)

	assert.Equal(t, "deepseek-chat", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "You are the support bot for Acme.", got.Messages[0].Content)
	assert.Equal(t, "I need help", got.Messages[3].Content)
	assert.InDelta(t, 0.4, got.Temperature, 0.001)
	assert.Equal(t, 300, got.MaxTokens)
}

func TestGenerateFallbackInstruction(t *testing.T) {
	var got chatRequest
	srv := completionServer(t, func(req chatRequest) (int, string) {
		got = req
		return http.StatusOK, "ok"
	})

	client := NewClient(srv.URL, "test-key", "deepseek-chat")
	_, err := client.Generate(context.Background(), nil, "")

	require.NoError(t, err)
	require.NotEmpty(t, got.Messages)
	assert.Equal(t, FallbackInstruction, got.Messages[0].Content)
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := completionServer(t, func(chatRequest) (int, string) {
		return http.StatusTooManyRequests, "rate limited"
	})

	client := NewClient(srv.URL, "test-key", "deepseek-chat")
	_, err := client.Generate(context.Background(), nil, "x")

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestGenerateRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "test-key", "deepseek-chat")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, nil, "x")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestHistoryTurnsReversesPage(t *testing.T) {
	page := []models.Message{
		{Role: models.RoleAssistant, Content: "newest"},
		{Role: models.RoleUser, Content: "middle"},
		{Role: models.RoleUser, Content: "oldest"},
	}

	turns := HistoryTurns(page)
	require.Len(t, turns, 3)
	assert.Equal(t, "oldest", turns[0].Content)
	assert.Equal(t, "newest", turns[2].Content)
	assert.Equal(t, "assistant", turns[2].Role)
}
