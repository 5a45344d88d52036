// Package bot drafts automated replies through an OpenAI-compatible chat
// completions endpoint.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/amara-dev/chatflow/internal/apperr"
	"github.com/amara-dev/chatflow/internal/models"
)

// FallbackInstruction is used when the company has no instruction configured.
const FallbackInstruction = "You are a helpful assistant."

const (
	defaultTemperature = 0.4
	defaultMaxTokens   = 300
	requestTimeout     = 30 * time.Second
)

// Turn is one prior message handed to the model, oldest first.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator drafts a reply given the conversation so far and the company
// instruction. Implementations must respect ctx cancellation and return
// within a bounded time; a hung generator would otherwise hold a thread's
// serialization point.
type Generator interface {
	Generate(ctx context.Context, history []Turn, instruction string) (string, error)
}

// HistoryTurns converts a most-recent-first transcript page into the
// oldest-first window the model expects.
func HistoryTurns(page []models.Message) []Turn {
	turns := make([]Turn, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		turns = append(turns, Turn{Role: string(page[i].Role), Content: page[i].Content})
	}
	return turns
}

type chatRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls a chat-completions endpoint (DeepSeek, OpenAI, or anything
// API-compatible).
type Client struct {
	http  *resty.Client
	model string
}

func NewClient(baseURL, apiKey, model string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: http, model: model}
}

// Generate sends the instruction as the system message followed by the
// history window and returns the first choice's content.
func (c *Client) Generate(ctx context.Context, history []Turn, instruction string) (string, error) {
	const op = "bot.Generate"

	if instruction == "" {
		instruction = FallbackInstruction
	}

	messages := make([]Turn, 0, len(history)+1)
	messages = append(messages, Turn{Role: "system", Content: instruction})
	messages = append(messages, history...)

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: defaultTemperature,
			MaxTokens:   defaultMaxTokens,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return "", apperr.Upstream(op, err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", apperr.Upstream(op, fmt.Errorf("completion request failed: %s", msg))
	}
	if len(out.Choices) == 0 {
		return "", apperr.Upstream(op, fmt.Errorf("completion returned no choices"))
	}
	return out.Choices[0].Message.Content, nil
}
