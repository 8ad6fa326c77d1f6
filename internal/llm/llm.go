package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/aulaviva/tutoria/internal/llm/prompts"
	"github.com/aulaviva/tutoria/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ErrOverloaded indicates the generation service rejected the call because it
// is overloaded. Surfaced to the user with a distinct message.
var ErrOverloaded = errors.New("llm: service overloaded")

// A literal 0 temperature is dropped by go-openai's omitempty and the API
// falls back to its default. The smallest representable value keeps
// classification deterministic.
const deterministicTemperature = math.SmallestNonzeroFloat32

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the API endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// Classify categorizes a student's answer against the question's expected
// answer. The raw label is coerced through model.ParseCategory, so a response
// outside the three recognized labels always comes back as Incorrect.
func (c *Client) Classify(ctx context.Context, question model.Question, answer string) (model.Category, error) {
	prompt, err := prompts.BuildClassifyPrompt(question, answer)
	if err != nil {
		return model.CategoryIncorrect, err
	}

	raw, err := c.complete(ctx, prompt, deterministicTemperature)
	if err != nil {
		return model.CategoryIncorrect, err
	}
	slog.Debug("classification response", "raw", raw)

	return model.ParseCategory(raw), nil
}

// Feedback generates tutoring prose for a classified answer.
func (c *Client) Feedback(ctx context.Context, category model.Category, question model.Question, answer string) (string, error) {
	prompt, err := prompts.BuildFeedbackPrompt(category, question, answer)
	if err != nil {
		return "", err
	}
	return c.complete(ctx, prompt, 0.7)
}

// Chat produces an open-chat reply given the assembled system prompt, the
// client-supplied rolling history, and the new user message.
func (c *Client) Chat(ctx context.Context, system string, history []model.Turn, message string) (string, error) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == model.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.7,
	})
	if err != nil {
		return "", wrapAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", wrapAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func wrapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusServiceUnavailable || apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrOverloaded, err)
		}
	}
	return fmt.Errorf("LLM API call: %w", err)
}
