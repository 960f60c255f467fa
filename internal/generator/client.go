package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/forge/internal/config"
)

// Error classification of the external generation capability. Callers
// never branch on anything finer than these three classes.
var (
	// ErrTransient covers timeouts, network failures and 5xx responses.
	// Worth a bounded retry before falling back.
	ErrTransient = errors.New("transient generator error")

	// ErrQuotaExhausted covers rate-limit and billing rejections.
	// Retrying immediately cannot help; fall back.
	ErrQuotaExhausted = errors.New("generator quota exhausted")

	// ErrInvalidResponse covers malformed or empty responses.
	// Permanent for this request; fall back without retry.
	ErrInvalidResponse = errors.New("invalid generator response")
)

// Client wraps the external text-generation capability behind a single
// prompt-in/text-out call with a hard timeout.
type Client struct {
	http     *resty.Client
	model    string
	endpoint string

	temperature float64
	maxTokens   int
}

// NewClient creates a generation client from configuration.
func NewClient(cfg *config.GeneratorConfig) *Client {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	// Hard timeout: a hung generator call must surface as a transient
	// error, never stall a stage worker.
	client.SetTimeout(cfg.Timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &Client{
		http:        client,
		model:       cfg.Model,
		endpoint:    baseURL + "/chat/completions",
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one generation request and returns the produced text.
// Errors are always one of the three classified sentinels (wrapped),
// except for context cancellation which is returned as-is.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	var resp chatResponse
	httpResp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(c.endpoint)

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// resty surfaces timeouts and connection failures here
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if err := classifyStatus(httpResp.StatusCode(), &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrInvalidResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return text, nil
}

func classifyStatus(status int, resp *chatResponse) error {
	detail := ""
	if resp.Error != nil {
		detail = ": " + resp.Error.Message
	}
	switch {
	case status >= 200 && status < 300:
		if resp.Error != nil {
			return fmt.Errorf("%w%s", ErrInvalidResponse, detail)
		}
		return nil
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return fmt.Errorf("%w (HTTP %d)%s", ErrQuotaExhausted, status, detail)
	case status >= 500:
		return fmt.Errorf("%w (HTTP %d)%s", ErrTransient, status, detail)
	default:
		return fmt.Errorf("%w (HTTP %d)%s", ErrInvalidResponse, status, detail)
	}
}
