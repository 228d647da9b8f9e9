package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/quentra/playbook/pkg/errors"
)

// GenerateRequest is what a client sends to a provider backend.
type GenerateRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// GenerateResponse is a provider backend's answer.
type GenerateResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client sends generation requests to a single provider backend.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// ClientFactory builds a Client from a provider descriptor. The router uses
// it so tests can substitute fakes.
type ClientFactory func(d ProviderDescriptor) Client

// HTTPClient talks to an OpenAI-style chat completions endpoint. Both the
// edge gateway and the cloud providers behind the router speak this shape.
type HTTPClient struct {
	provider ProviderDescriptor
	client   *http.Client
}

// NewHTTPClient creates a client for the given provider descriptor.
func NewHTTPClient(d ProviderDescriptor) *HTTPClient {
	return &HTTPClient{
		provider: d,
		client:   &http.Client{Timeout: d.Config.Timeout},
	}
}

// DefaultClientFactory builds HTTP clients from descriptors.
func DefaultClientFactory(d ProviderDescriptor) Client {
	return NewHTTPClient(d)
}

// Generate sends a completion request and returns the model output with
// token usage.
func (c *HTTPClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	url := fmt.Sprintf("%s/chat/completions", c.provider.Config.BaseURL)

	chatReq := chatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages: []chatMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.provider.Config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.provider.Config.APIKey)
	}
	for k, v := range c.provider.Config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, &errors.TimeoutError{
				Operation: fmt.Sprintf("%s request", c.provider.ID),
				Duration:  c.provider.Config.Timeout,
				Cause:     err,
			}
		}
		return nil, &errors.ProviderError{
			Provider: c.provider.ID,
			Message:  fmt.Sprintf("request failed: %v", err),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &errors.ProviderError{
			Provider:   c.provider.ID,
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			RequestID:  resp.Header.Get("X-Request-Id"),
		}
	}

	var chatResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &errors.ProviderError{
			Provider: c.provider.ID,
			Message:  fmt.Sprintf("failed to parse response: %v", err),
			Cause:    err,
		}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &errors.ProviderError{
			Provider: c.provider.ID,
			Message:  "response contained no choices",
		}
	}

	return &GenerateResponse{
		Content:      chatResp.Choices[0].Message.Content,
		Model:        chatResp.Model,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

// chatCompletionRequest is the OpenAI-style request body.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionResponse is the OpenAI-style response body.
type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
