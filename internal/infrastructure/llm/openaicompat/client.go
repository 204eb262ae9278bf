package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/resilience"
)

const DefaultBaseURL = "https://api.groq.com/openai/v1"

// Client talks to any /chat/completions endpoint following the OpenAI wire format.
type Client struct {
	baseURL      string
	apiKey       string
	model        string
	httpClient   *http.Client
	streamClient *http.Client
	executor     *resilience.Executor
}

func New(baseURL, apiKey, model string, executor *resilience.Executor) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.NoRetryConfig())
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		streamClient: &http.Client{},
		executor:     executor,
	}
}

func (c *Client) Model() string {
	return c.model
}

type completionRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	TopP        float64              `json:"top_p,omitempty"`
	Stream      bool                 `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, params domain.CompletionParams) (string, error) {
	var response completionResponse
	err := c.executor.Execute(ctx, "openai.chat", func(callCtx context.Context) error {
		resp, err := c.send(callCtx, c.httpClient, c.request(messages, params, false))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			return fmt.Errorf("decode chat completion: %w", err)
		}
		return nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", wrapModelError("openai chat", err)
	}
	if response.Error != nil {
		return "", wrapModelError("openai chat", errors.New(response.Error.Message))
	}
	if len(response.Choices) == 0 {
		return "", wrapModelError("openai chat", errors.New("no choices in completion"))
	}
	return response.Choices[0].Message.Content, nil
}

func (c *Client) CompleteStream(ctx context.Context, messages []domain.ChatMessage, params domain.CompletionParams) (ports.TokenStream, error) {
	var stream *sseStream
	err := c.executor.Execute(ctx, "openai.chat_stream", func(callCtx context.Context) error {
		resp, err := c.send(callCtx, c.streamClient, c.request(messages, params, true))
		if err != nil {
			return err
		}
		stream = newSSEStream(resp.Body)
		return nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, wrapModelError("openai chat stream", err)
	}
	return stream, nil
}

func (c *Client) request(messages []domain.ChatMessage, params domain.CompletionParams, stream bool) completionRequest {
	return completionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
		Stream:      stream,
	}
}

func (c *Client) send(ctx context.Context, httpClient *http.Client, payload completionRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if payload.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai chat request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, resilience.NewStatusError("openai", "chat", resp)
	}
	return resp, nil
}

func wrapModelError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || domain.IsKind(err, domain.ErrModelUnavailable) {
		return err
	}
	return domain.WrapError(domain.ErrModelUnavailable, operation, err)
}
