package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/resilience"
)

type Client struct {
	baseURL      string
	chatModel    string
	embedModel   string
	httpClient   *http.Client
	streamClient *http.Client
	executor     *resilience.Executor
}

func New(baseURL, chatModel, embedModel string, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.NoRetryConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		// Streams are bounded by the request context only.
		streamClient: &http.Client{},
		executor:     executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

// EmbedText returns one vector; retries and pacing belong to the embedding client.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": text,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return response.Embeddings[0], nil
}

type ChatModel struct {
	client *Client
}

func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

func (m *ChatModel) Model() string {
	return m.client.chatModel
}

func (m *ChatModel) Complete(ctx context.Context, messages []domain.ChatMessage, params domain.CompletionParams) (string, error) {
	var response chatChunk
	err := m.client.executor.Execute(ctx, "ollama.chat", func(callCtx context.Context) error {
		return m.client.postJSON(callCtx, "/api/chat", m.chatRequest(messages, params, false), &response, "chat")
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", wrapModelError("ollama chat", err)
	}
	if response.Error != "" {
		return "", wrapModelError("ollama chat", errors.New(response.Error))
	}
	return response.Message.Content, nil
}

func (m *ChatModel) CompleteStream(ctx context.Context, messages []domain.ChatMessage, params domain.CompletionParams) (ports.TokenStream, error) {
	var stream *ndjsonStream
	err := m.client.executor.Execute(ctx, "ollama.chat_stream", func(callCtx context.Context) error {
		body, err := m.client.openStream(callCtx, "/api/chat", m.chatRequest(messages, params, true), "chat")
		if err != nil {
			return err
		}
		stream = newNDJSONStream(body)
		return nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, wrapModelError("ollama chat stream", err)
	}
	return stream, nil
}

func (m *ChatModel) chatRequest(messages []domain.ChatMessage, params domain.CompletionParams, stream bool) map[string]any {
	wire := make([]map[string]string, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, map[string]string{"role": string(msg.Role), "content": msg.Content})
	}
	options := map[string]any{"temperature": params.Temperature}
	if params.MaxTokens > 0 {
		options["num_predict"] = params.MaxTokens
	}
	if params.TopP > 0 {
		options["top_p"] = params.TopP
	}
	return map[string]any{
		"model":    m.client.chatModel,
		"messages": wire,
		"stream":   stream,
		"options":  options,
	}
}

type chatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}
