package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/pdf-study-assistant/internal/config"
	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
	"github.com/kirillkom/pdf-study-assistant/internal/core/usecase"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/embedding"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	// Queue is nil unless INGEST_MODE=async.
	Queue      ports.MessageQueue
	Repo       ports.DocumentRepository
	IngestUC   ports.DocumentIngestor
	ProcessUC  ports.DocumentProcessor
	DocumentUC ports.DocumentService
	ChatUC     ports.ChatService

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	embedProvider, model, err := newProviders(cfg)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db, cfg.EmbeddingDimension); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	chunkStore := postgres.NewChunkStore(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	var queue *nats.Queue
	if cfg.IngestMode == usecase.IngestModeAsync {
		queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			QueueGroup:         cfg.NATSQueueGroup,
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
	}

	embedder := embedding.NewClient(embedProvider, resilience.NewExecutor(embeddingResilience(cfg)), embedding.Options{
		BatchSize:  cfg.EmbeddingBatchSize,
		BatchDelay: cfg.EmbeddingBatchDelay,
		MaxChars:   cfg.EmbeddingMaxChars,
		Dimension:  cfg.EmbeddingDimension,
	})
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MinChunkChars)
	parser := pdf.NewParser(cfg.MaxPages, cfg.MinPageChars)

	processUC := usecase.NewProcessDocumentUseCase(repo, storage, parser, chunker, embedder, chunkStore, cfg.InsertBatchSize)
	var messageQueue ports.MessageQueue
	if queue != nil {
		messageQueue = queue
	}
	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, messageQueue, processUC, cfg.IngestMode, cfg.MaxUploadBytes)
	retrieveUC := usecase.NewRetrieveUseCase(embedder, chunkStore, repo, domain.RetrievalOptions{
		TopK:      cfg.RAGTopK,
		Threshold: domain.SimilarityThreshold(cfg.RAGThreshold),
	})
	chatUC := usecase.NewAnswerUseCase(retrieveUC, model, answerOptions(cfg))
	documentUC := usecase.NewDocumentUseCase(repo, chunkStore, storage)

	return &App{
		Config: cfg,
		Queue:  messageQueue,
		Repo:   repo,

		IngestUC:   ingestUC,
		ProcessUC:  processUC,
		DocumentUC: documentUC,
		ChatUC:     chatUC,

		closeFn: closer(queue, db),
	}, nil
}

func closer(queue *nats.Queue, db *sql.DB) func() {
	return func() {
		if queue != nil {
			queue.Close()
		}
		_ = db.Close()
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// newProviders picks the embedding provider and the chat model from config.
// Providers are validated before any connection is opened.
func newProviders(cfg config.Config) (ports.EmbeddingProvider, ports.LanguageModel, error) {
	var ollamaClient *ollama.Client
	ollamaFor := func() *ollama.Client {
		if ollamaClient == nil {
			ollamaClient = ollama.New(cfg.OllamaURL, cfg.OllamaChatModel, cfg.OllamaEmbedModel, resilience.NewExecutor(resilience.NoRetryConfig()))
		}
		return ollamaClient
	}

	var embedProvider ports.EmbeddingProvider
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case config.ProviderOllama, "":
		embedProvider = ollama.NewEmbedder(ollamaFor())
	case config.ProviderHuggingFace:
		if cfg.HuggingFaceAPIKey == "" {
			return nil, nil, misconfigured("HF_API_KEY is required for the huggingface embedding provider")
		}
		embedProvider = embedding.NewHuggingFace(cfg.HuggingFaceURL, cfg.HuggingFaceModel, cfg.HuggingFaceAPIKey)
	default:
		return nil, nil, misconfigured(fmt.Sprintf("unknown EMBEDDING_PROVIDER %q", cfg.EmbeddingProvider))
	}
	if cfg.EmbeddingDimension <= 0 {
		return nil, nil, misconfigured("EMBEDDING_DIMENSION must be positive")
	}

	var model ports.LanguageModel
	switch strings.ToLower(cfg.LLMProvider) {
	case config.ProviderOllama, "":
		model = ollama.NewChatModel(ollamaFor())
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, misconfigured("OPENAI_API_KEY is required for the openai language model provider")
		}
		model = openaicompat.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, resilience.NewExecutor(resilience.NoRetryConfig()))
	default:
		return nil, nil, misconfigured(fmt.Sprintf("unknown LLM_PROVIDER %q", cfg.LLMProvider))
	}
	return embedProvider, model, nil
}

func embeddingResilience(cfg config.Config) resilience.Config {
	policy := resilience.DefaultConfig()
	if cfg.EmbeddingRetries > 0 {
		policy.RetryMaxAttempts = cfg.EmbeddingRetries
	}
	policy.RetryInitialBackoff = cfg.EmbeddingBatchDelay
	policy.RetryMaxBackoff = 4 * cfg.EmbeddingBatchDelay
	policy.AttemptTimeout = cfg.EmbeddingTimeout
	return policy
}

func answerOptions(cfg config.Config) usecase.AnswerOptions {
	opts := usecase.DefaultAnswerOptions()
	opts.Params = domain.CompletionParams{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopP:        cfg.TopP,
	}
	opts.HistoryTurns = cfg.HistoryTurns
	opts.MaxSources = cfg.MaxSources
	opts.ExcerptChars = cfg.ExcerptChars
	opts.MaxContextChars = cfg.MaxContextChars
	opts.ModelTimeout = cfg.ModelTimeout
	return opts
}

func misconfigured(message string) error {
	return domain.WrapError(domain.ErrMisconfigured, "bootstrap", errors.New(message))
}
