package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
)

const (
	NoRelevantInformationAnswer = "I couldn't find any relevant information in your uploaded documents for this question. Please try rephrasing or make sure you've uploaded the relevant PDFs."
	emptyCompletionAnswer       = "I was unable to generate a response. Please try again."
)

type AnswerOptions struct {
	Params          domain.CompletionParams
	HistoryTurns    int
	MaxSources      int
	ExcerptChars    int
	MaxContextChars int
	ModelTimeout    time.Duration
	Retrieval       domain.RetrievalOptions
}

func DefaultAnswerOptions() AnswerOptions {
	return AnswerOptions{
		Params:          domain.CompletionParams{Temperature: 0.3, MaxTokens: 4096, TopP: 0.9},
		HistoryTurns:    6,
		MaxSources:      6,
		ExcerptChars:    150,
		MaxContextChars: 24000,
		ModelTimeout:    2 * time.Minute,
	}
}

type retriever interface {
	Retrieve(ctx context.Context, ownerID, query string, opts domain.RetrievalOptions) ([]domain.RetrievedChunk, error)
}

type AnswerUseCase struct {
	retriever retriever
	model     ports.LanguageModel
	opts      AnswerOptions
}

func NewAnswerUseCase(retriever retriever, model ports.LanguageModel, opts AnswerOptions) *AnswerUseCase {
	def := DefaultAnswerOptions()
	if opts.HistoryTurns < 0 {
		opts.HistoryTurns = def.HistoryTurns
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = def.MaxSources
	}
	if opts.ExcerptChars <= 0 {
		opts.ExcerptChars = def.ExcerptChars
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = def.ModelTimeout
	}
	return &AnswerUseCase{retriever: retriever, model: model, opts: opts}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.ChatRequest) (*domain.ChatAnswer, error) {
	chunks, err := uc.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &domain.ChatAnswer{Answer: NoRelevantInformationAnswer, Sources: []domain.Source{}, Model: uc.model.Model()}, nil
	}

	modelCtx, cancel := context.WithTimeout(ctx, uc.opts.ModelTimeout)
	defer cancel()

	messages, cited := uc.prompt(req, chunks)
	answer, err := uc.model.Complete(modelCtx, messages, uc.opts.Params)
	if err != nil {
		return nil, asModelError("complete answer", err)
	}
	if strings.TrimSpace(answer) == "" {
		answer = emptyCompletionAnswer
	}

	return &domain.ChatAnswer{
		Answer:  answer,
		Sources: BuildSources(cited, uc.opts.MaxSources, uc.opts.ExcerptChars),
		Model:   uc.model.Model(),
	}, nil
}

// AnswerStream resolves sources up front and returns a lazy token stream.
// The caller must Close the stream on every exit path.
func (uc *AnswerUseCase) AnswerStream(ctx context.Context, req domain.ChatRequest) (*ports.ChatStream, error) {
	chunks, err := uc.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &ports.ChatStream{
			Sources: []domain.Source{},
			Model:   uc.model.Model(),
			Tokens:  newStaticStream(NoRelevantInformationAnswer),
		}, nil
	}

	modelCtx, cancel := context.WithTimeout(ctx, uc.opts.ModelTimeout)
	messages, cited := uc.prompt(req, chunks)
	tokens, err := uc.model.CompleteStream(modelCtx, messages, uc.opts.Params)
	if err != nil {
		cancel()
		return nil, asModelError("stream answer", err)
	}

	return &ports.ChatStream{
		Sources: BuildSources(cited, uc.opts.MaxSources, uc.opts.ExcerptChars),
		Model:   uc.model.Model(),
		Tokens:  &cancelOnCloseStream{TokenStream: &blankFallbackStream{TokenStream: tokens}, cancel: cancel},
	}, nil
}

func (uc *AnswerUseCase) retrieve(ctx context.Context, req domain.ChatRequest) ([]domain.RetrievedChunk, error) {
	opts := uc.opts.Retrieval
	opts.DocumentIDs = req.DocumentIDs
	chunks, err := uc.retriever.Retrieve(ctx, req.OwnerID, req.Query, opts)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	return chunks, nil
}

// prompt returns the model messages and the chunks that made it into the
// context budget; only those are cited as sources.
func (uc *AnswerUseCase) prompt(req domain.ChatRequest, chunks []domain.RetrievedChunk) ([]domain.ChatMessage, []domain.RetrievedChunk) {
	excerpts, packed := packContext(chunks, uc.opts.MaxContextChars)
	return buildMessages(excerpts, req.History, req.Query, uc.opts.HistoryTurns), chunks[:packed]
}

func asModelError(operation string, err error) error {
	if domain.IsKind(err, domain.ErrModelUnavailable) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return domain.WrapError(domain.ErrModelUnavailable, operation, err)
}
