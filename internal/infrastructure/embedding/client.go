package embedding

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/resilience"
)

var newlineRuns = regexp.MustCompile(`\n+`)

type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	MaxChars   int
	// Dimension is the expected vector length; zero only checks consistency.
	Dimension int
}

// Client embeds texts through a provider in paced, bounded-concurrency batches.
type Client struct {
	provider ports.EmbeddingProvider
	executor *resilience.Executor
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewClient(provider ports.EmbeddingProvider, executor *resilience.Executor, opts Options) *Client {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 8000
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		provider: provider,
		executor: executor,
		opts:     opts,
		sleep:    sleepContext,
	}
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := c.embedBatch(ctx, texts[start:end], out[start:end]); err != nil {
			return nil, err
		}
		if end < len(texts) && c.opts.BatchDelay > 0 {
			if err := c.sleep(ctx, c.opts.BatchDelay); err != nil {
				return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed batch", err)
			}
		}
	}

	if err := c.checkDimensions(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string, dst [][]float32) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.BatchSize)
	for i, text := range texts {
		g.Go(func() error {
			vector, err := c.embedOne(gctx, text)
			if err != nil {
				return err
			}
			dst[i] = vector
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	clean := Normalize(text, c.opts.MaxChars)
	if clean == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "embed text", errors.New("empty text after normalization"))
	}

	var vector []float32
	err := c.executor.Execute(ctx, "embedding.embed", func(callCtx context.Context) error {
		v, err := c.provider.EmbedText(callCtx, clean)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return errors.New("empty embedding result")
		}
		vector = v
		return nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed text", err)
	}
	return vector, nil
}

func (c *Client) checkDimensions(vectors [][]float32) error {
	want := c.opts.Dimension
	if want <= 0 && len(vectors) > 0 {
		want = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != want {
			return domain.WrapError(domain.ErrMisconfigured, "embed",
				fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), want))
		}
	}
	return nil
}

// Normalize collapses newline runs into spaces, trims and truncates to maxChars runes.
func Normalize(text string, maxChars int) string {
	clean := strings.TrimSpace(newlineRuns.ReplaceAllString(text, " "))
	if maxChars > 0 && utf8.RuneCountInString(clean) > maxChars {
		clean = string([]rune(clean)[:maxChars])
	}
	return clean
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
