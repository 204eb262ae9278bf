package usecase

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
)

// staticStream yields one precomputed fragment.
type staticStream struct {
	text string
	sent bool
}

func newStaticStream(text string) *staticStream {
	return &staticStream{text: text}
}

func (s *staticStream) Recv() (string, error) {
	if s.sent {
		return "", io.EOF
	}
	s.sent = true
	return s.text, nil
}

func (s *staticStream) Close() error { return nil }

type cancelOnCloseStream struct {
	ports.TokenStream
	cancel context.CancelFunc
}

func (s *cancelOnCloseStream) Close() error {
	err := s.TokenStream.Close()
	s.cancel()
	return err
}

// blankFallbackStream holds back whitespace-only fragments until real text
// arrives. A completion that ends blank yields emptyCompletionAnswer instead,
// matching what Answer returns for the same model output.
type blankFallbackStream struct {
	ports.TokenStream
	pending  strings.Builder
	seenText bool
	done     bool
}

func (s *blankFallbackStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	if s.seenText {
		return s.TokenStream.Recv()
	}
	for {
		token, err := s.TokenStream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return emptyCompletionAnswer, nil
		}
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(token) == "" {
			s.pending.WriteString(token)
			continue
		}
		s.seenText = true
		held := s.pending.String()
		s.pending.Reset()
		return held + token, nil
	}
}

// ForwardStream emits every token in order, then a done event with sources, or
// an error event if the stream fails. Tokens already emitted are not retracted.
// The stream is closed before returning.
func ForwardStream(ctx context.Context, stream *ports.ChatStream, emit func(domain.StreamEvent) error) error {
	defer stream.Tokens.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		token, err := stream.Tokens.Recv()
		if errors.Is(err, io.EOF) {
			return emit(domain.StreamEvent{Done: true, Sources: stream.Sources, Model: stream.Model})
		}
		if err != nil {
			if emitErr := emit(domain.StreamEvent{Err: err}); emitErr != nil {
				return emitErr
			}
			return err
		}
		if token == "" {
			continue
		}
		if err := emit(domain.StreamEvent{Token: token}); err != nil {
			return err
		}
	}
}
