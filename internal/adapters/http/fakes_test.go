package httpadapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/pdf-study-assistant/internal/config"
	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
)

type ingestFake struct {
	state    domain.DocumentState
	err      error
	owner    string
	filename string
	body     []byte
}

func (f *ingestFake) Ingest(_ context.Context, ownerID, filename string, body io.Reader) (*domain.Document, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.owner, f.filename, f.body = ownerID, filename, raw
	if f.err != nil {
		return nil, f.err
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := domain.NewProcessingDocument("doc-1", ownerID, filename, ownerID+"/doc-1.pdf", now)
	if f.state != nil {
		doc.State = f.state
	}
	return doc, nil
}

type documentsFake struct {
	docs    []domain.Document
	files   map[string][]byte
	err     error
	deleted []string
	opened  *closeTracker
}

func (f *documentsFake) List(context.Context, string) ([]domain.Document, error) {
	return f.docs, f.err
}

func (f *documentsFake) Get(_ context.Context, ownerID, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.docs {
		if f.docs[i].ID == id && f.docs[i].OwnerID == ownerID {
			return &f.docs[i], nil
		}
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
}

func (f *documentsFake) Open(ctx context.Context, ownerID, id string) (io.ReadCloser, *domain.Document, error) {
	doc, err := f.Get(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	f.opened = &closeTracker{Reader: bytes.NewReader(f.files[id])}
	return f.opened, doc, nil
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func (f *documentsFake) Delete(_ context.Context, ownerID, id string) error {
	if _, err := f.Get(context.Background(), ownerID, id); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type chatFake struct {
	answer    *domain.ChatAnswer
	err       error
	tokens    []string
	streamErr error
	lastReq   domain.ChatRequest
	closed    bool
}

func (f *chatFake) Answer(_ context.Context, req domain.ChatRequest) (*domain.ChatAnswer, error) {
	f.lastReq = req
	return f.answer, f.err
}

func (f *chatFake) AnswerStream(_ context.Context, req domain.ChatRequest) (*ports.ChatStream, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &ports.ChatStream{
		Sources: []domain.Source{{Filename: "bio.pdf", PageNumber: 2, Excerpt: "ATP...", Similarity: 0.91}},
		Model:   "fake-model",
		Tokens:  &sliceStream{chat: f, tokens: f.tokens, err: f.streamErr},
	}, nil
}

type sliceStream struct {
	chat   *chatFake
	tokens []string
	err    error
	pos    int
}

func (s *sliceStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	s.pos++
	return s.tokens[s.pos-1], nil
}

func (s *sliceStream) Close() error {
	s.chat.closed = true
	return nil
}

type routerFixture struct {
	ingest    *ingestFake
	documents *documentsFake
	chat      *chatFake
	handler   http.Handler
}

func newRouterFixture(cfg config.Config) *routerFixture {
	fx := &routerFixture{
		ingest:    &ingestFake{},
		documents: &documentsFake{},
		chat:      &chatFake{},
	}
	fx.handler = NewRouter(cfg, fx.ingest, fx.documents, fx.chat).Handler()
	return fx
}
