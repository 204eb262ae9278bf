package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
)

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

// repoFake enforces the same processing-only guard as the postgres repository.
type repoFake struct {
	mu          sync.Mutex
	docs        map[string]*domain.Document
	statusCalls []statusCall
	createErr   error
	readyErr    error
	failErr     error
	lookupCalls int
}

func newRepoFake() *repoFake {
	return &repoFake{docs: map[string]*domain.Document{}}
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	return nil
}

func (f *repoFake) GetByID(_ context.Context, ownerID, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.OwnerID != ownerID {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *repoFake) ListByOwner(_ context.Context, ownerID string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Document{}
	for _, doc := range f.docs {
		if doc.OwnerID == ownerID {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *repoFake) MarkReady(_ context.Context, ownerID, id string, totalPages, totalChunks int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{status: domain.StatusReady})
	if f.readyErr != nil {
		return f.readyErr
	}
	return f.transition(ownerID, id, domain.Ready{TotalPages: totalPages, TotalChunks: totalChunks})
}

func (f *repoFake) MarkFailed(_ context.Context, ownerID, id, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{status: domain.StatusError, errMsg: errMessage})
	if f.failErr != nil {
		return f.failErr
	}
	return f.transition(ownerID, id, domain.Failed{Message: errMessage})
}

func (f *repoFake) transition(ownerID, id string, next domain.DocumentState) error {
	doc, ok := f.docs[id]
	if !ok || doc.OwnerID != ownerID {
		return domain.WrapError(domain.ErrDocumentNotFound, "transition", fmt.Errorf("id=%s", id))
	}
	return doc.Transition(next, doc.UpdatedAt)
}

func (f *repoFake) FilenamesByIDs(_ context.Context, ownerID string, ids []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls++
	out := map[string]string{}
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok && doc.OwnerID == ownerID {
			out[id] = doc.Filename
		}
	}
	return out, nil
}

func (f *repoFake) status(id string) domain.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].Status()
}

func (f *repoFake) state(id string) domain.DocumentState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].State
}

type storageFake struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	deleted []string
	saveErr error
	delErr  error
}

func newStorageFake() *storageFake {
	return &storageFake{blobs: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.blobs[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.blobs, key)
	return nil
}

type parserFake struct {
	parsed *domain.ParsedPDF
	err    error
}

func (f *parserFake) Parse(context.Context, []byte) (*domain.ParsedPDF, error) {
	if f.err != nil {
		return nil, f.err
	}
	copyParsed := *f.parsed
	return &copyParsed, nil
}

// pipeChunker splits a page on "|" so tests control chunk counts exactly.
type pipeChunker struct{}

func (pipeChunker) SplitPage(text string) []string {
	var out []string
	for _, part := range strings.Split(text, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var vocabulary = []string{"photosynthesis", "chlorophyll", "light", "mitochondria", "atp", "energy", "ribosome", "protein"}

// keywordEmbedder maps text onto counts of a fixed vocabulary.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	texts []string
	err   error
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.texts = append(e.texts, texts...)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = keywordVector(text)
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func keywordVector(text string) []float32 {
	vector := make([]float32, len(vocabulary))
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,?!;:\"'")
		for i, term := range vocabulary {
			if word == term {
				vector[i]++
			}
		}
	}
	return vector
}

// chunkStoreFake searches with cosine similarity and only sees ready documents.
type chunkStoreFake struct {
	mu          sync.Mutex
	repo        *repoFake
	rows        []domain.Chunk
	batches     [][]domain.Chunk
	insertErrAt int
	insertErr   error
	deleted     []string
	searches    []domain.VectorQuery
	fixed       []domain.ScoredChunk
}

func (s *chunkStoreFake) InsertChunks(_ context.Context, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil && len(s.batches) == s.insertErrAt {
		return s.insertErr
	}
	s.batches = append(s.batches, chunks)
	s.rows = append(s.rows, chunks...)
	return nil
}

func (s *chunkStoreFake) Search(_ context.Context, query domain.VectorQuery) ([]domain.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, query)

	candidates := s.fixed
	if candidates == nil {
		for _, row := range s.rows {
			if row.OwnerID != query.OwnerID || s.repo.status(row.DocumentID) != domain.StatusReady {
				continue
			}
			candidates = append(candidates, domain.ScoredChunk{Chunk: row, Similarity: cosine(row.Embedding, query.Embedding)})
		}
	}

	allowed := map[string]bool{}
	for _, id := range query.DocumentIDs {
		allowed[id] = true
	}
	out := []domain.ScoredChunk{}
	for _, item := range candidates {
		if item.Similarity < query.Threshold {
			continue
		}
		if len(allowed) > 0 && !allowed[item.Chunk.DocumentID] {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *chunkStoreFake) DeleteDocument(_ context.Context, ownerID, documentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	doc, ok := s.repo.docs[documentID]
	if !ok || doc.OwnerID != ownerID {
		return "", domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("id=%s", documentID))
	}
	delete(s.repo.docs, documentID)
	s.removeRows(documentID)
	return doc.StoragePath, nil
}

func (s *chunkStoreFake) DeleteChunks(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, documentID)
	s.removeRows(documentID)
	return nil
}

func (s *chunkStoreFake) removeRows(documentID string) {
	kept := s.rows[:0]
	for _, row := range s.rows {
		if row.DocumentID != documentID {
			kept = append(kept, row)
		}
	}
	s.rows = kept
}

func (s *chunkStoreFake) count(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows {
		if row.DocumentID == documentID {
			n++
		}
	}
	return n
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type queueFake struct {
	jobs []ports.IngestJob
	err  error
}

func (q *queueFake) PublishIngestJob(_ context.Context, job ports.IngestJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queueFake) SubscribeIngestJobs(context.Context, func(context.Context, ports.IngestJob) error) error {
	return nil
}

// modelFake answers deterministically; streaming splits the same answer on spaces.
type modelFake struct {
	mu           sync.Mutex
	answer       string
	err          error
	streamErr    error
	failAfter    int
	calls        int
	streamCalls  int
	lastMessages []domain.ChatMessage
	lastParams   domain.CompletionParams
	closed       int
}

func (m *modelFake) Model() string { return "fake-model" }

func (m *modelFake) Complete(_ context.Context, messages []domain.ChatMessage, params domain.CompletionParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMessages = messages
	m.lastParams = params
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *modelFake) CompleteStream(_ context.Context, messages []domain.ChatMessage, params domain.CompletionParams) (ports.TokenStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamCalls++
	m.lastMessages = messages
	m.lastParams = params
	if m.err != nil {
		return nil, m.err
	}
	var fragments []string
	words := strings.SplitAfter(m.answer, " ")
	for _, w := range words {
		if w != "" {
			fragments = append(fragments, w)
		}
	}
	return &fragmentStream{model: m, fragments: fragments, failAfter: m.failAfter, failErr: m.streamErr}, nil
}

type fragmentStream struct {
	model     *modelFake
	fragments []string
	pos       int
	failAfter int
	failErr   error
}

func (s *fragmentStream) Recv() (string, error) {
	if s.failErr != nil && s.pos == s.failAfter {
		return "", s.failErr
	}
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	s.pos++
	return s.fragments[s.pos-1], nil
}

func (s *fragmentStream) Close() error {
	s.model.mu.Lock()
	defer s.model.mu.Unlock()
	s.model.closed++
	return nil
}
