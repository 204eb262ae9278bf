package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

// DocumentState is the closed set of lifecycle states: Processing, Ready and Failed.
type DocumentState interface {
	Status() DocumentStatus
	isDocumentState()
}

type Processing struct{}

type Ready struct {
	TotalPages  int
	TotalChunks int
}

type Failed struct {
	Message string
}

func (Processing) Status() DocumentStatus { return StatusProcessing }
func (Ready) Status() DocumentStatus      { return StatusReady }
func (Failed) Status() DocumentStatus     { return StatusError }

func (Processing) isDocumentState() {}
func (Ready) isDocumentState()      {}
func (Failed) isDocumentState()     {}

// StateFromRecord rebuilds a state from its persisted columns.
func StateFromRecord(status string, totalPages, totalChunks int, errMessage string) (DocumentState, error) {
	switch DocumentStatus(status) {
	case StatusProcessing:
		return Processing{}, nil
	case StatusReady:
		return Ready{TotalPages: totalPages, TotalChunks: totalChunks}, nil
	case StatusError:
		return Failed{Message: errMessage}, nil
	default:
		return nil, fmt.Errorf("unknown document status %q", status)
	}
}

type Document struct {
	ID          string
	OwnerID     string
	Filename    string
	StoragePath string
	State       DocumentState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewProcessingDocument(id, ownerID, filename, storagePath string, now time.Time) *Document {
	return &Document{
		ID:          id,
		OwnerID:     ownerID,
		Filename:    filename,
		StoragePath: storagePath,
		State:       Processing{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (d *Document) Status() DocumentStatus {
	if d.State == nil {
		return StatusProcessing
	}
	return d.State.Status()
}

// Transition moves a processing document into a terminal state.
func (d *Document) Transition(next DocumentState, now time.Time) error {
	if d.Status() != StatusProcessing {
		return WrapError(ErrInvalidTransition, "transition document",
			fmt.Errorf("id=%s from=%s to=%s", d.ID, d.Status(), next.Status()))
	}
	if _, ok := next.(Processing); ok || next == nil {
		return WrapError(ErrInvalidTransition, "transition document",
			fmt.Errorf("id=%s: target state must be terminal", d.ID))
	}
	d.State = next
	d.UpdatedAt = now
	return nil
}

// documentJSON is the client-facing form; owner and storage key stay internal.
type documentJSON struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	Status       DocumentStatus `json:"status"`
	TotalPages   *int           `json:"total_pages"`
	TotalChunks  *int           `json:"total_chunks"`
	ErrorMessage *string        `json:"error_message"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := documentJSON{
		ID:        d.ID,
		Filename:  d.Filename,
		Status:    d.Status(),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	switch s := d.State.(type) {
	case Ready:
		out.TotalPages = &s.TotalPages
		out.TotalChunks = &s.TotalChunks
	case Failed:
		out.ErrorMessage = &s.Message
	}
	return json.Marshal(out)
}

// Chunk is a contiguous span of one page's text with its embedding.
type Chunk struct {
	ID         string
	DocumentID string
	OwnerID    string
	Content    string
	PageNumber int
	ChunkIndex int
	Embedding  []float32
}

type Page struct {
	Number int
	Text   string
}

type PDFMetadata struct {
	Title  string
	Author string
}

type ParsedPDF struct {
	Pages      []Page
	TotalPages int
	Metadata   PDFMetadata
}
