package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDocumentJSONHidesInternalFields(t *testing.T) {
	doc := Document{
		ID:          "d-1",
		OwnerID:     "u-1",
		Filename:    "notes.pdf",
		StoragePath: "u-1/d-1.pdf",
		State:       Ready{TotalPages: 3, TotalChunks: 7},
		CreatedAt:   time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 10, 16, 9, 1, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, hidden := range []string{"owner_id", "storage_path", "u-1/d-1.pdf"} {
		if strings.Contains(string(raw), hidden) {
			t.Fatalf("%q leaked into %s", hidden, raw)
		}
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["status"] != "ready" || got["total_pages"] != float64(3) || got["error_message"] != nil {
		t.Fatalf("unexpected document json %s", raw)
	}
}
