package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/resilience"
)

func TestHuggingFaceSendsFeatureExtractionRequest(t *testing.T) {
	var (
		path    string
		auth    string
		payload map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`[[0.5,0.25]]`))
	}))
	defer server.Close()

	hf := NewHuggingFace(server.URL, "sentence-transformers/all-MiniLM-L6-v2", "secret")
	vector, err := hf.EmbedText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedText() error = %v", err)
	}
	if len(vector) != 2 || vector[0] != 0.5 {
		t.Fatalf("unexpected vector %v", vector)
	}
	if path != "/sentence-transformers/all-MiniLM-L6-v2/pipeline/feature-extraction" {
		t.Fatalf("unexpected path %q", path)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if payload["inputs"] != "hello" {
		t.Fatalf("unexpected inputs %v", payload["inputs"])
	}
	options, _ := payload["options"].(map[string]any)
	if options["wait_for_model"] != true {
		t.Fatalf("expected wait_for_model option, got %v", payload["options"])
	}
}

func TestHuggingFaceStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewHuggingFace(server.URL, "m", "").EmbedText(context.Background(), "hello")
	var statusErr *resilience.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status error, got %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected body in error, got %v", err)
	}
}

func TestDecodeFeatureVectorRejectsEmpty(t *testing.T) {
	for _, raw := range []string{`[]`, `[[]]`, `{"error":"x"}`} {
		if _, err := decodeFeatureVector([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}
