package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/resilience"
)

const DefaultHuggingFaceURL = "https://router.huggingface.co/hf-inference/models"

// HuggingFace calls the feature-extraction pipeline of the inference API.
type HuggingFace struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewHuggingFace(baseURL, model, apiKey string) *HuggingFace {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultHuggingFaceURL
	}
	return &HuggingFace{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (h *HuggingFace) EmbedText(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"inputs":  text,
		"options": map[string]any{"wait_for_model": true},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal feature-extraction request: %w", err)
	}

	url := h.baseURL + "/" + h.model + "/pipeline/feature-extraction"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create feature-extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("huggingface feature-extraction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.NewStatusError("huggingface", "feature-extraction", resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feature-extraction response: %w", err)
	}
	return decodeFeatureVector(raw)
}

// decodeFeatureVector accepts either a flat vector or a single-row matrix.
func decodeFeatureVector(raw []byte) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, errors.New("empty feature vector")
		}
		return flat, nil
	}

	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("decode feature-extraction response: %w", err)
	}
	if len(nested) == 0 || len(nested[0]) == 0 {
		return nil, errors.New("empty feature vector")
	}
	return nested[0], nil
}
