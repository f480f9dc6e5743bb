package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VoyageModel identifies a Voyage AI embedding model.
type VoyageModel string

const (
	Voyage35     VoyageModel = "voyage-3.5"
	Voyage35Lite VoyageModel = "voyage-3.5-lite"
)

const (
	voyageAPIURL         = "https://api.voyageai.com/v1/embeddings"
	voyage35Dim          = 1024
	voyage35LiteDim      = 512
	voyageDefaultRetries = 3
	voyageRetryBackoff   = 500 * time.Millisecond
	voyageDefaultTimeout = 30 * time.Second
)

// VoyageConfig configures the Voyage embedder.
type VoyageConfig struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	Model      VoyageModel   `json:"model" yaml:"model"`
	BaseURL    string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
}

// DefaultVoyageConfig returns Voyage defaults.
func DefaultVoyageConfig() VoyageConfig {
	return VoyageConfig{
		Model:      Voyage35Lite,
		Timeout:    voyageDefaultTimeout,
		MaxRetries: voyageDefaultRetries,
	}
}

// VoyageEmbedder implements Embedder against the Voyage AI embeddings API.
// An alternative to the OpenAI embedding surface when the chat and embedding
// providers differ.
type VoyageEmbedder struct {
	config VoyageConfig
	client *http.Client
}

// NewVoyageEmbedder creates a Voyage embedder.
func NewVoyageEmbedder(config VoyageConfig) (*VoyageEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("voyage: api_key is required")
	}
	if config.Model == "" {
		config.Model = DefaultVoyageConfig().Model
	}
	if config.Timeout <= 0 {
		config.Timeout = voyageDefaultTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = voyageDefaultRetries
	}
	return &VoyageEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Dimensions returns the embedding dimensionality for the configured model.
func (e *VoyageEmbedder) Dimensions() int {
	switch e.config.Model {
	case Voyage35Lite:
		return voyage35LiteDim
	default:
		return voyage35Dim
	}
}

type voyageRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Truncation bool     `json:"truncation"`
}

type voyageResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
}

type voyageErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed returns the embedding vector for text, retrying transient failures
// with linear backoff.
func (e *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(voyageRetryBackoff * time.Duration(attempt)):
			}
		}

		vector, retryable, err := e.embedOnce(ctx, text)
		if err == nil {
			return vector, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("voyage embed: %w", lastErr)
}

func (e *VoyageEmbedder) embedOnce(ctx context.Context, text string) ([]float32, bool, error) {
	body, err := json.Marshal(voyageRequest{
		Input:      []string{text},
		Model:      string(e.config.Model),
		Truncation: true,
	})
	if err != nil {
		return nil, false, err
	}

	url := e.config.BaseURL
	if url == "" {
		url = voyageAPIURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr voyageErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			err = fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error.Message)
		} else {
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, err
	}

	var result voyageResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, err
	}
	if len(result.Embeddings) != 1 {
		return nil, false, fmt.Errorf("expected 1 embedding, got %d", len(result.Embeddings))
	}
	return result.Embeddings[0], false, nil
}
