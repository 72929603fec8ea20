package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ollamaRequest is the request body for the Ollama embeddings endpoint.
type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ollamaResponse is the response body for the Ollama embeddings endpoint.
type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// OllamaProvider generates embeddings via an Ollama server. The endpoint
// accepts one prompt per request, so batch calls fan out sequentially and
// stop at the first failure.
type OllamaProvider struct {
	config  Config
	client  *http.Client
	logger  *zap.Logger
	metrics *Metrics
}

// NewOllamaProvider creates a provider backed by an Ollama server.
func NewOllamaProvider(config Config, logger *zap.Logger) (*OllamaProvider, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OllamaProvider{
		config:  config,
		client:  &http.Client{},
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts. The result holds
// one vector per input, in input order.
func (p *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vector, err := p.embedOne(ctx, text)
		if err != nil {
			genErr = fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
			return nil, genErr
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	vector, err := p.embedOne(ctx, text)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	return vector, nil
}

// Dimension returns the configured embedding dimensionality.
func (p *OllamaProvider) Dimension() int { return p.config.Dimension }

// Close is a no-op for Ollama since it uses HTTP.
func (p *OllamaProvider) Close() error { return nil }

func (p *OllamaProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaRequest{
		Model:  p.config.Model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: after %s", ErrProviderTimeout, p.config.Timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, string(respBody))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Embedding) != p.config.Dimension {
		return nil, fmt.Errorf("%w: got %d dims, model %q should produce %d",
			ErrMalformedResponse, len(parsed.Embedding), p.config.Model, p.config.Dimension)
	}

	vector := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

var _ Provider = (*OllamaProvider)(nil)
