package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"go.uber.org/zap"
)

// rerankRequest is the request body for a TEI-style rerank endpoint.
type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// rerankResult is one scored entry in the rerank response. Index refers to
// the position of the text in the request.
type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// CrossEncoder scores query/candidate pairs with an external cross-encoder
// service speaking the TEI rerank protocol.
type CrossEncoder struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewCrossEncoder creates a cross-encoder backed reranker.
func NewCrossEncoder(cfg Config, logger *zap.Logger) (*CrossEncoder, error) {
	cfg.ApplyDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: cross_encoder requires a base URL", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrossEncoder{
		config: cfg,
		client: &http.Client{},
		logger: logger,
	}, nil
}

// Rerank sends all candidates to the scoring service in one request and
// reorders them by the returned scores, highest first. Ties keep the
// incoming order.
func (r *CrossEncoder) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRerankFailed, resp.StatusCode, string(respBody))
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrRerankFailed, err)
	}
	if len(results) != len(candidates) {
		return nil, fmt.Errorf("%w: got %d scores for %d candidates", ErrRerankFailed, len(results), len(candidates))
	}

	scored := make([]Candidate, len(candidates))
	seen := make([]bool, len(candidates))
	for i, res := range results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: score refers to candidate %d of %d", ErrRerankFailed, res.Index, len(candidates))
		}
		if seen[res.Index] {
			return nil, fmt.Errorf("%w: duplicate score for candidate %d", ErrRerankFailed, res.Index)
		}
		seen[res.Index] = true
		c := candidates[res.Index]
		c.Score = res.Score
		scored[i] = c
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}

// Name identifies the strategy.
func (r *CrossEncoder) Name() string { return "cross_encoder" }

// Close is a no-op for the cross-encoder since it uses HTTP.
func (r *CrossEncoder) Close() error { return nil }

var _ Reranker = (*CrossEncoder)(nil)
