package reranker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
)

const llmScorePrompt = `You are grading search results.

Query: %s

Document:
%s

Rate how relevant the document is to the query on a scale from 0 to 10.
Respond with only the number.`

// LLM scores each candidate with a generative model. Slower and costlier
// than a cross-encoder but needs nothing beyond an Ollama server.
type LLM struct {
	config Config
	model  llms.Model
	logger *zap.Logger
}

// NewLLM creates an LLM-backed reranker.
func NewLLM(cfg Config, logger *zap.Logger) (*LLM, error) {
	cfg.ApplyDefaults()
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: llm strategy requires a model", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	return &LLM{
		config: cfg,
		model:  model,
		logger: logger,
	}, nil
}

// Rerank asks the model for a relevance grade per candidate and reorders by
// grade, highest first. Grades are normalized to [0, 1]. A single failed or
// ungradable call fails the whole pass so the caller can fall back.
func (r *LLM) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	scored := make([]Candidate, len(candidates))
	for i, c := range candidates {
		prompt := fmt.Sprintf(llmScorePrompt, query, c.Content)
		answer, err := llms.GenerateFromSinglePrompt(ctx, r.model, prompt, llms.WithTemperature(0))
		if err != nil {
			return nil, fmt.Errorf("%w: grading candidate %d: %v", ErrRerankFailed, i, err)
		}
		grade, err := parseGrade(answer)
		if err != nil {
			return nil, fmt.Errorf("%w: candidate %d: %v", ErrRerankFailed, i, err)
		}
		c.Score = grade / 10
		scored[i] = c
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}

// parseGrade extracts a 0-10 grade from a model answer. Models sometimes
// dress the number up ("Relevance: 7/10"), so take the first numeric token.
func parseGrade(answer string) (float64, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(answer), func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	})
	for _, f := range fields {
		grade, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		if grade < 0 || grade > 10 {
			return 0, fmt.Errorf("grade %v out of range", grade)
		}
		return grade, nil
	}
	return 0, fmt.Errorf("no grade in answer %q", answer)
}

// Name identifies the strategy.
func (r *LLM) Name() string { return "llm" }

// Close is a no-op for the LLM strategy since it uses HTTP.
func (r *LLM) Close() error { return nil }

var _ Reranker = (*LLM)(nil)
