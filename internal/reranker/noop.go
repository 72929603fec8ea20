package reranker

import "context"

// NoOp keeps candidates in the order they arrived. It is the default
// strategy: fused retrieval scores are already a reasonable ordering and
// need no second model.
type NoOp struct{}

// NewNoOp creates a pass-through reranker.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Rerank returns the candidates unchanged.
func (r *NoOp) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// Name identifies the strategy.
func (r *NoOp) Name() string { return "none" }

// Close has nothing to release.
func (r *NoOp) Close() error { return nil }

var _ Reranker = (*NoOp)(nil)
