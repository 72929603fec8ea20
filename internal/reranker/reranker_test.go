package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func candidates() []Candidate {
	return []Candidate{
		{ID: "a", Content: "pooled database connections", Score: 0.9},
		{ID: "b", Content: "weekend hiking trails", Score: 0.8},
		{ID: "c", Content: "tuning connection pool sizes", Score: 0.7},
	}
}

func TestNoOpKeepsOrder(t *testing.T) {
	r := NewNoOp()
	defer r.Close()

	in := candidates()
	out, err := r.Rerank(context.Background(), "connection pooling", in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "none", r.Name())
}

func TestNoOpHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewNoOp().Rerank(ctx, "q", candidates())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrossEncoderReorders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "connection pooling", req.Query)
		assert.Len(t, req.Texts, 3)

		// The service finds candidate c most relevant, then a, then b.
		_ = json.NewEncoder(w).Encode([]rerankResult{
			{Index: 2, Score: 0.95},
			{Index: 0, Score: 0.90},
			{Index: 1, Score: 0.05},
		})
	}))
	defer srv.Close()

	r, err := NewCrossEncoder(Config{Strategy: "cross_encoder", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	defer r.Close()

	out, err := r.Rerank(context.Background(), "connection pooling", candidates())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{out[0].ID, out[1].ID, out[2].ID})
	assert.InDelta(t, 0.95, out[0].Score, 1e-9)
}

func TestCrossEncoderEmptyInput(t *testing.T) {
	r, err := NewCrossEncoder(Config{BaseURL: "http://localhost:9"}, nil)
	require.NoError(t, err)

	out, err := r.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCrossEncoderFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
		},
		{
			name: "score count mismatch",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode([]rerankResult{{Index: 0, Score: 1}})
			},
		},
		{
			name: "index out of range",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode([]rerankResult{
					{Index: 0, Score: 1}, {Index: 1, Score: 1}, {Index: 7, Score: 1},
				})
			},
		},
		{
			name: "duplicate index",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode([]rerankResult{
					{Index: 0, Score: 1}, {Index: 0, Score: 1}, {Index: 1, Score: 1},
				})
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("nope"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			r, err := NewCrossEncoder(Config{BaseURL: srv.URL}, nil)
			require.NoError(t, err)

			_, err = r.Rerank(context.Background(), "q", candidates())
			assert.ErrorIs(t, err, ErrRerankFailed)
		})
	}
}

func TestCrossEncoderRequiresBaseURL(t *testing.T) {
	_, err := NewCrossEncoder(Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// fakeModel answers scoring prompts from a fixed queue.
type fakeModel struct {
	answers []string
	err     error
	calls   int
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	defer func() { m.calls++ }()
	if m.err != nil {
		return nil, m.err
	}
	answer := m.answers[m.calls%len(m.answers)]
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: answer}},
	}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, nil, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newFakeLLM(model llms.Model) *LLM {
	return &LLM{
		config: Config{Strategy: "llm", Model: "test", Timeout: time.Second},
		model:  model,
	}
}

func TestLLMReranksByGrade(t *testing.T) {
	model := &fakeModel{answers: []string{"3", "Relevance: 9/10", "7"}}
	r := newFakeLLM(model)

	out, err := r.Rerank(context.Background(), "connection pooling", candidates())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{out[0].ID, out[1].ID, out[2].ID})
	assert.InDelta(t, 0.9, out[0].Score, 1e-9)
	assert.Equal(t, 3, model.calls)
}

func TestLLMFailsClosed(t *testing.T) {
	t.Run("model error", func(t *testing.T) {
		r := newFakeLLM(&fakeModel{err: assert.AnError})
		_, err := r.Rerank(context.Background(), "q", candidates())
		assert.ErrorIs(t, err, ErrRerankFailed)
	})

	t.Run("ungradable answer", func(t *testing.T) {
		r := newFakeLLM(&fakeModel{answers: []string{"very relevant indeed"}})
		_, err := r.Rerank(context.Background(), "q", candidates())
		assert.ErrorIs(t, err, ErrRerankFailed)
	})
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		answer  string
		want    float64
		wantErr bool
	}{
		{answer: "7", want: 7},
		{answer: " 8.5\n", want: 8.5},
		{answer: "Relevance: 9/10", want: 9},
		{answer: "0", want: 0},
		{answer: "11", wantErr: true},
		{answer: "no idea", wantErr: true},
		{answer: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			got, err := parseGrade(tt.answer)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFactory(t *testing.T) {
	t.Run("defaults to none", func(t *testing.T) {
		r, err := New(Config{}, nil)
		require.NoError(t, err)
		assert.Equal(t, "none", r.Name())
	})

	t.Run("cross encoder", func(t *testing.T) {
		r, err := New(Config{Strategy: "cross_encoder", BaseURL: "http://localhost:8080"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "cross_encoder", r.Name())
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := New(Config{Strategy: "bm25"}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
