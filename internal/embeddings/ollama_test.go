package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		Model:     "mxbai-embed-large",
		Dimension: 4,
		Timeout:   2 * time.Second,
	}
}

// ollamaStub answers like an Ollama /api/embeddings endpoint and counts
// requests.
func ollamaStub(t *testing.T, embedding []float64) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mxbai-embed-large", req.Model)
		assert.NotEmpty(t, req.Prompt)

		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: embedding})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOllamaProviderEmbedQuery(t *testing.T) {
	srv, calls := ollamaStub(t, []float64{0.1, 0.2, 0.3, 0.4})

	p, err := NewOllamaProvider(testConfig(srv.URL), nil)
	require.NoError(t, err)
	defer p.Close()

	vector, err := p.EmbedQuery(context.Background(), "what is connection pooling")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vector)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 4, p.Dimension())
}

func TestOllamaProviderEmbedDocuments(t *testing.T) {
	srv, calls := ollamaStub(t, []float64{1, 0, 0, 0})

	p, err := NewOllamaProvider(testConfig(srv.URL), nil)
	require.NoError(t, err)
	defer p.Close()

	vectors, err := p.EmbedDocuments(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, int64(3), calls.Load())
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
}

func TestOllamaProviderEmptyInput(t *testing.T) {
	srv, calls := ollamaStub(t, []float64{1, 0, 0, 0})

	p, err := NewOllamaProvider(testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	assert.Equal(t, int64(0), calls.Load())
}

func TestOllamaProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestOllamaProviderUnreachable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")

	p, err := NewOllamaProvider(cfg, nil)
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestOllamaProviderMalformedResponse(t *testing.T) {
	t.Run("wrong dimensionality", func(t *testing.T) {
		srv, _ := ollamaStub(t, []float64{1, 2})

		p, err := NewOllamaProvider(testConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = p.EmbedQuery(context.Background(), "anything")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("not json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>nope</html>"))
		}))
		defer srv.Close()

		p, err := NewOllamaProvider(testConfig(srv.URL), nil)
		require.NoError(t, err)

		_, err = p.EmbedQuery(context.Background(), "anything")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestOllamaProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{1, 0, 0, 0}})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond

	p, err := NewOllamaProvider(cfg, nil)
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrProviderTimeout)
}

func TestProviderConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		var cfg Config
		cfg.ApplyDefaults()
		assert.Equal(t, "ollama", cfg.Provider)
		assert.Equal(t, "http://localhost:11434", cfg.BaseURL)
		assert.Equal(t, "mxbai-embed-large", cfg.Model)
		assert.Equal(t, 1024, cfg.Dimension)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
	})

	t.Run("rejects negative dimension", func(t *testing.T) {
		cfg := Config{BaseURL: "http://localhost:11434", Model: "m", Dimension: -1, Timeout: time.Second}
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("factory rejects unknown provider", func(t *testing.T) {
		_, err := NewProvider(Config{Provider: "openai"}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
