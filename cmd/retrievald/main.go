// Package main implements the retrievald CLI: document ingestion, hybrid
// querying and document deletion against a shared multi-tenant store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nelalabs/retrievald/internal/chunker"
	"github.com/nelalabs/retrievald/internal/config"
	"github.com/nelalabs/retrievald/internal/embeddings"
	"github.com/nelalabs/retrievald/internal/ingest"
	"github.com/nelalabs/retrievald/internal/logging"
	"github.com/nelalabs/retrievald/internal/reranker"
	"github.com/nelalabs/retrievald/internal/retrieval"
	"github.com/nelalabs/retrievald/internal/store"
	"github.com/nelalabs/retrievald/internal/telemetry"
)

var (
	configPath string
	tenantID   string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "retrievald",
	Short: "Multi-tenant document retrieval over hybrid vector and keyword search",
	Long: `retrievald ingests documents into a tenant-scoped store and answers
queries by fusing vector similarity with keyword matching.

Configuration is read from ~/.config/retrievald/config.yaml and overridden
by environment variables (STORAGE_PROVIDER, EMBEDDING_BASE_URL, ...).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/retrievald/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant identifier (required for data commands)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(migrateCmd)
}

// app bundles the wired services a command needs. Build one per
// invocation and close it before exiting.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	store     store.Store
	provider  embeddings.Provider
	cache     *embeddings.Cache
}

func newApp() (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(context.Background(), telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		ExportInterval: cfg.Telemetry.ExportInterval.Duration(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	st, err := store.New(store.Config{
		Provider: cfg.Storage.Provider,
		Postgres: store.PostgresConfig{
			DSN:          cfg.Storage.DSN.Value(),
			Dimension:    cfg.Embedding.Dimension,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
		},
		Embedded: store.EmbeddedConfig{
			Path:      cfg.Storage.Path,
			Compress:  cfg.Storage.Compress,
			Dimension: cfg.Embedding.Dimension,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	provider, err := embeddings.NewProvider(embeddings.Config{
		Provider:  cfg.Embedding.Provider,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout.Duration(),
	}, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	cache, err := embeddings.NewCache(st.Cache(), provider, logger)
	if err != nil {
		_ = st.Close()
		_ = provider.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		store:     st,
		provider:  provider,
		cache:     cache,
	}, nil
}

func (a *app) Close() {
	_ = a.provider.Close()
	_ = a.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.telemetry.Shutdown(ctx)
	_ = a.logger.Sync()
}

func (a *app) newChunker() (*chunker.Chunker, error) {
	return chunker.New(chunker.Config{
		TargetTokens:  a.cfg.Chunking.TargetTokens,
		OverlapTokens: a.cfg.Chunking.OverlapTokens,
		MaxChunks:     a.cfg.Chunking.MaxChunks,
		Encoding:      a.cfg.Chunking.Encoding,
	})
}

func (a *app) newIngestService() (*ingest.Service, error) {
	ch, err := a.newChunker()
	if err != nil {
		return nil, err
	}
	return ingest.NewService(ingest.Config{
		BatchSize:      a.cfg.Ingest.BatchSize,
		Workers:        a.cfg.Ingest.Workers,
		QueueSize:      a.cfg.Ingest.QueueSize,
		MaxRetries:     a.cfg.Ingest.MaxRetries,
		RetryBaseDelay: a.cfg.Ingest.RetryBaseDelay.Duration(),
	}, ch, a.cache, a.store, a.logger)
}

func (a *app) newRanker() (*retrieval.Ranker, error) {
	rr, err := reranker.New(reranker.Config{
		Strategy: a.cfg.Rerank.Strategy,
		BaseURL:  a.cfg.Rerank.BaseURL,
		Model:    a.cfg.Rerank.Model,
		Timeout:  a.cfg.Rerank.Timeout.Duration(),
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return retrieval.NewRanker(retrieval.Config{
		DefaultK:        a.cfg.Retrieval.DefaultK,
		FetchMultiplier: a.cfg.Retrieval.FetchMultiplier,
		VectorWeight:    a.cfg.Retrieval.VectorWeight,
		KeywordWeight:   a.cfg.Retrieval.KeywordWeight,
	}, a.store, a.cache, rr, a.logger)
}

func requireTenant() error {
	if tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}
