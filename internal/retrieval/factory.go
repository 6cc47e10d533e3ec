package retrieval

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config selects and configures the retrieval backend.
type Config struct {
	Backend        string
	ChromaURL      string
	DatabaseURL    string
	SQLitePath     string
	RedisURL       string
	CacheTTL       time.Duration
	GeminiAPIKey   string
	EmbeddingModel string
	Timeout        time.Duration
}

// NewIndex builds the configured index. It returns nil when no index can be
// built; callers then ground prompts with the built-in references.
func NewIndex(ctx context.Context, cfg Config, logger *zap.Logger) Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("retrieval")
	mode := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if mode == "" {
		mode = "auto"
	}

	var idx Index
	switch mode {
	case "none":
		logger.Info("retrieval disabled, using built-in references")
		return nil
	case "chroma":
		idx = buildChroma(ctx, cfg, logger)
	case "pgvector":
		idx = buildPGVector(ctx, cfg, logger)
	case "sqlite":
		idx = buildSQLite(ctx, cfg, logger)
	case "auto":
		if strings.TrimSpace(cfg.ChromaURL) != "" {
			idx = buildChroma(ctx, cfg, logger)
		}
		if idx == nil && strings.TrimSpace(cfg.DatabaseURL) != "" && strings.TrimSpace(cfg.GeminiAPIKey) != "" {
			idx = buildPGVector(ctx, cfg, logger)
		}
		if idx == nil && strings.TrimSpace(cfg.SQLitePath) != "" {
			idx = buildSQLite(ctx, cfg, logger)
		}
	default:
		logger.Warn("unknown retrieval backend, using built-in references", zap.String("backend", cfg.Backend))
		return nil
	}
	if idx == nil {
		return nil
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("retrieval cache disabled", zap.Error(err))
		} else {
			idx = NewCachedIndex(idx, client, cfg.CacheTTL, logger)
		}
	}
	return idx
}

func buildChroma(ctx context.Context, cfg Config, logger *zap.Logger) Index {
	var embedder Embedder
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		e, err := NewGenAIEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			logger.Warn("embedder unavailable, chroma will embed server side", zap.Error(err))
		} else {
			embedder = e
		}
	}
	c, err := NewChromaIndex(cfg.ChromaURL, embedder, cfg.Timeout)
	if err == nil {
		err = c.Heartbeat(ctx)
	}
	if err != nil {
		logger.Warn("chroma index unavailable", zap.Error(err))
		return nil
	}
	logger.Info("using chroma index", zap.String("url", cfg.ChromaURL))
	return c
}

func buildPGVector(ctx context.Context, cfg Config, logger *zap.Logger) Index {
	embedder, err := NewGenAIEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	if err != nil {
		logger.Warn("pgvector index unavailable", zap.Error(err))
		return nil
	}
	idx, err := NewPGVectorIndex(ctx, cfg.DatabaseURL, embedder)
	if err != nil {
		logger.Warn("pgvector index unavailable", zap.Error(err))
		return nil
	}
	logger.Info("using pgvector index")
	return idx
}

func buildSQLite(ctx context.Context, cfg Config, logger *zap.Logger) Index {
	idx, err := NewSQLiteIndex(ctx, cfg.SQLitePath)
	if err != nil {
		logger.Warn("sqlite index unavailable", zap.Error(err))
		return nil
	}
	for _, collection := range []string{CommandsCollection, QuerySchemaCollection} {
		n, err := idx.Count(ctx, collection)
		if err != nil {
			logger.Warn("sqlite index unreadable", zap.Error(err))
			_ = idx.Close()
			return nil
		}
		if n > 0 {
			continue
		}
		if err := idx.Ingest(ctx, collection, BuiltinDocuments(collection)); err != nil {
			logger.Warn("seeding sqlite index failed", zap.String("collection", collection), zap.Error(err))
		}
	}
	logger.Info("using sqlite index", zap.String("path", cfg.SQLitePath))
	return idx
}
