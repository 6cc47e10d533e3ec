package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/audit"
	"github.com/ent0n29/lia/internal/chains"
	"github.com/ent0n29/lia/internal/config"
	"github.com/ent0n29/lia/internal/execution"
	"github.com/ent0n29/lia/internal/format"
	"github.com/ent0n29/lia/internal/hostos"
	"github.com/ent0n29/lia/internal/intent"
	"github.com/ent0n29/lia/internal/llm"
	"github.com/ent0n29/lia/internal/memory"
	"github.com/ent0n29/lia/internal/observability"
	"github.com/ent0n29/lia/internal/pipeline"
	"github.com/ent0n29/lia/internal/retrieval"
)

// stack is the shared part of the pipeline plus what must be closed on exit.
type stack struct {
	deps    pipeline.Deps
	index   retrieval.Index
	pg      *memory.PostgresDB
	closers []func() error
}

func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// opener returns where session memory lives.
func (s *stack) opener(cfg config.Config, logger *zap.Logger) memory.Opener {
	limits := memoryLimits(cfg)
	if s.pg != nil {
		return s.pg.Opener(limits)
	}
	return memory.DirOpener(cfg.MemoryDir, limits, logger)
}

// singleStore opens the memory used by the terminal commands.
func (s *stack) singleStore(cfg config.Config, logger *zap.Logger) (memory.Store, error) {
	if s.pg != nil {
		return s.pg.Opener(memoryLimits(cfg))("cli")
	}
	return memory.NewStore(cfg.MemoryFile, memoryLimits(cfg), logger)
}

func memoryLimits(cfg config.Config) memory.Limits {
	return memory.Limits{
		MaxTurns:       cfg.MemoryMaxTurns,
		MaxQueries:     cfg.MemoryMaxQueries,
		ContextTurns:   cfg.MemoryContextTurns,
		ContextQueries: cfg.MemoryContextQueries,
	}
}

func buildStack(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger *zap.Logger) (*stack, error) {
	s := &stack{}

	backend, err := llm.NewBackend(ctx, llm.Config{
		Provider:          cfg.LLMProvider,
		BaseURL:           cfg.LLMBaseURL,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.LLMModel,
		CLIPath:           cfg.LLMCLIPath,
		GeminiAPIKey:      cfg.GeminiAPIKey,
		GeminiModel:       cfg.GeminiModel,
		Timeout:           cfg.LLMTimeout,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
		MaxRetries:        cfg.LLMMaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("generative backend init failed: %w", err)
	}
	if metrics != nil {
		backend = llm.NewObservedBackend(backend, metrics.ObserveBackend)
	}

	s.index = retrieval.NewIndex(ctx, retrieval.Config{
		Backend:        cfg.RetrievalBackend,
		ChromaURL:      cfg.ChromaURL,
		DatabaseURL:    cfg.DatabaseURL,
		SQLitePath:     cfg.RetrievalSQLitePath,
		RedisURL:       cfg.RedisURL,
		CacheTTL:       cfg.RetrievalCacheTTL,
		GeminiAPIKey:   cfg.GeminiAPIKey,
		EmbeddingModel: cfg.EmbeddingModel,
		Timeout:        cfg.LLMTimeout,
	}, logger)
	if c, ok := s.index.(interface{ Close() error }); ok {
		s.closers = append(s.closers, c.Close)
	}

	family := hostos.Detect(cfg.TargetOS)
	logger.Info("target platform", zap.Stringer("os", family))

	auditLog := audit.Log(audit.NopLog{})
	if cfg.AuditDBPath != "" {
		l, err := audit.NewSQLiteLog(ctx, cfg.AuditDBPath)
		if err != nil {
			logger.Warn("audit log disabled", zap.String("path", cfg.AuditDBPath), zap.Error(err))
		} else {
			auditLog = l
			s.closers = append(s.closers, l.Close)
		}
	}

	if cfg.MemoryBackend == "postgres" {
		db, err := memory.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("memory store init failed: %w", err)
		}
		s.pg = db
		s.closers = append(s.closers, db.Close)
	}

	s.deps = pipeline.Deps{
		Router: intent.NewRouter(backend, logger),
		Chains: pipeline.Chains{
			Conversation: chains.NewConversationChain(backend, logger),
			Command: chains.NewCommandChain(backend, s.index, chains.CommandOptions{
				Family:     family,
				DocsK:      cfg.CommandDocsK,
				DocsPrompt: cfg.CommandDocsPrompt,
			}, logger),
			Query: chains.NewQueryChain(backend, s.index, chains.QueryOptions{
				DocsK:        cfg.QueryDocsK,
				MaxRetries:   cfg.QueryMaxRetries,
				DefaultLimit: cfg.QueryDefaultLimit,
			}, logger),
		},
		Shell:   execution.NewShellExecutor(cfg.ShellTimeout, logger),
		Osquery: execution.NewQueryExecutor(cfg.OsqueryPath, cfg.OsqueryTimeout, cfg.OsqueryHealthTimeout, logger),
		Formatter: format.New(format.Options{
			MaxOutputChars: cfg.OutputMaxChars,
			MaxRows:        cfg.TableMaxRows,
			MaxCell:        cfg.TableMaxCell,
		}),
		Audit:   auditLog,
		Metrics: metrics,
		Logger:  logger,
	}
	return s, nil
}

// singleAssistant builds the one-conversation assistant the terminal uses.
func (a *app) singleAssistant(ctx context.Context) (*pipeline.Assistant, func(), error) {
	s, err := buildStack(ctx, a.cfg, nil, a.logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := s.singleStore(a.cfg, a.logger)
	if err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("memory store init failed: %w", err)
	}
	deps := s.deps
	deps.Memory = store
	assistant, err := pipeline.NewAssistant(deps)
	if err != nil {
		_ = store.Close()
		_ = s.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("close memory store", zap.Error(err))
		}
		if err := s.Close(); err != nil {
			a.logger.Warn("close resources", zap.Error(err))
		}
	}
	return assistant, cleanup, nil
}
