// Package answer runs the authenticated question-answering pipeline:
// credential verification, query embedding, passage retrieval, and answer
// synthesis, in that order. Any stage failure aborts the run and no later
// stage is invoked.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oriade/ragserve/internal/auth"
	"github.com/oriade/ragserve/internal/domain"
	"github.com/oriade/ragserve/internal/metrics"
)

// Stage names as they appear in logs and metrics.
const (
	stageAuthenticate = "authenticate"
	stageEmbed        = "embed"
	stageRetrieve     = "retrieve"
	stageSynthesize   = "synthesize"
)

// DefaultStageTimeout bounds each stage when no timeout is configured.
const DefaultStageTimeout = 30 * time.Second

// Service orchestrates the pipeline over its collaborators.
type Service struct {
	verifier     CredentialVerifier
	embedder     Embedder
	retriever    Retriever
	generator    Generator
	stageTimeout time.Duration
	logger       *zap.Logger
}

// NewService wires the pipeline. A non-positive stageTimeout falls back to
// DefaultStageTimeout.
func NewService(
	verifier CredentialVerifier,
	embedder Embedder,
	retriever Retriever,
	generator Generator,
	stageTimeout time.Duration,
	logger *zap.Logger,
) *Service {
	if stageTimeout <= 0 {
		stageTimeout = DefaultStageTimeout
	}
	return &Service{
		verifier:     verifier,
		embedder:     embedder,
		retriever:    retriever,
		generator:    generator,
		stageTimeout: stageTimeout,
		logger:       logger,
	}
}

// Answer runs the full pipeline for one query. The credential is verified
// before any other collaborator is touched; an unverified request never
// reaches the embedder, the store, or the generator.
func (s *Service) Answer(ctx context.Context, credential string, q domain.Query) (domain.Answer, error) {
	start := time.Now()

	claims, err := runStage(ctx, s, stageAuthenticate, func(ctx context.Context) (auth.Claims, error) {
		return s.verifier.Verify(ctx, credential)
	})
	if err != nil {
		s.finish(start, "unauthenticated", err)
		return domain.Answer{}, fmt.Errorf("authenticate: %w", err)
	}

	log := s.logger.With(zap.String("subject", claims.Subject))
	log.Info("query accepted",
		zap.Int("query_chars", len(q.Text)),
		zap.Int("top_k", q.TopK))

	emb, err := runStage(ctx, s, stageEmbed, func(ctx context.Context) (domain.EmbeddingResult, error) {
		return s.embedder.Embed(ctx, q.Text)
	})
	if err != nil {
		s.finish(start, "embed_error", err)
		return domain.Answer{}, fmt.Errorf("embed query: %w", err)
	}

	passages, err := runStage(ctx, s, stageRetrieve, func(ctx context.Context) ([]string, error) {
		return s.retriever.Search(ctx, emb.Embedding, q.TopK)
	})
	if err != nil {
		s.finish(start, "retrieve_error", err)
		return domain.Answer{}, fmt.Errorf("retrieve passages: %w", err)
	}
	if len(passages) == 0 {
		s.finish(start, "no_documents", domain.ErrNoRelevantDocuments)
		return domain.Answer{}, domain.ErrNoRelevantDocuments
	}
	log.Debug("passages retrieved", zap.Int("count", len(passages)))

	prompt := BuildPrompt(q.Text, passages)
	text, err := runStage(ctx, s, stageSynthesize, func(ctx context.Context) (string, error) {
		return s.generator.Generate(ctx, prompt)
	})
	if err != nil {
		s.finish(start, "generation_error", err)
		return domain.Answer{}, fmt.Errorf("synthesize answer: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		err := fmt.Errorf("%w: provider returned empty output", domain.ErrGenerationFailed)
		s.finish(start, "generation_error", err)
		return domain.Answer{}, err
	}

	s.finish(start, "ok", nil)
	log.Info("query answered",
		zap.Int("passages", len(passages)),
		zap.Int("answer_chars", len(text)),
		zap.Duration("total", time.Since(start)))

	return domain.Answer{Text: text, Passages: passages}, nil
}

// runStage executes one stage under its own timeout and records its duration
// and outcome.
func runStage[T any](ctx context.Context, s *Service, stage string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	start := time.Now()
	out, err := fn(ctx)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.PipelineStageDuration.WithLabelValues(stage, status).Observe(elapsed.Seconds())

	if err != nil {
		s.logger.Warn("pipeline stage failed",
			zap.String("stage", stage),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		s.logger.Debug("pipeline stage done",
			zap.String("stage", stage),
			zap.Duration("elapsed", elapsed))
	}
	return out, err
}

func (s *Service) finish(start time.Time, outcome string, err error) {
	metrics.PipelineRequestsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		s.logger.Info("pipeline finished",
			zap.String("outcome", outcome),
			zap.Duration("total", time.Since(start)),
			zap.Error(err))
	}
}
