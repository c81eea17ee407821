package ai

import (
	"context"
	"time"

	"telegram-ai-billing/internal/domain/ports/adapter"
	"telegram-ai-billing/internal/infra/metrics"
)

// Compile-time check
var _ adapter.AIServiceAdapter = (*limitedAI)(nil)

// limitedAI caps concurrent provider calls and records their latency.
type limitedAI struct {
	inner adapter.AIServiceAdapter
	sem   chan struct{}
}

func NewLimitedAI(inner adapter.AIServiceAdapter, maxConcurrent int) adapter.AIServiceAdapter {
	l := &limitedAI{inner: inner}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	return l
}

func (l *limitedAI) Provider() string { return l.inner.Provider() }

func (l *limitedAI) GetAnswer(ctx context.Context, req adapter.AnswerRequest) (adapter.Answer, error) {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			return adapter.Answer{}, ctx.Err()
		}
	}

	start := time.Now()
	ans, err := l.inner.GetAnswer(ctx, req)
	provider := req.Provider
	if provider == "" {
		provider = l.inner.Provider()
	}
	metrics.ObserveAIRequest(provider, req.Model, time.Since(start), err == nil)
	if err == nil {
		metrics.AddAITokens(provider, req.Model, ans.Tokens)
	}
	return ans, err
}
