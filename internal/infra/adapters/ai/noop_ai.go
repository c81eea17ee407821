package ai

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain/ports/adapter"
)

var (
	_ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)
	_ adapter.Transcriber      = (*NoopAIAdapter)(nil)
)

// NoopAIAdapter answers with a fixed text for local runs without provider keys.
type NoopAIAdapter struct {
	log *zerolog.Logger
}

func NewNoopAIAdapter(logger *zerolog.Logger) *NoopAIAdapter {
	l := logger.With().Str("component", "NoopAIAdapter").Logger()
	return &NoopAIAdapter{log: &l}
}

func (a *NoopAIAdapter) Provider() string { return ProviderNoop }

func (a *NoopAIAdapter) GetAnswer(ctx context.Context, req adapter.AnswerRequest) (adapter.Answer, error) {
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return adapter.Answer{}, ctx.Err()
	}
	a.log.Debug().Str("model", req.Model).Int("messages", len(req.History)).Msg("noop answer")
	text := "This is a noop AI response."
	return adapter.Answer{Text: text, Tokens: CountTokens(req.Model, req.SystemPrompt, req.History, text)}, nil
}

func (a *NoopAIAdapter) Transcribe(ctx context.Context, fileURL string) (string, error) {
	return "", nil
}
