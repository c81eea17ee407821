// File: internal/infra/adapters/ai/multi_adapter.go
package ai

import (
	"context"
	"fmt"
	"strings"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/ports/adapter"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNoop   = "noop"
)

var _ adapter.AIServiceAdapter = (*MultiAIAdapter)(nil)

// MultiAIAdapter routes a request to the provider named on the model row,
// then by model name prefix, then to the default provider.
type MultiAIAdapter struct {
	defaultProvider string
	byProvider      map[string]adapter.AIServiceAdapter
}

func NewMultiAIAdapter(defaultProvider string, providers ...adapter.AIServiceAdapter) *MultiAIAdapter {
	m := &MultiAIAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      make(map[string]adapter.AIServiceAdapter, len(providers)),
	}
	for _, p := range providers {
		if p != nil {
			m.byProvider[strings.ToLower(p.Provider())] = p
		}
	}
	return m
}

func (m *MultiAIAdapter) Provider() string { return "multi" }

// Providers lists the registered provider keys.
func (m *MultiAIAdapter) Providers() []string {
	out := make([]string, 0, len(m.byProvider))
	for k := range m.byProvider {
		out = append(out, k)
	}
	return out
}

func (m *MultiAIAdapter) resolveProvider(req adapter.AnswerRequest) string {
	if p := strings.ToLower(strings.TrimSpace(req.Provider)); p != "" {
		return p
	}
	l := strings.ToLower(req.Model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return ProviderGemini
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return ProviderOpenAI
	default:
		return m.defaultProvider
	}
}

func (m *MultiAIAdapter) pick(req adapter.AnswerRequest) (adapter.AIServiceAdapter, error) {
	prov := m.resolveProvider(req)
	if a := m.byProvider[prov]; a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("%w: ai provider %q not configured", domain.ErrProvider, prov)
}

func (m *MultiAIAdapter) GetAnswer(ctx context.Context, req adapter.AnswerRequest) (adapter.Answer, error) {
	a, err := m.pick(req)
	if err != nil {
		return adapter.Answer{}, err
	}
	return a.GetAnswer(ctx, req)
}
