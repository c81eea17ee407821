package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"telegram-ai-billing/internal/domain/ports/adapter"
)

const fallbackEncoding = "cl100k_base"

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

func encodingFor(model string) *tiktoken.Tiktoken {
	encMu.Lock()
	defer encMu.Unlock()
	if enc, ok := encCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil
		}
	}
	encCache[model] = enc
	return enc
}

// CountTokens estimates the tokens of a whole exchange for providers that
// do not report usage. It falls back to four characters per token when no
// encoding can be loaded.
func CountTokens(model, system string, history []adapter.Message, answer string) int {
	enc := encodingFor(model)
	count := func(s string) int {
		if s == "" {
			return 0
		}
		if enc == nil {
			return (len(s) + 3) / 4
		}
		return len(enc.Encode(s, nil, nil))
	}

	// every message carries a few tokens of role framing
	const perMessage = 4
	n := count(system) + count(answer)
	for _, m := range history {
		n += perMessage + count(m.Content)
	}
	return n
}
