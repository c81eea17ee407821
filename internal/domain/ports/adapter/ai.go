package adapter

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

type AnswerRequest struct {
	SystemPrompt string
	History      []Message // oldest first; the last entry is the user's question
	Provider     string    // registry key; empty lets the router guess from Model
	Model        string    // provider-side model name
	Endpoint     string    // optional base URL override
}

type Answer struct {
	Text   string
	Tokens int // total tokens, counted locally when the provider omits usage
}

// AIServiceAdapter is the port for one LLM provider.
type AIServiceAdapter interface {
	Provider() string
	GetAnswer(ctx context.Context, req AnswerRequest) (Answer, error)
}

// Transcriber turns a voice recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, fileURL string) (string, error)
}
