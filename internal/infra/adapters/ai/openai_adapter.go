package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"telegram-ai-billing/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIServiceAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.AIServiceAdapter using the Chat Completions API.
type OpenAIAdapter struct {
	client openai.Client
	model  string
	maxOut int64
}

func NewOpenAIAdapter(apiKey, baseURL, model string, maxOut int) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		client: openai.NewClient(opts...),
		model:  model,
		maxOut: int64(maxOut),
	}, nil
}

func (o *OpenAIAdapter) Provider() string { return ProviderOpenAI }

func (o *OpenAIAdapter) GetAnswer(ctx context.Context, req adapter.AnswerRequest) (adapter.Answer, error) {
	if len(req.History) == 0 {
		return adapter.Answer{}, errors.New("openai: no messages")
	}
	model := modelOrDefault(req.Model, o.model)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(req.SystemPrompt, req.History),
	}
	if o.maxOut > 0 {
		params.MaxCompletionTokens = openai.Int(o.maxOut)
	}
	var opts []option.RequestOption
	if req.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(req.Endpoint))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return adapter.Answer{}, err
	}
	text := ""
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			text = c.Message.Content
			break
		}
	}
	if text == "" {
		return adapter.Answer{}, errors.New("openai: no choice content")
	}

	tokens := int(resp.Usage.TotalTokens)
	if tokens == 0 {
		tokens = CountTokens(model, req.SystemPrompt, req.History, text)
	}
	return adapter.Answer{Text: text, Tokens: tokens}, nil
}

func toOpenAIMessages(system string, history []adapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range history {
		switch strings.ToLower(m.Role) {
		case "assistant", "model":
			out = append(out, openai.AssistantMessage(m.Content))
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
