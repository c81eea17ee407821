// File: internal/usecase/chat_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/adapter"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/infra/metrics"
)

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageVoice    MessageKind = "voice"
	MessagePhoto    MessageKind = "photo"
	MessageDocument MessageKind = "document"
)

type MessageStatus int

const (
	StatusOK MessageStatus = iota
	StatusDeniedLimit
	StatusDeniedCapability
	StatusVoiceTooLong
	StatusNoModel
	StatusBusy
	StatusProviderError
	StatusUnbilled
)

func (s MessageStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDeniedLimit:
		return "denied_limit"
	case StatusDeniedCapability:
		return "denied_capability"
	case StatusVoiceTooLong:
		return "voice_too_long"
	case StatusNoModel:
		return "no_model"
	case StatusBusy:
		return "busy"
	case StatusProviderError:
		return "provider_error"
	case StatusUnbilled:
		return "unbilled"
	}
	return "unknown"
}

type MessageRequest struct {
	RequestID    string // one debit per request id; generated when empty
	UserID       string
	Kind         MessageKind
	Text         string // message text or media caption
	VoiceSeconds int
	FileURL      string // voice, photo or document download URL
}

// MessageResult is what the bot renders. Reply is empty unless Status is OK.
type MessageResult struct {
	Status            MessageStatus
	Reply             string
	ModelName         string
	Source            model.UsageSource
	VoiceLimitSeconds int
	Tokens            int
}

type ChatOptions struct {
	RequestTimeout    time.Duration
	ClassifierTimeout time.Duration
	HistoryLimit      int
	SystemPrompt      string
	LockTTL           time.Duration
}

func (o *ChatOptions) applyDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.ClassifierTimeout <= 0 {
		o.ClassifierTimeout = 10 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 15
	}
	if o.LockTTL <= 0 {
		o.LockTTL = o.RequestTimeout + 30*time.Second
	}
}

// ChatUseCase answers one user message end to end: gates, model choice,
// provider call, debit and persistence.
type ChatUseCase interface {
	HandleMessage(ctx context.Context, req MessageRequest) (*MessageResult, error)
	EndChat(ctx context.Context, userID string) error
}

type chatUC struct {
	users       repository.UserRepository
	lifecycle   SubscriptionUseCase
	permissions PermissionUseCase
	chain       *DebitChain
	usage       UsageUseCase
	models      repository.AIModelRepository
	sessions    repository.ChatSessionRepository
	locker      repository.Locker
	ai          adapter.AIServiceAdapter
	transcriber adapter.Transcriber
	roles       RoleUseCase
	opts        ChatOptions
	now         func() time.Time
	log         *zerolog.Logger
}

func NewChatUseCase(
	users repository.UserRepository,
	lifecycle SubscriptionUseCase,
	permissions PermissionUseCase,
	chain *DebitChain,
	usage UsageUseCase,
	models repository.AIModelRepository,
	sessions repository.ChatSessionRepository,
	locker repository.Locker,
	ai adapter.AIServiceAdapter,
	transcriber adapter.Transcriber,
	opts ChatOptions,
	logger *zerolog.Logger,
) *chatUC {
	opts.applyDefaults()
	l := logger.With().Str("component", "ChatUseCase").Logger()
	return &chatUC{
		users:       users,
		lifecycle:   lifecycle,
		permissions: permissions,
		chain:       chain,
		usage:       usage,
		models:      models,
		sessions:    sessions,
		locker:      locker,
		ai:          ai,
		transcriber: transcriber,
		opts:        opts,
		now:         time.Now,
		log:         &l,
	}
}

func (c *chatUC) WithClock(now func() time.Time) *chatUC {
	c.now = now
	return c
}

// WithRoles lets the selected role replace the configured system prompt.
func (c *chatUC) WithRoles(roles RoleUseCase) *chatUC {
	c.roles = roles
	return c
}

func chatLockKey(userID string) string { return "chat:lock:" + userID }

func (c *chatUC) HandleMessage(ctx context.Context, req MessageRequest) (*MessageResult, error) {
	defer logging.TraceDuration(c.log, "ChatUC.HandleMessage")()

	if req.UserID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if req.Kind == "" {
		req.Kind = MessageText
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	log := c.log.With().Str("user_id", req.UserID).Str("request_id", req.RequestID).Logger()

	if c.locker != nil {
		token, err := c.locker.TryLock(ctx, chatLockKey(req.UserID), c.opts.LockTTL)
		if errors.Is(err, domain.ErrLocked) {
			return &MessageResult{Status: StatusBusy}, nil
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := c.locker.Unlock(context.WithoutCancel(ctx), chatLockKey(req.UserID), token); err != nil {
				log.Warn().Err(err).Msg("failed to release chat lock")
			}
		}()
	}

	user, err := c.users.FindByID(ctx, repository.NoTX, req.UserID)
	if err != nil {
		return nil, err
	}
	sub, err := c.lifecycle.Current(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	tier := model.TierFree
	var subID *string
	if sub != nil {
		tier = sub.Tier
		id := sub.ID
		subID = &id
	}

	question, res, err := c.prepareInput(ctx, req, tier)
	if err != nil || res != nil {
		return res, err
	}

	session, err := c.activeSession(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	m, err := c.resolveModel(ctx, user, tier, question)
	if errors.Is(err, domain.ErrNoModel) {
		return &MessageResult{Status: StatusNoModel}, nil
	}
	if err != nil {
		return nil, err
	}
	if m.Type == model.AIModelTypeImage && c.permissions.CheckImageGeneration(tier) != CapabilityAllowed {
		return &MessageResult{Status: StatusDeniedCapability, ModelName: m.Name}, nil
	}

	debit := DebitRequest{
		RequestID:      req.RequestID,
		UserID:         req.UserID,
		Tier:           tier,
		SubscriptionID: subID,
		Class:          m.Class,
		Cost:           m.Cost(),
	}
	ok, err := c.permissions.CanAfford(ctx, debit)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.PrecheckBlocked("limit")
		log.Debug().Str("class", string(m.Class)).Msg("pre-check denied")
		return &MessageResult{Status: StatusDeniedLimit, ModelName: m.Name}, nil
	}

	history, err := c.sessions.RecentMessages(ctx, repository.NoTX, session.ID, c.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	msgs := make([]adapter.Message, 0, len(history)+1)
	for _, h := range history {
		msgs = append(msgs, adapter.Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, adapter.Message{Role: model.RoleUser, Content: question})

	callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	started := time.Now()
	answer, err := c.ai.GetAnswer(callCtx, adapter.AnswerRequest{
		SystemPrompt: c.systemPrompt(ctx, user, tier),
		History:      msgs,
		Provider:     m.Provider,
		Model:        m.APIName,
		Endpoint:     m.Endpoint,
	})
	cancel()
	metrics.ObserveAIRequest(m.Provider, m.Name, time.Since(started), err == nil)
	if err != nil {
		log.Warn().Err(err).Str("model", m.Name).Msg("provider call failed")
		return &MessageResult{Status: StatusProviderError, ModelName: m.Name}, nil
	}
	metrics.AddAITokens(m.Provider, m.Name, answer.Tokens)

	billed, err := c.chain.Debit(ctx, debit)
	if err != nil {
		return nil, fmt.Errorf("debit: %w", err)
	}
	if !billed.Accepted {
		// capacity vanished between pre-check and debit; the answer is withheld
		metrics.IncDebitMismatch()
		log.Warn().Str("class", string(m.Class)).Msg("all debit strategies denied after answer")
		return &MessageResult{Status: StatusUnbilled, ModelName: m.Name}, nil
	}

	if limit := c.permissions.Capabilities(tier).ImageUploadLimit; req.Kind == MessagePhoto && limit > 0 {
		if _, err := c.usage.TryConsumeWindow(ctx, req.UserID, model.ClassImageUpload, tier, 1, limit); err != nil {
			log.Warn().Err(err).Msg("failed to count image upload")
		}
	}

	now := c.now()
	err = c.sessions.AppendMessages(ctx, repository.NoTX,
		model.ChatMessage{SessionID: session.ID, Role: model.RoleUser, Content: question, ModelID: m.ID, Timestamp: now},
		model.ChatMessage{SessionID: session.ID, Role: model.RoleAssistant, Content: answer.Text, ModelID: m.ID, Tokens: answer.Tokens, Timestamp: now},
	)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("failed to persist dialog")
	}

	if billed.Source != model.UsageSourcePacket && answer.Tokens > 0 {
		windowTier := tier
		if billed.Source == model.UsageSourceFree {
			windowTier = model.TierFree
		}
		if err := c.usage.RecordTokens(ctx, req.UserID, m.Class, windowTier, int64(answer.Tokens)); err != nil {
			log.Warn().Err(err).Msg("failed to record tokens")
		}
	}

	return &MessageResult{
		Status:    StatusOK,
		Reply:     answer.Text,
		ModelName: m.Name,
		Source:    billed.Source,
		Tokens:    answer.Tokens,
	}, nil
}

// prepareInput runs the media gates and turns the request into question
// text. A non-nil result is an early denial.
func (c *chatUC) prepareInput(ctx context.Context, req MessageRequest, tier model.Tier) (string, *MessageResult, error) {
	text := strings.TrimSpace(req.Text)
	switch req.Kind {
	case MessageVoice:
		vp := c.permissions.CheckVoice(tier, req.VoiceSeconds)
		switch vp.Status {
		case VoiceNotAllowedByTier:
			return "", &MessageResult{Status: StatusDeniedCapability}, nil
		case VoiceTooLong:
			return "", &MessageResult{Status: StatusVoiceTooLong, VoiceLimitSeconds: vp.LimitSeconds}, nil
		}
		if c.transcriber == nil {
			return "", &MessageResult{Status: StatusDeniedCapability}, nil
		}
		tctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
		transcript, err := c.transcriber.Transcribe(tctx, req.FileURL)
		if err != nil {
			c.log.Warn().Err(err).Str("user_id", req.UserID).Msg("transcription failed")
			return "", &MessageResult{Status: StatusProviderError}, nil
		}
		text = strings.TrimSpace(transcript)
	case MessagePhoto:
		pp, err := c.permissions.CheckImageUpload(ctx, req.UserID, tier)
		if err != nil {
			return "", nil, err
		}
		if pp.Status != PhotoAllowed {
			if pp.Status == PhotoLimitExceeded {
				return "", &MessageResult{Status: StatusDeniedLimit}, nil
			}
			return "", &MessageResult{Status: StatusDeniedCapability}, nil
		}
		text = withAttachment(text, "image", req.FileURL)
	case MessageDocument:
		if c.permissions.CheckFileUpload(tier) != CapabilityAllowed || c.permissions.CheckDocAnswers(tier) != CapabilityAllowed {
			return "", &MessageResult{Status: StatusDeniedCapability}, nil
		}
		text = withAttachment(text, "document", req.FileURL)
	}
	if text == "" {
		return "", nil, domain.ErrInvalidArgument
	}
	return text, nil, nil
}

func withAttachment(caption, kind, url string) string {
	if url == "" {
		return caption
	}
	if caption == "" {
		return fmt.Sprintf("[%s: %s]", kind, url)
	}
	return fmt.Sprintf("%s\n[%s: %s]", caption, kind, url)
}

func (c *chatUC) activeSession(ctx context.Context, userID string) (*model.ChatSession, error) {
	s, err := c.sessions.FindActiveByUser(ctx, repository.NoTX, userID)
	if err == nil && s != nil {
		return s, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	s = model.NewChatSession(uuid.NewString(), userID)
	if err := c.sessions.Save(ctx, repository.NoTX, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *chatUC) systemPrompt(ctx context.Context, u *model.User, tier model.Tier) string {
	if c.roles == nil {
		return c.opts.SystemPrompt
	}
	prompt, err := c.roles.Prompt(ctx, u, tier)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", u.ID).Msg("role prompt lookup failed, using default")
	}
	if prompt == "" {
		return c.opts.SystemPrompt
	}
	return prompt
}

// resolveModel honours an explicit selection the tier may use, otherwise
// asks the classifier, otherwise falls back to the default model.
func (c *chatUC) resolveModel(ctx context.Context, u *model.User, tier model.Tier, question string) (*model.AIModel, error) {
	if !u.WantsAutoModel() {
		m, err := c.models.FindByID(ctx, repository.NoTX, *u.SelectedModelID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if m != nil && m.AvailableFor(tier) {
			return m, nil
		}
	}

	available, err := c.models.ListAvailable(ctx, repository.NoTX, tier)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, domain.ErrNoModel
	}
	fallback := available[0]
	if def, err := c.models.FindDefault(ctx, repository.NoTX); err == nil && def.AvailableFor(tier) {
		fallback = def
	}
	if len(available) == 1 {
		return fallback, nil
	}
	if picked := c.classify(ctx, fallback, available, question); picked != nil {
		return picked, nil
	}
	return fallback, nil
}

func (c *chatUC) classify(ctx context.Context, via *model.AIModel, candidates []*model.AIModel, question string) *model.AIModel {
	names := make([]string, 0, len(candidates))
	for _, m := range candidates {
		if m.Description != "" {
			names = append(names, fmt.Sprintf("%s (%s)", m.Name, m.Description))
		} else {
			names = append(names, m.Name)
		}
	}
	prompt := "Choose the model best suited to answer the user's message. " +
		"Reply with the model name only. Models: " + strings.Join(names, "; ")

	cctx, cancel := context.WithTimeout(ctx, c.opts.ClassifierTimeout)
	defer cancel()
	ans, err := c.ai.GetAnswer(cctx, adapter.AnswerRequest{
		SystemPrompt: prompt,
		History:      []adapter.Message{{Role: model.RoleUser, Content: question}},
		Provider:     via.Provider,
		Model:        via.APIName,
		Endpoint:     via.Endpoint,
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("classifier failed, using default model")
		return nil
	}
	choice := strings.ToLower(strings.Trim(strings.TrimSpace(ans.Text), "\"'`."))
	for _, m := range candidates {
		if strings.ToLower(m.Name) == choice {
			return m
		}
	}
	return nil
}

func (c *chatUC) EndChat(ctx context.Context, userID string) error {
	s, err := c.sessions.FindActiveByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.Status = model.ChatSessionFinished
	s.UpdatedAt = c.now()
	return c.sessions.Save(ctx, repository.NoTX, s)
}
