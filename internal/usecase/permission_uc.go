// File: internal/usecase/permission_uc.go
package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/infra/logging"
)

// Compile-time check
var _ PermissionUseCase = (*permissionUC)(nil)

type CapabilityStatus int

const (
	CapabilityAllowed CapabilityStatus = iota
	CapabilityNotAllowedByTier
)

type VoiceStatus int

const (
	VoiceAllowed VoiceStatus = iota
	VoiceNotAllowedByTier
	VoiceTooLong
)

// VoicePermission carries the tier maximum so the bot can tell the user.
type VoicePermission struct {
	Status       VoiceStatus
	LimitSeconds int
}

type PhotoStatus int

const (
	PhotoAllowed PhotoStatus = iota
	PhotoNotAllowedByTier
	PhotoLimitExceeded
)

type PhotoPermission struct {
	Status PhotoStatus
	Limit  int64
}

type LimitQuery struct {
	UserID string
	Class  model.ResourceClass
	Tier   model.Tier
	Cost   int64 // 0 means 1
}

// LimitDecision is the read-only answer of CheckLimit.
type LimitDecision struct {
	Allowed      bool
	Units        int64
	Tokens       int64
	MessageLimit int64
	TokenLimit   int64
}

// PermissionUseCase answers "may this user do that right now". Denials are
// results; only store failures are errors.
type PermissionUseCase interface {
	CheckLimit(ctx context.Context, q LimitQuery) (LimitDecision, error)
	CanAfford(ctx context.Context, req DebitRequest) (bool, error)
	Capabilities(tier model.Tier) model.TierCapabilities

	CheckVoice(tier model.Tier, seconds int) VoicePermission
	CheckImageUpload(ctx context.Context, userID string, tier model.Tier) (PhotoPermission, error)
	CheckFileUpload(tier model.Tier) CapabilityStatus
	CheckCustomRoles(tier model.Tier) CapabilityStatus
	CheckImageGeneration(tier model.Tier) CapabilityStatus
	CheckDocAnswers(tier model.Tier) CapabilityStatus
	CheckImageFileOutput(tier model.Tier) CapabilityStatus
}

type permissionUC struct {
	usage  UsageUseCase
	limits repository.TierLimitsRepository
	chain  *DebitChain
	caps   model.CapabilityTable
	log    *zerolog.Logger
}

func NewPermissionUseCase(
	usage UsageUseCase,
	limits repository.TierLimitsRepository,
	chain *DebitChain,
	caps model.CapabilityTable,
	logger *zerolog.Logger,
) *permissionUC {
	l := logger.With().Str("component", "PermissionUseCase").Logger()
	return &permissionUC{usage: usage, limits: limits, chain: chain, caps: caps, log: &l}
}

func (p *permissionUC) CheckLimit(ctx context.Context, q LimitQuery) (LimitDecision, error) {
	defer logging.TraceDuration(p.log, "PermissionUC.CheckLimit")()
	if q.UserID == "" || q.Class == "" {
		return LimitDecision{}, domain.ErrInvalidArgument
	}
	cost := q.Cost
	if cost <= 0 {
		cost = 1
	}

	l, err := p.limits.Get(ctx, q.Tier, q.Class)
	if errors.Is(err, domain.ErrNotFound) {
		// no quota configured for this class means no access
		return LimitDecision{}, nil
	}
	if err != nil {
		return LimitDecision{}, err
	}
	snap, err := p.usage.Window(ctx, q.UserID, q.Class, q.Tier)
	if err != nil {
		return LimitDecision{}, err
	}

	d := LimitDecision{
		Units:        snap.Units,
		Tokens:       snap.Tokens,
		MessageLimit: l.MessageLimit,
		TokenLimit:   l.TokenLimit,
	}
	d.Allowed = snap.Units+cost <= l.MessageLimit && snap.Tokens < l.TokenLimit
	if !d.Allowed {
		p.log.Debug().Str("user_id", q.UserID).Str("class", string(q.Class)).
			Int64("units", snap.Units).Int64("limit", l.MessageLimit).Msg("limit reached")
	}
	return d, nil
}

// CanAfford uses the debit chain's own read-only view so the pre-check and
// the later debit agree on what "covered" means.
func (p *permissionUC) CanAfford(ctx context.Context, req DebitRequest) (bool, error) {
	if p.chain == nil {
		return false, nil
	}
	if req.Cost <= 0 {
		req.Cost = 1
	}
	return p.chain.CanCover(ctx, req)
}

func (p *permissionUC) Capabilities(tier model.Tier) model.TierCapabilities {
	return p.caps.For(tier)
}

func (p *permissionUC) CheckVoice(tier model.Tier, seconds int) VoicePermission {
	c := p.caps.For(tier)
	if !c.VoiceAllowed {
		return VoicePermission{Status: VoiceNotAllowedByTier}
	}
	if c.VoiceLimitSeconds > 0 && seconds > c.VoiceLimitSeconds {
		return VoicePermission{Status: VoiceTooLong, LimitSeconds: c.VoiceLimitSeconds}
	}
	return VoicePermission{Status: VoiceAllowed, LimitSeconds: c.VoiceLimitSeconds}
}

func (p *permissionUC) CheckImageUpload(ctx context.Context, userID string, tier model.Tier) (PhotoPermission, error) {
	c := p.caps.For(tier)
	if !c.ImageUploadAllowed {
		return PhotoPermission{Status: PhotoNotAllowedByTier}, nil
	}
	if c.ImageUploadLimit <= 0 {
		return PhotoPermission{Status: PhotoAllowed}, nil
	}
	snap, err := p.usage.Window(ctx, userID, model.ClassImageUpload, tier)
	if err != nil {
		return PhotoPermission{}, err
	}
	if snap.Units >= c.ImageUploadLimit {
		return PhotoPermission{Status: PhotoLimitExceeded, Limit: c.ImageUploadLimit}, nil
	}
	return PhotoPermission{Status: PhotoAllowed, Limit: c.ImageUploadLimit}, nil
}

func gate(ok bool) CapabilityStatus {
	if ok {
		return CapabilityAllowed
	}
	return CapabilityNotAllowedByTier
}

func (p *permissionUC) CheckFileUpload(tier model.Tier) CapabilityStatus {
	return gate(p.caps.For(tier).FileUploadAllowed)
}

func (p *permissionUC) CheckCustomRoles(tier model.Tier) CapabilityStatus {
	return gate(p.caps.For(tier).CustomRoles)
}

func (p *permissionUC) CheckImageGeneration(tier model.Tier) CapabilityStatus {
	return gate(p.caps.For(tier).ImageGeneration)
}

func (p *permissionUC) CheckDocAnswers(tier model.Tier) CapabilityStatus {
	return gate(p.caps.For(tier).DocAnswers)
}

func (p *permissionUC) CheckImageFileOutput(tier model.Tier) CapabilityStatus {
	return gate(p.caps.For(tier).ImageFileOutput)
}
