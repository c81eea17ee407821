//go:build !integration

package application_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/adapter"
	"telegram-ai-billing/internal/domain/ports/repository"
	"telegram-ai-billing/internal/usecase"
)

// spaceTranslator renders "key arg1 arg2".
type spaceTranslator struct{}

func (spaceTranslator) T(key string, args ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintln(append([]interface{}{key}, args...)...))
}

func strPtr(s string) *string { return &s }

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type mockUserUC struct {
	users           map[int64]*model.User
	SelectModelFunc func(ctx context.Context, userID, name string, tier model.Tier) (*model.AIModel, error)
}

func newMockUserUC(users ...*model.User) *mockUserUC {
	m := &mockUserUC{users: map[int64]*model.User{}}
	for _, u := range users {
		m.users[u.TelegramID] = u
	}
	return m
}

func (m *mockUserUC) RegisterOrFetch(ctx context.Context, tgID int64, username string) (*model.User, error) {
	if u, ok := m.users[tgID]; ok {
		return u, nil
	}
	u := &model.User{ID: fmt.Sprintf("user-%d", tgID), TelegramID: tgID, Username: username}
	m.users[tgID] = u
	return u, nil
}

func (m *mockUserUC) GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error) {
	if u, ok := m.users[tgID]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockUserUC) SelectModel(ctx context.Context, userID, name string, tier model.Tier) (*model.AIModel, error) {
	if m.SelectModelFunc != nil {
		return m.SelectModelFunc(ctx, userID, name, tier)
	}
	return nil, nil
}

type mockCatalogUC struct {
	plans     []*model.Plan
	packets   []*model.Packet
	models    []*model.AIModel
	UsageFunc func(ctx context.Context, userID string, class model.ResourceClass) (*usecase.UsageView, error)
}

func (m *mockCatalogUC) ListPlans(ctx context.Context) ([]*model.Plan, error)     { return m.plans, nil }
func (m *mockCatalogUC) ListPackets(ctx context.Context) ([]*model.Packet, error) { return m.packets, nil }
func (m *mockCatalogUC) ListModels(ctx context.Context, tier model.Tier) ([]*model.AIModel, error) {
	return m.models, nil
}
func (m *mockCatalogUC) Usage(ctx context.Context, userID string, class model.ResourceClass) (*usecase.UsageView, error) {
	if m.UsageFunc != nil {
		return m.UsageFunc(ctx, userID, class)
	}
	return &usecase.UsageView{}, nil
}

type mockSubUC struct {
	current              *model.Subscription
	DisableAutoRenewFunc func(ctx context.Context, userID string) (int, error)
}

func (m *mockSubUC) Renew(ctx context.Context, subID string) (usecase.RenewalOutcome, error) {
	return "", nil
}
func (m *mockSubUC) RetryPastDue(ctx context.Context, subID string) (usecase.RenewalOutcome, error) {
	return "", nil
}
func (m *mockSubUC) ApplyPaymentSucceeded(ctx context.Context, tx repository.Tx, inv *model.Invoice, pay *model.Payment, method *model.PaymentMethod) (*model.Subscription, error) {
	return nil, nil
}
func (m *mockSubUC) ApplyPaymentCanceled(ctx context.Context, tx repository.Tx, inv *model.Invoice, pay *model.Payment) (*model.Subscription, error) {
	return nil, nil
}
func (m *mockSubUC) DisableAutoRenew(ctx context.Context, userID string) (int, error) {
	if m.DisableAutoRenewFunc != nil {
		return m.DisableAutoRenewFunc(ctx, userID)
	}
	return 0, nil
}
func (m *mockSubUC) Current(ctx context.Context, userID string) (*model.Subscription, error) {
	return m.current, nil
}

type mockPayUC struct {
	StartCheckoutFunc func(ctx context.Context, userID, planID string, provider model.PaymentProvider) (*usecase.Checkout, error)
	StartRebindFunc   func(ctx context.Context, userID string) (*usecase.Checkout, error)
	telegramEvents    []usecase.TelegramPaymentEvent
}

func (m *mockPayUC) StartCheckout(ctx context.Context, userID, planID string, provider model.PaymentProvider) (*usecase.Checkout, error) {
	return m.StartCheckoutFunc(ctx, userID, planID, provider)
}
func (m *mockPayUC) StartRebind(ctx context.Context, userID string) (*usecase.Checkout, error) {
	return m.StartRebindFunc(ctx, userID)
}
func (m *mockPayUC) StartPacketPurchase(ctx context.Context, userID, packetID string, provider model.PaymentProvider) (*usecase.Checkout, error) {
	return nil, domain.ErrNotFound
}
func (m *mockPayUC) HandleGatewayEvent(ctx context.Context, ev *adapter.GatewayPayment) (usecase.WebhookResult, error) {
	return usecase.WebhookApplied, nil
}
func (m *mockPayUC) ValidatePreCheckout(ctx context.Context, payload, currency string, amount int64) error {
	if currency != model.CurrencyStars {
		return domain.ErrDataIntegrity
	}
	return nil
}
func (m *mockPayUC) HandleTelegramPayment(ctx context.Context, ev usecase.TelegramPaymentEvent) (usecase.WebhookResult, error) {
	m.telegramEvents = append(m.telegramEvents, ev)
	return usecase.WebhookApplied, nil
}
func (m *mockPayUC) ReconcileStale(ctx context.Context, olderThan time.Time) (usecase.ReconcileReport, error) {
	return usecase.ReconcileReport{}, nil
}

type mockChatUC struct {
	HandleMessageFunc func(ctx context.Context, req usecase.MessageRequest) (*usecase.MessageResult, error)
	ended             []string
}

func (m *mockChatUC) HandleMessage(ctx context.Context, req usecase.MessageRequest) (*usecase.MessageResult, error) {
	return m.HandleMessageFunc(ctx, req)
}
func (m *mockChatUC) EndChat(ctx context.Context, userID string) error {
	m.ended = append(m.ended, userID)
	return nil
}

type mockRoleUC struct {
	views      []usecase.RoleView
	CreateFunc func(ctx context.Context, userID string, tier model.Tier, in usecase.NewRole) (*model.Role, error)
	SelectFunc func(ctx context.Context, userID, roleID string, tier model.Tier) (*model.Role, error)
	deleted    []string
}

func (m *mockRoleUC) List(ctx context.Context, userID string, tier model.Tier) ([]usecase.RoleView, error) {
	return m.views, nil
}
func (m *mockRoleUC) Create(ctx context.Context, userID string, tier model.Tier, in usecase.NewRole) (*model.Role, error) {
	return m.CreateFunc(ctx, userID, tier, in)
}
func (m *mockRoleUC) Select(ctx context.Context, userID, roleID string, tier model.Tier) (*model.Role, error) {
	if m.SelectFunc != nil {
		return m.SelectFunc(ctx, userID, roleID, tier)
	}
	for _, v := range m.views {
		if v.Role.ID == roleID {
			return v.Role, nil
		}
	}
	return nil, domain.ErrNotFound
}
func (m *mockRoleUC) Delete(ctx context.Context, userID, roleID string) error {
	m.deleted = append(m.deleted, roleID)
	return nil
}
func (m *mockRoleUC) Prompt(ctx context.Context, u *model.User, tier model.Tier) (string, error) {
	return "", nil
}

// mockPermissions only answers the custom role gate.
type mockPermissions struct {
	usecase.PermissionUseCase
	rolesFrom model.Tier
}

func (m *mockPermissions) CheckCustomRoles(tier model.Tier) usecase.CapabilityStatus {
	if tier >= m.rolesFrom {
		return usecase.CapabilityAllowed
	}
	return usecase.CapabilityNotAllowedByTier
}
