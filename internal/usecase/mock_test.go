//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/adapter"
	"telegram-ai-billing/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

var baseTime = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// fixedClock returns a settable time source.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func strPtr(s string) *string { return &s }

// =============================
// Adapters
// =============================

// ---- Mock TelegramBotAdapter ----

type SentMessage struct {
	TelegramID int64
	Text       string
}

type MockTelegramBot struct {
	mu       sync.Mutex
	Sent     []SentMessage
	Invoices []adapter.StarsInvoice

	SendMessageFunc            func(ctx context.Context, tgID int64, text string) error
	CreateStarsInvoiceLinkFunc func(ctx context.Context, inv adapter.StarsInvoice) (string, error)
}

var _ adapter.TelegramBotAdapter = (*MockTelegramBot)(nil)

func (m *MockTelegramBot) SendMessage(ctx context.Context, tgID int64, text string) error {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, tgID, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{TelegramID: tgID, Text: text})
	return nil
}

func (m *MockTelegramBot) CreateStarsInvoiceLink(ctx context.Context, inv adapter.StarsInvoice) (string, error) {
	m.mu.Lock()
	m.Invoices = append(m.Invoices, inv)
	m.mu.Unlock()
	if m.CreateStarsInvoiceLinkFunc != nil {
		return m.CreateStarsInvoiceLinkFunc(ctx, inv)
	}
	return "https://t.me/$" + inv.Payload, nil
}

// ---- Mock AIServiceAdapter ----

type MockAI struct {
	mu    sync.Mutex
	Calls []adapter.AnswerRequest

	GetAnswerFunc func(ctx context.Context, req adapter.AnswerRequest) (adapter.Answer, error)
}

var _ adapter.AIServiceAdapter = (*MockAI)(nil)

func (m *MockAI) Provider() string { return "mock" }

func (m *MockAI) GetAnswer(ctx context.Context, req adapter.AnswerRequest) (adapter.Answer, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()
	if m.GetAnswerFunc != nil {
		return m.GetAnswerFunc(ctx, req)
	}
	last := req.History[len(req.History)-1].Content
	return adapter.Answer{Text: "echo: " + last, Tokens: 10}, nil
}

func (m *MockAI) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// ---- Mock Transcriber ----

type MockTranscriber struct {
	TranscribeFunc func(ctx context.Context, fileURL string) (string, error)
}

var _ adapter.Transcriber = (*MockTranscriber)(nil)

func (m *MockTranscriber) Transcribe(ctx context.Context, fileURL string) (string, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, fileURL)
	}
	return "transcribed " + fileURL, nil
}

// ---- Mock PaymentGateway (adapter) ----

type MockPaymentGateway struct {
	mu         sync.Mutex
	Created    []adapter.CreatePaymentRequest
	Recurrent  []adapter.RecurrentPaymentRequest
	GetCalls   []string
	nextNumber int

	CreatePaymentFunc          func(ctx context.Context, req adapter.CreatePaymentRequest) (adapter.CreatedPayment, error)
	CreateRecurrentPaymentFunc func(ctx context.Context, req adapter.RecurrentPaymentRequest) (adapter.CreatedPayment, error)
	GetPaymentFunc             func(ctx context.Context, id string) (*adapter.GatewayPayment, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) newID() string {
	m.nextNumber++
	return fmt.Sprintf("gw-%d", m.nextNumber)
}

func (m *MockPaymentGateway) CreatePayment(ctx context.Context, req adapter.CreatePaymentRequest) (adapter.CreatedPayment, error) {
	m.mu.Lock()
	m.Created = append(m.Created, req)
	id := m.newID()
	m.mu.Unlock()
	if m.CreatePaymentFunc != nil {
		return m.CreatePaymentFunc(ctx, req)
	}
	return adapter.CreatedPayment{ID: id, Status: adapter.GatewayStatusPending, ConfirmationURL: "https://pay.example/" + id}, nil
}

func (m *MockPaymentGateway) CreateRecurrentPayment(ctx context.Context, req adapter.RecurrentPaymentRequest) (adapter.CreatedPayment, error) {
	m.mu.Lock()
	m.Recurrent = append(m.Recurrent, req)
	id := m.newID()
	m.mu.Unlock()
	if m.CreateRecurrentPaymentFunc != nil {
		return m.CreateRecurrentPaymentFunc(ctx, req)
	}
	return adapter.CreatedPayment{ID: id, Status: adapter.GatewayStatusPending}, nil
}

func (m *MockPaymentGateway) GetPayment(ctx context.Context, id string) (*adapter.GatewayPayment, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, id)
	m.mu.Unlock()
	if m.GetPaymentFunc != nil {
		return m.GetPaymentFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentGateway) RecurrentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Recurrent)
}

// =============================
// Repositories
// =============================

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu   sync.Mutex
	byID map[string]*model.User
	byTG map[int64]*model.User

	SaveFunc             func(ctx context.Context, tx repository.Tx, u *model.User) error
	FindByTelegramIDFunc func(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error)
	FindByIDFunc         func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
}

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[string]*model.User{}, byTG: map[int64]*model.User{}}
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	r.byID[cp.ID] = &cp
	r.byTG[cp.TelegramID] = &cp
	return nil
}

func (r *MockUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	if r.FindByTelegramIDFunc != nil {
		return r.FindByTelegramIDFunc(ctx, tx, tgID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byTG[tgID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

// ---- Mock PlanRepository ----

type MockPlanRepo struct {
	mu    sync.Mutex
	plans map[string]*model.Plan

	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error)
}

func NewMockPlanRepo(plans ...*model.Plan) *MockPlanRepo {
	r := &MockPlanRepo{plans: map[string]*model.Plan{}}
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	return r
}

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.plans[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPlanRepo) ListVisible(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Plan
	for _, p := range r.plans {
		if p.Visible {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Mock PacketRepository ----

type MockPacketRepo struct {
	mu      sync.Mutex
	packets map[string]*model.Packet
}

func NewMockPacketRepo(packets ...*model.Packet) *MockPacketRepo {
	r := &MockPacketRepo{packets: map[string]*model.Packet{}}
	for _, p := range packets {
		r.packets[p.ID] = p
	}
	return r
}

var _ repository.PacketRepository = (*MockPacketRepo)(nil)

func (r *MockPacketRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.packets[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPacketRepo) ListVisible(ctx context.Context, tx repository.Tx) ([]*model.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Packet
	for _, p := range r.packets {
		if p.Visible {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Subscription

	SaveFunc     func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error)
}

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{byID: map[string]*model.Subscription{}}
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

// Save enforces one live subscription per (user, tier) like the partial
// unique index does.
func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Status.Live() {
		for _, o := range r.byID {
			if o.ID != s.ID && o.UserID == s.UserID && o.Tier == s.Tier && o.Status.Live() {
				return domain.ErrAlreadyExists
			}
		}
	}
	cp := *s
	r.byID[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindLiveByUserAndTier(ctx context.Context, tx repository.Tx, userID string, tier model.Tier) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.UserID == userID && s.Tier == tier && s.Status.Live() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindLiveByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.byID {
		if s.UserID == userID && s.Status.Live() {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier > out[j].Tier
		}
		return out[i].PeriodEnd.After(out[j].PeriodEnd)
	})
	return out, nil
}

func (r *MockSubscriptionRepo) ListPastDueDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	return r.list(func(s *model.Subscription) bool {
		return s.Status == model.SubscriptionStatusPastDue && (s.RenewsAt == nil || !s.RenewsAt.After(now))
	}, limit), nil
}

func (r *MockSubscriptionRepo) ListActiveEnded(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	return r.list(func(s *model.Subscription) bool {
		return s.Status == model.SubscriptionStatusActive && !s.PeriodEnd.After(now)
	}, limit), nil
}

func (r *MockSubscriptionRepo) list(match func(*model.Subscription) bool, limit int) []*model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.byID {
		if match(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns the stored row without copying, for assertions.
func (r *MockSubscriptionRepo) Get(id string) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

func (r *MockSubscriptionRepo) All() []*model.Subscription {
	return r.list(func(*model.Subscription) bool { return true }, 0)
}

// ---- Mock InvoiceRepository ----

type MockInvoiceRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Invoice

	SaveFunc func(ctx context.Context, tx repository.Tx, inv *model.Invoice) error
}

func NewMockInvoiceRepo() *MockInvoiceRepo {
	return &MockInvoiceRepo{byID: map[string]*model.Invoice{}}
}

var _ repository.InvoiceRepository = (*MockInvoiceRepo)(nil)

func (r *MockInvoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, inv)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inv
	r.byID[inv.ID] = &cp
	return nil
}

func (r *MockInvoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.byID[id]; ok {
		cp := *inv
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockInvoiceRepo) FindByPublicID(ctx context.Context, tx repository.Tx, publicID string) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.byID {
		if inv.PublicID == publicID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockInvoiceRepo) FindLatestBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Invoice
	for _, inv := range r.byID {
		if inv.SubscriptionID == nil || *inv.SubscriptionID != subscriptionID {
			continue
		}
		if inv.Reason != model.InvoiceReasonInitial && inv.Reason != model.InvoiceReasonRenewal {
			continue
		}
		if best == nil || inv.CycleIndex > best.CycleIndex ||
			(inv.CycleIndex == best.CycleIndex && inv.CreatedAt.After(best.CreatedAt)) {
			best = inv
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MockInvoiceRepo) Get(id string) *model.Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

func (r *MockInvoiceRepo) ByReason(reason model.InvoiceReason) []*model.Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Invoice
	for _, inv := range r.byID {
		if inv.Reason == reason {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleIndex < out[j].CycleIndex })
	return out
}

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Payment

	SaveFunc                  func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	UpdateStatusIfPendingFunc func(ctx context.Context, tx repository.Tx, p *model.Payment) (bool, error)
}

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{byID: map[string]*model.Payment{}}
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

// Save rejects a second row with the same provider payment id.
func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ProviderPaymentID != "" {
		for _, o := range r.byID {
			if o.ID != p.ID && o.Provider == p.Provider && o.ProviderPaymentID == p.ProviderPaymentID {
				return domain.ErrAlreadyExists
			}
		}
	}
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, provider model.PaymentProvider, providerPaymentID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.Provider == provider && p.ProviderPaymentID == providerPaymentID && providerPaymentID != "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindPendingByInvoice(ctx context.Context, tx repository.Tx, invoiceID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.InvoiceID == invoiceID && p.Status == model.PaymentStatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) CountByInvoiceAndStatus(ctx context.Context, tx repository.Tx, invoiceID string, statuses ...model.PaymentStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.byID {
		if p.InvoiceID != invoiceID {
			continue
		}
		for _, s := range statuses {
			if p.Status == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (r *MockPaymentRepo) ListStalePending(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.byID {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) SetProviderPaymentID(ctx context.Context, tx repository.Tx, id, providerPaymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.ProviderPaymentID = providerPaymentID
	return nil
}

// UpdateStatusIfPending writes p only while the stored row is still pending.
func (r *MockPaymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, p *model.Payment) (bool, error) {
	if r.UpdateStatusIfPendingFunc != nil {
		return r.UpdateStatusIfPendingFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[p.ID]
	if !ok || cur.Status != model.PaymentStatusPending {
		return false, nil
	}
	cp := *p
	if cp.ProviderPaymentID == "" {
		cp.ProviderPaymentID = cur.ProviderPaymentID
	}
	r.byID[p.ID] = &cp
	return true, nil
}

func (r *MockPaymentRepo) Get(id string) *model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

func (r *MockPaymentRepo) ByInvoice(invoiceID string) []*model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.byID {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ---- Mock PaymentMethodRepository ----

type MockPaymentMethodRepo struct {
	mu   sync.Mutex
	byID map[string]*model.PaymentMethod
}

func NewMockPaymentMethodRepo(methods ...*model.PaymentMethod) *MockPaymentMethodRepo {
	r := &MockPaymentMethodRepo{byID: map[string]*model.PaymentMethod{}}
	for _, m := range methods {
		r.byID[m.ID] = m
	}
	return r
}

var _ repository.PaymentMethodRepository = (*MockPaymentMethodRepo)(nil)

func (r *MockPaymentMethodRepo) Save(ctx context.Context, tx repository.Tx, m *model.PaymentMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.byID[m.ID] = &cp
	return nil
}

func (r *MockPaymentMethodRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byID[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentMethodRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *MockPaymentMethodRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// ---- Mock PrepaidBalanceRepository ----

type MockBalanceRepo struct {
	mu   sync.Mutex
	byID map[string]*model.PrepaidBalance

	DecrementFunc func(ctx context.Context, tx repository.Tx, id string, cost int64) (bool, error)
}

func NewMockBalanceRepo(balances ...*model.PrepaidBalance) *MockBalanceRepo {
	r := &MockBalanceRepo{byID: map[string]*model.PrepaidBalance{}}
	for _, b := range balances {
		r.byID[b.ID] = b
	}
	return r
}

var _ repository.PrepaidBalanceRepository = (*MockBalanceRepo)(nil)

func (r *MockBalanceRepo) Create(ctx context.Context, tx repository.Tx, b *model.PrepaidBalance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[b.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *b
	r.byID[b.ID] = &cp
	return nil
}

func (r *MockBalanceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PrepaidBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byID[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockBalanceRepo) ListSpendable(ctx context.Context, tx repository.Tx, userID string, class model.ResourceClass, cost int64) ([]*model.PrepaidBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PrepaidBalance
	for _, b := range r.byID {
		if b.UserID == userID && b.Class == class && b.Remaining >= cost {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchasedAt.Equal(out[j].PurchasedAt) {
			return out[i].PurchasedAt.Before(out[j].PurchasedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MockBalanceRepo) TotalRemaining(ctx context.Context, tx repository.Tx, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, b := range r.byID {
		if b.UserID == userID {
			n += b.Remaining
		}
	}
	return n, nil
}

func (r *MockBalanceRepo) Decrement(ctx context.Context, tx repository.Tx, id string, cost int64) (bool, error) {
	if r.DecrementFunc != nil {
		return r.DecrementFunc(ctx, tx, id, cost)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok || b.Remaining < cost {
		return false, nil
	}
	b.Remaining -= cost
	return true, nil
}

func (r *MockBalanceRepo) Remaining(id string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byID[id]; ok {
		return b.Remaining
	}
	return -1
}

func (r *MockBalanceRepo) ForUser(userID string) []*model.PrepaidBalance {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PrepaidBalance
	for _, b := range r.byID {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out
}

// ---- Mock UsageEventRepository ----

type MockUsageEventRepo struct {
	mu     sync.Mutex
	Events []*model.UsageEvent

	AddFunc func(ctx context.Context, tx repository.Tx, e *model.UsageEvent) error
}

var _ repository.UsageEventRepository = (*MockUsageEventRepo)(nil)

func (r *MockUsageEventRepo) Add(ctx context.Context, tx repository.Tx, e *model.UsageEvent) error {
	if r.AddFunc != nil {
		return r.AddFunc(ctx, tx, e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
	return nil
}

func (r *MockUsageEventRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Events)
}

// ---- Mock TierLimitsRepository ----

type MockTierLimitsRepo struct {
	mu     sync.Mutex
	limits map[string]*model.TierLimits

	GetFunc func(ctx context.Context, tier model.Tier, class model.ResourceClass) (*model.TierLimits, error)
}

func NewMockTierLimitsRepo(limits ...*model.TierLimits) *MockTierLimitsRepo {
	r := &MockTierLimitsRepo{limits: map[string]*model.TierLimits{}}
	for _, l := range limits {
		r.limits[limitKey(l.Tier, l.Class)] = l
	}
	return r
}

func limitKey(tier model.Tier, class model.ResourceClass) string {
	return fmt.Sprintf("%d:%s", tier, class)
}

var _ repository.TierLimitsRepository = (*MockTierLimitsRepo)(nil)

func (r *MockTierLimitsRepo) Get(ctx context.Context, tier model.Tier, class model.ResourceClass) (*model.TierLimits, error) {
	if r.GetFunc != nil {
		return r.GetFunc(ctx, tier, class)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limits[limitKey(tier, class)]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

// ---- Mock UsageCounterStore ----

// MockCounterStore mirrors the Lua script: the increment is applied only
// when the new total stays within the limit.
type MockCounterStore struct {
	mu     sync.Mutex
	units  map[string]int64
	tokens map[string]int64

	TryConsumeFunc func(ctx context.Context, key string, cost, limit int64, ttl time.Duration) (model.ConsumeResult, error)
	SnapshotFunc   func(ctx context.Context, key string) (model.UsageSnapshot, error)
}

func NewMockCounterStore() *MockCounterStore {
	return &MockCounterStore{units: map[string]int64{}, tokens: map[string]int64{}}
}

var _ repository.UsageCounterStore = (*MockCounterStore)(nil)

func (s *MockCounterStore) TryConsume(ctx context.Context, key string, cost, limit int64, ttl time.Duration) (model.ConsumeResult, error) {
	if s.TryConsumeFunc != nil {
		return s.TryConsumeFunc(ctx, key, cost, limit, ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.units[key] + cost
	if next > limit {
		return model.ConsumeResult{Accepted: false, Total: s.units[key]}, nil
	}
	s.units[key] = next
	return model.ConsumeResult{Accepted: true, Total: next}, nil
}

func (s *MockCounterStore) AddTokens(ctx context.Context, key string, tokens int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] += tokens
	return nil
}

func (s *MockCounterStore) Snapshot(ctx context.Context, key string) (model.UsageSnapshot, error) {
	if s.SnapshotFunc != nil {
		return s.SnapshotFunc(ctx, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.UsageSnapshot{Units: s.units[key], Tokens: s.tokens[key]}, nil
}

// Set primes a window, matching keys by substring.
func (s *MockCounterStore) Set(key string, units, tokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[key] = units
	s.tokens[key] = tokens
}

// UnitsLike sums the units of every key containing part.
func (s *MockCounterStore) UnitsLike(part string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, v := range s.units {
		if strings.Contains(k, part) {
			n += v
		}
	}
	return n
}

func (s *MockCounterStore) TokensLike(part string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, v := range s.tokens {
		if strings.Contains(k, part) {
			n += v
		}
	}
	return n
}

// ---- Mock AIModelRepository ----

type MockAIModelRepo struct {
	mu     sync.Mutex
	models []*model.AIModel
}

func NewMockAIModelRepo(models ...*model.AIModel) *MockAIModelRepo {
	return &MockAIModelRepo{models: models}
}

var _ repository.AIModelRepository = (*MockAIModelRepo)(nil)

func (r *MockAIModelRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.AIModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockAIModelRepo) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.AIModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if strings.EqualFold(m.Name, name) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockAIModelRepo) FindDefault(ctx context.Context, tx repository.Tx) (*model.AIModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if m.IsDefault {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockAIModelRepo) ListAvailable(ctx context.Context, tx repository.Tx, tier model.Tier) ([]*model.AIModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AIModel
	for _, m := range r.models {
		if m.AvailableFor(tier) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock RoleRepository ----

type MockRoleRepo struct {
	mu    sync.Mutex
	roles map[string]*model.Role
	users *MockUserRepo // clears selections like ON DELETE SET NULL

	ListForUserFunc func(ctx context.Context, tx repository.Tx, userID string) ([]*model.Role, error)
}

func NewMockRoleRepo(users *MockUserRepo, roles ...*model.Role) *MockRoleRepo {
	r := &MockRoleRepo{roles: map[string]*model.Role{}, users: users}
	for _, role := range roles {
		r.roles[role.ID] = role
	}
	return r
}

var _ repository.RoleRepository = (*MockRoleRepo)(nil)

func (r *MockRoleRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[id]; ok {
		cp := *role
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockRoleRepo) ListForUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Role, error) {
	if r.ListForUserFunc != nil {
		return r.ListForUserFunc(ctx, tx, userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Role
	for _, role := range r.roles {
		if role.VisibleTo(userID) {
			cp := *role
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Preset() != out[j].Preset() {
			return out[i].Preset()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *MockRoleRepo) Create(ctx context.Context, tx repository.Tx, role *model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.OwnerID != nil && role.OwnerID != nil && *existing.OwnerID == *role.OwnerID && existing.SameName(role.Name) {
			return domain.ErrAlreadyExists
		}
	}
	cp := *role
	r.roles[cp.ID] = &cp
	return nil
}

func (r *MockRoleRepo) Delete(ctx context.Context, tx repository.Tx, ownerID, id string) (bool, error) {
	r.mu.Lock()
	role, ok := r.roles[id]
	if !ok || !role.OwnedBy(ownerID) {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.roles, id)
	r.mu.Unlock()

	if r.users != nil {
		if u, err := r.users.FindByID(ctx, tx, ownerID); err == nil && u.SelectedRoleID != nil && *u.SelectedRoleID == id {
			u.SelectedRoleID = nil
			_ = r.users.Save(ctx, tx, u)
		}
	}
	return true, nil
}

// Count is the number of stored roles, presets included.
func (r *MockRoleRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.roles)
}

// ---- Mock ChatSessionRepository ----

type MockChatSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage

	AppendMessagesFunc func(ctx context.Context, tx repository.Tx, msgs ...model.ChatMessage) error
}

func NewMockChatSessionRepo() *MockChatSessionRepo {
	return &MockChatSessionRepo{sessions: map[string]*model.ChatSession{}, messages: map[string][]model.ChatMessage{}}
}

var _ repository.ChatSessionRepository = (*MockChatSessionRepo)(nil)

func (r *MockChatSessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MockChatSessionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.Status == model.ChatSessionActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockChatSessionRepo) AppendMessages(ctx context.Context, tx repository.Tx, msgs ...model.ChatMessage) error {
	if r.AppendMessagesFunc != nil {
		return r.AppendMessagesFunc(ctx, tx, msgs...)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.messages[m.SessionID] = append(r.messages[m.SessionID], m)
	}
	return nil
}

func (r *MockChatSessionRepo) RecentMessages(ctx context.Context, tx repository.Tx, sessionID string, n int) ([]model.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ChatMessage, len(r.messages[sessionID]))
	copy(out, r.messages[sessionID])
	return model.RecentMessages(out, n), nil
}

func (r *MockChatSessionRepo) MessageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ms := range r.messages {
		n += len(ms)
	}
	return n
}

// =============================
// Infrastructure
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string

	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}}
}

var _ repository.Locker = (*MockLocker)(nil)

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.TryLockFunc != nil {
		return l.TryLockFunc(ctx, key, ttl)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLocked
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *MockLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// ---- Mock NotificationUseCase ----

type Notice struct {
	UserID string
	Kind   string
}

type MockNotifier struct {
	mu      sync.Mutex
	Notices []Notice
}

func (n *MockNotifier) add(userID, kind string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notices = append(n.Notices, Notice{UserID: userID, Kind: kind})
}

func (n *MockNotifier) PaymentSucceeded(ctx context.Context, userID string, reason model.InvoiceReason) {
	n.add(userID, "succeeded:"+string(reason))
}

func (n *MockNotifier) PaymentFailed(ctx context.Context, userID string) {
	n.add(userID, "failed")
}

func (n *MockNotifier) SubscriptionEnded(ctx context.Context, userID string, status model.SubscriptionStatus) {
	n.add(userID, "ended:"+string(status))
}

func (n *MockNotifier) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.Notices))
	for i, x := range n.Notices {
		out[i] = x.Kind
	}
	return out
}

// ---- Translator ----

type keyTranslator struct{}

func (keyTranslator) T(key string, args ...interface{}) string { return "t:" + key }

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
