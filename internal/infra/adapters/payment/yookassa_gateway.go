// File: internal/infra/adapters/payment/yookassa_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*YooKassaGateway)(nil)

// YooKassaGateway implements adapter.PaymentGateway against the YooKassa v3 REST API.
type YooKassaGateway struct {
	shopID    string
	secretKey string
	baseURL   string
	client    *http.Client
}

func NewYooKassaGateway(shopID, secretKey, baseURL string, timeout time.Duration) (*YooKassaGateway, error) {
	if shopID == "" || secretKey == "" {
		return nil, errors.New("yookassa credentials are not configured")
	}
	if baseURL == "" {
		baseURL = "https://api.yookassa.ru/v3"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid yookassa base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &YooKassaGateway{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (y *YooKassaGateway) Name() string { return "yookassa" }

type ykAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ykConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type ykPaymentMethod struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Saved bool   `json:"saved"`
	Title string `json:"title"`
	Card  *struct {
		Last4    string `json:"last4"`
		CardType string `json:"card_type"`
	} `json:"card,omitempty"`
}

type ykCancellation struct {
	Party  string `json:"party"`
	Reason string `json:"reason"`
}

type ykPayment struct {
	ID                  string            `json:"id"`
	Status              string            `json:"status"`
	Paid                bool              `json:"paid"`
	Amount              ykAmount          `json:"amount"`
	Confirmation        *ykConfirmation   `json:"confirmation,omitempty"`
	PaymentMethod       *ykPaymentMethod  `json:"payment_method,omitempty"`
	CancellationDetails *ykCancellation   `json:"cancellation_details,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

type ykCreateRequest struct {
	Amount            ykAmount          `json:"amount"`
	Capture           bool              `json:"capture"`
	Description       string            `json:"description,omitempty"`
	Confirmation      *ykConfirmation   `json:"confirmation,omitempty"`
	SavePaymentMethod bool              `json:"save_payment_method,omitempty"`
	PaymentMethodID   string            `json:"payment_method_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// CreatePayment starts a redirect payment and asks YooKassa to save the card.
func (y *YooKassaGateway) CreatePayment(ctx context.Context, req adapter.CreatePaymentRequest) (adapter.CreatedPayment, error) {
	body := ykCreateRequest{
		Amount:            formatAmount(req.Amount, req.Currency),
		Capture:           true,
		Description:       req.Description,
		Confirmation:      &ykConfirmation{Type: "redirect", ReturnURL: req.ReturnURL},
		SavePaymentMethod: true,
		Metadata:          map[string]string{"invoice_id": req.InvoiceID},
	}
	p, err := y.post(ctx, body, req.IdempotenceKey)
	if err != nil {
		return adapter.CreatedPayment{}, err
	}
	out := adapter.CreatedPayment{ID: p.ID, Status: adapter.GatewayPaymentStatus(p.Status)}
	if p.Confirmation != nil {
		out.ConfirmationURL = p.Confirmation.ConfirmationURL
	}
	if out.ConfirmationURL == "" {
		return adapter.CreatedPayment{}, fmt.Errorf("%w: yookassa response without confirmation url", domain.ErrPaymentCreation)
	}
	return out, nil
}

// CreateRecurrentPayment charges a saved payment method without the user.
func (y *YooKassaGateway) CreateRecurrentPayment(ctx context.Context, req adapter.RecurrentPaymentRequest) (adapter.CreatedPayment, error) {
	if req.PaymentMethodID == "" {
		return adapter.CreatedPayment{}, domain.ErrNoPaymentMethod
	}
	body := ykCreateRequest{
		Amount:          formatAmount(req.Amount, req.Currency),
		Capture:         true,
		Description:     req.Description,
		PaymentMethodID: req.PaymentMethodID,
		Metadata:        map[string]string{"invoice_id": req.InvoiceID},
	}
	p, err := y.post(ctx, body, req.IdempotenceKey)
	if err != nil {
		return adapter.CreatedPayment{}, err
	}
	return adapter.CreatedPayment{ID: p.ID, Status: adapter.GatewayPaymentStatus(p.Status)}, nil
}

func (y *YooKassaGateway) GetPayment(ctx context.Context, id string) (*adapter.GatewayPayment, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(y.shopID, y.secretKey)

	var p ykPayment
	if err := y.do(req, &p); err != nil {
		return nil, err
	}
	return toGatewayPayment(&p)
}

func (y *YooKassaGateway) post(ctx context.Context, body ykCreateRequest, idempotenceKey string) (*ykPayment, error) {
	if idempotenceKey == "" {
		return nil, fmt.Errorf("%w: idempotence key required", domain.ErrInvalidArgument)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.baseURL+"/payments", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", idempotenceKey)
	req.SetBasicAuth(y.shopID, y.secretKey)

	var p ykPayment
	if err := y.do(req, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: yookassa response without id", domain.ErrGatewayAmbiguous)
	}
	return &p, nil
}

// do maps transport failures and 5xx to ErrGatewayAmbiguous: the payment
// may exist and the caller must not assume either outcome.
func (y *YooKassaGateway) do(req *http.Request, out any) error {
	resp, err := y.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return fmt.Errorf("%w: %v", domain.ErrGatewayAmbiguous, err)
		}
		return fmt.Errorf("%w: yookassa request: %v", domain.ErrGatewayAmbiguous, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read yookassa response: %v", domain.ErrGatewayAmbiguous, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: yookassa http %d", domain.ErrGatewayAmbiguous, resp.StatusCode)
	case resp.StatusCode >= 300:
		var apiErr struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("%w: yookassa http %d %s %s", domain.ErrPaymentCreation, resp.StatusCode, apiErr.Code, apiErr.Description)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode yookassa response: %v", domain.ErrGatewayAmbiguous, err)
	}
	return nil
}

// ParseNotification decodes a YooKassa webhook body into the gateway view.
func ParseNotification(body []byte) (*adapter.GatewayPayment, error) {
	var n struct {
		Type   string    `json:"type"`
		Event  string    `json:"event"`
		Object ykPayment `json:"object"`
	}
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if n.Type != "notification" || !strings.HasPrefix(n.Event, "payment.") || n.Object.ID == "" {
		return nil, fmt.Errorf("%w: unsupported notification %q", domain.ErrInvalidArgument, n.Event)
	}
	return toGatewayPayment(&n.Object)
}

func toGatewayPayment(p *ykPayment) (*adapter.GatewayPayment, error) {
	amount, err := parseAmount(p.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", domain.ErrInvalidArgument, p.Amount.Value)
	}
	out := &adapter.GatewayPayment{
		ID:       p.ID,
		Status:   adapter.GatewayPaymentStatus(p.Status),
		Amount:   amount,
		Currency: p.Amount.Currency,
		Metadata: p.Metadata,
	}
	if pm := p.PaymentMethod; pm != nil {
		title := pm.Title
		if title == "" && pm.Card != nil {
			title = strings.TrimSpace(pm.Card.CardType + " *" + pm.Card.Last4)
		}
		out.PaymentMethod = &adapter.GatewayPaymentMethod{ID: pm.ID, Saved: pm.Saved, Title: title}
	}
	if c := p.CancellationDetails; c != nil {
		out.Cancellation = &adapter.GatewayCancellation{Party: c.Party, Reason: c.Reason}
	}
	return out, nil
}

// formatAmount renders minor units as the decimal string YooKassa expects.
func formatAmount(minor int64, currency string) ykAmount {
	return ykAmount{Value: decimal.New(minor, -2).StringFixed(2), Currency: currency}
}

// parseAmount converts a decimal amount string back to minor units.
func parseAmount(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, err
	}
	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-minor precision", v)
	}
	return minor.IntPart(), nil
}
