package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/config"
	"telegram-ai-billing/internal/domain"
	"telegram-ai-billing/internal/domain/ports/adapter"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/infra/metrics"
	"telegram-ai-billing/internal/usecase"
)

const maxWebhookBody = 1 << 20

// NotificationParser decodes a gateway webhook body.
type NotificationParser func(body []byte) (*adapter.GatewayPayment, error)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server wires the payment webhook, health and metrics routes.
type Server struct {
	payUC  usecase.PaymentUseCase
	parse  NotificationParser
	cfg    *config.HTTPConfig
	checks map[string]HealthCheck
	log    *zerolog.Logger
}

func NewServer(payUC usecase.PaymentUseCase, parse NotificationParser, cfg *config.HTTPConfig, checks map[string]HealthCheck, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{payUC: payUC, parse: parse, cfg: cfg, checks: checks, log: &l}
}

// Router builds the chi router. It fails on a malformed CIDR allowlist.
func (s *Server) Router() (http.Handler, error) {
	allow, err := AllowCIDRs(s.cfg.AllowedCIDRs, s.log)
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	r.Use(TraceID(s.log), Recover(s.log), RequestLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.With(allow, Timeout(15*time.Second)).Post(s.webhookPath(), s.handleWebhook)
	return r, nil
}

func (s *Server) webhookPath() string {
	if s.cfg.WebhookPath == "" {
		return "/webhooks/payment"
	}
	return s.cfg.WebhookPath
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	h, err := s.Router()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", s.cfg.Addr).Str("webhook", s.webhookPath()).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleWebhook acknowledges everything it could process or will never be
// able to process. Infrastructure failures answer 500 so the gateway retries.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.With(r.Context(), s.log)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	ev, err := s.parse(body)
	if err != nil {
		log.Warn().Err(err).Msg("webhook rejected")
		metrics.IncWebhook("gateway", "rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid notification"})
		return
	}

	res, err := s.payUC.HandleGatewayEvent(r.Context(), ev)
	switch {
	case err == nil:
		log.Info().Str("provider_payment_id", ev.ID).Str("result", string(res)).Msg("webhook handled")
		writeJSON(w, http.StatusOK, map[string]string{"result": string(res)})
	case errors.Is(err, domain.ErrDataIntegrity), errors.Is(err, domain.ErrNotFound):
		// a retry would fail the same way
		log.Error().Err(err).Str("provider_payment_id", ev.ID).Msg("webhook acknowledged without effect")
		writeJSON(w, http.StatusOK, map[string]string{"result": "rejected"})
	default:
		log.Error().Err(err).Str("provider_payment_id", ev.ID).Msg("webhook failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
