package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-ai-billing/internal/application"
	"telegram-ai-billing/internal/config"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/adapter"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/infra/metrics"
	red "telegram-ai-billing/internal/infra/redis"
	"telegram-ai-billing/internal/infra/worker"
	"telegram-ai-billing/internal/usecase"
)

// maxMessageLen is Telegram's limit for one text message, in characters.
const maxMessageLen = 4096

var _ adapter.TelegramBotAdapter = (*RealTelegramBotAdapter)(nil)

// botAPI is the part of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// RateLimiter caps commands per user.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RealTelegramBotAdapter uses tgbotapi to poll updates and delegates to the facade.
type RealTelegramBotAdapter struct {
	bot         botAPI
	cfg         *config.BotConfig
	facade      application.Facade
	rateLimiter RateLimiter
	translator  application.Translator
	log         *zerolog.Logger
	dev         bool
}

func NewRealTelegramBotAdapter(
	cfg *config.BotConfig,
	facade application.Facade,
	rateLimiter RateLimiter,
	translator application.Translator,
	logger *zerolog.Logger,
	dev bool,
) (*RealTelegramBotAdapter, error) {
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return newAdapter(bot, cfg, facade, rateLimiter, translator, logger, dev), nil
}

func newAdapter(bot botAPI, cfg *config.BotConfig, facade application.Facade, rateLimiter RateLimiter,
	translator application.Translator, logger *zerolog.Logger, dev bool) *RealTelegramBotAdapter {
	l := logger.With().Str("component", "TelegramBot").Logger()
	return &RealTelegramBotAdapter{
		bot:         bot,
		cfg:         cfg,
		facade:      facade,
		rateLimiter: rateLimiter,
		translator:  translator,
		log:         &l,
		dev:         dev,
	}
}

// SetFacade breaks the construction cycle between the adapter, which the
// payment usecase needs for Stars links, and the facade built on top of it.
func (r *RealTelegramBotAdapter) SetFacade(f application.Facade) { r.facade = f }

// StartPolling blocks until ctx is done. Updates are handled by a worker pool.
func (r *RealTelegramBotAdapter) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}
	updates := r.bot.GetUpdatesChan(u)
	defer r.bot.StopReceivingUpdates()

	pool := worker.NewPool(r.cfg.Workers, r.log)
	pool.Start(ctx)
	defer pool.Stop()

	r.log.Info().Int("workers", r.cfg.Workers).Msg("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if err := pool.Submit(ctx, func(ctx context.Context) error { return r.handleUpdate(ctx, up) }); err != nil {
				return err
			}
		}
	}
}

// SendMessage splits texts longer than Telegram allows.
func (r *RealTelegramBotAdapter) SendMessage(ctx context.Context, tgID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.bot.Send(tgbotapi.NewMessage(tgID, part)); err != nil {
			return err
		}
	}
	return nil
}

// sendWithPayButton attaches a URL button when the text carries a link.
func (r *RealTelegramBotAdapter) sendWithPayButton(ctx context.Context, tgID int64, text string) error {
	url := extractFirstURL(text)
	if url == "" {
		return r.SendMessage(ctx, tgID, text)
	}
	msg := tgbotapi.NewMessage(tgID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Pay", url)),
	)
	_, err := r.bot.Send(msg)
	return err
}

// CreateStarsInvoiceLink calls createInvoiceLink, which tgbotapi does not wrap.
func (r *RealTelegramBotAdapter) CreateStarsInvoiceLink(ctx context.Context, inv adapter.StarsInvoice) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	desc := inv.Description
	if desc == "" {
		desc = inv.Title
	}
	params := tgbotapi.Params{}
	params["title"] = inv.Title
	params["description"] = desc
	params["payload"] = inv.Payload
	params["currency"] = model.CurrencyStars
	params.AddNonZero("subscription_period", inv.SubscriptionPeriodSeconds)
	if err := params.AddInterface("prices", []tgbotapi.LabeledPrice{{Label: inv.Title, Amount: int(inv.Amount)}}); err != nil {
		return "", err
	}

	resp, err := r.bot.MakeRequest("createInvoiceLink", params)
	if err != nil {
		return "", fmt.Errorf("createInvoiceLink: %w", err)
	}
	var link string
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("createInvoiceLink result: %w", err)
	}
	return link, nil
}

func (r *RealTelegramBotAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	ctx = logging.WithTraceID(ctx, uuid.NewString())
	switch {
	case update.PreCheckoutQuery != nil:
		return r.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		return r.handleQuery(ctx, update.CallbackQuery)
	case update.Message == nil || update.Message.From == nil:
		return nil
	}

	msg := update.Message
	ctx = logging.WithTgID(ctx, msg.From.ID)
	if msg.SuccessfulPayment != nil {
		return r.handleSuccessfulPayment(ctx, msg)
	}

	if msg.IsCommand() {
		command := msg.Command()
		if !r.allow(ctx, msg.From.ID, command) {
			return r.SendMessage(ctx, msg.Chat.ID, r.translator.T("rate_limited"))
		}
		handler, ok := r.commandRoutes()[command]
		if !ok {
			return r.SendMessage(ctx, msg.Chat.ID, r.facade.HandleHelp())
		}
		metrics.IncTelegramCommand("/" + command)
		return handler(ctx, msg)
	}

	req, ok, err := r.messageRequest(msg)
	if err != nil {
		logging.With(ctx, r.log).Warn().Err(err).Msg("media url lookup failed")
		return r.SendMessage(ctx, msg.Chat.ID, r.translator.T("internal_error"))
	}
	if !ok {
		return nil
	}
	if !r.allow(ctx, msg.From.ID, "message") {
		return r.SendMessage(ctx, msg.Chat.ID, r.translator.T("rate_limited"))
	}
	return r.handleChat(ctx, msg, req)
}

func (r *RealTelegramBotAdapter) allow(ctx context.Context, tgID int64, command string) bool {
	if r.rateLimiter == nil || r.cfg.CommandRateLimit <= 0 {
		return true
	}
	window := r.cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	allowed, err := r.rateLimiter.Allow(ctx, red.UserCommandKey(tgID, command), r.cfg.CommandRateLimit, window)
	if err != nil {
		// fail open
		logging.With(ctx, r.log).Warn().Err(err).Msg("rate limit check failed")
		return true
	}
	if !allowed {
		metrics.IncRateLimitTriggered(command)
	}
	return allowed
}

// messageRequest maps a non-command message to a chat request. ok is false
// for updates the bot does not answer.
func (r *RealTelegramBotAdapter) messageRequest(msg *tgbotapi.Message) (usecase.MessageRequest, bool, error) {
	req := usecase.MessageRequest{
		RequestID: fmt.Sprintf("tg:%d:%d", msg.Chat.ID, msg.MessageID),
	}
	var fileID string
	switch {
	case msg.Voice != nil:
		req.Kind = usecase.MessageVoice
		req.VoiceSeconds = msg.Voice.Duration
		fileID = msg.Voice.FileID
	case len(msg.Photo) > 0:
		req.Kind = usecase.MessagePhoto
		req.Text = msg.Caption
		fileID = largestPhoto(msg.Photo).FileID
	case msg.Document != nil:
		req.Kind = usecase.MessageDocument
		req.Text = msg.Caption
		fileID = msg.Document.FileID
	case strings.TrimSpace(msg.Text) != "":
		req.Kind = usecase.MessageText
		req.Text = msg.Text
		return req, true, nil
	default:
		return req, false, nil
	}
	url, err := r.bot.GetFileDirectURL(fileID)
	if err != nil {
		return req, false, err
	}
	req.FileURL = url
	return req, true, nil
}

func (r *RealTelegramBotAdapter) handleChat(ctx context.Context, msg *tgbotapi.Message, req usecase.MessageRequest) error {
	log := logging.With(ctx, r.log)
	if _, err := r.bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		log.Debug().Err(err).Msg("typing action failed")
	}
	log.Debug().Str("kind", string(req.Kind)).Str("text", logging.Redact(req.Text, r.dev)).Msg("chat message")

	reply, err := r.facade.HandleMessage(ctx, msg.From.ID, msg.From.UserName, req)
	if err != nil {
		log.Error().Err(err).Msg("chat message failed")
		return r.SendMessage(ctx, msg.Chat.ID, r.translator.T("internal_error"))
	}
	if strings.TrimSpace(reply) == "" {
		return nil
	}
	return r.SendMessage(ctx, msg.Chat.ID, reply)
}

// handlePreCheckout must answer within ten seconds or Telegram drops the payment.
func (r *RealTelegramBotAdapter) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) error {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	if err := r.facade.PreCheckout(ctx, q.InvoicePayload, q.Currency, int64(q.TotalAmount)); err != nil {
		logging.With(ctx, r.log).Warn().Err(err).Str("payload", q.InvoicePayload).Msg("pre-checkout rejected")
		answer.OK = false
		answer.ErrorMessage = r.translator.T("checkout_failed")
	}
	_, err := r.bot.Request(answer)
	return err
}

func (r *RealTelegramBotAdapter) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) error {
	sp := msg.SuccessfulPayment
	err := r.facade.HandleStarsPayment(ctx, msg.From.ID, application.StarsPayment{
		Payload:          sp.InvoicePayload,
		Currency:         sp.Currency,
		TotalAmount:      int64(sp.TotalAmount),
		ChargeID:         sp.TelegramPaymentChargeID,
		ProviderChargeID: sp.ProviderPaymentChargeID,
	})
	if err != nil {
		// the charge is already taken; support reconciles from the logged ids
		logging.With(ctx, r.log).Error().Err(err).
			Str("charge_id", sp.TelegramPaymentChargeID).
			Str("payload", sp.InvoicePayload).
			Msg("stars payment not applied")
		return r.SendMessage(ctx, msg.Chat.ID, r.translator.T("internal_error"))
	}
	return nil
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

// splitMessage cuts text into parts of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

var httpURLRe = regexp.MustCompile(`https?:\/\/(?:[-\w]+\.)+[a-zA-Z]{2,}(?:\/[^\s\\\n]*)?`)

func extractFirstURL(s string) string {
	if s == "" {
		return ""
	}
	loc := httpURLRe.FindStringIndex(s)
	if loc == nil {
		return ""
	}
	return s[loc[0]:loc[1]]
}
