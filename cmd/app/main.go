// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"telegram-ai-billing/internal/application"
	"telegram-ai-billing/internal/config"
	"telegram-ai-billing/internal/domain/model"
	"telegram-ai-billing/internal/domain/ports/adapter"
	aiAdapters "telegram-ai-billing/internal/infra/adapters/ai"
	payAdapters "telegram-ai-billing/internal/infra/adapters/payment"
	tele "telegram-ai-billing/internal/infra/adapters/telegram"
	"telegram-ai-billing/internal/infra/api"
	"telegram-ai-billing/internal/infra/db/migrations"
	pg "telegram-ai-billing/internal/infra/db/postgres"
	"telegram-ai-billing/internal/infra/i18n"
	"telegram-ai-billing/internal/infra/logging"
	"telegram-ai-billing/internal/infra/metrics"
	red "telegram-ai-billing/internal/infra/redis"
	"telegram-ai-billing/internal/infra/sched"
	"telegram-ai-billing/internal/infra/security"
	"telegram-ai-billing/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

const (
	defaultClass   = model.ResourceClass("text")
	maxOutTokens   = 2048
	tierLimitsSize = 256
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("service stopped")
	}
	logger.Info().Msg("service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	// ---- Postgres ----
	if cfg.Database.MigrateOnStart {
		if err := migrate(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info().Msg("migrations applied")
	}
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Encryption ----
	cipher, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}

	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Bot.Language)
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Usage.Timezone)
	if err != nil {
		return fmt.Errorf("usage timezone: %w", err)
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	users := pg.NewUserRepoCacheDecorator(pg.NewPostgresUserRepo(pool), redisClient, cfg.Redis.TTL, logger)
	plans := pg.NewPlanRepoCacheDecorator(pg.NewPostgresPlanRepo(pool), redisClient, cfg.Redis.TTL)
	packets := pg.NewPostgresPacketRepo(pool)
	models := pg.NewPostgresAIModelRepo(pool)
	limits := pg.NewTierLimitsCache(pg.NewPostgresTierLimitsRepo(pool), tierLimitsSize, cfg.Usage.LimitCacheTTL)
	balances := pg.NewPostgresPrepaidBalanceRepo(pool)
	events := pg.NewPostgresUsageEventRepo(pool)
	subs := pg.NewPostgresSubscriptionRepo(pool)
	invoices := pg.NewPostgresInvoiceRepo(pool)
	payments := pg.NewPostgresPaymentRepo(pool)
	methods := pg.NewPostgresPaymentMethodRepo(pool, cipher)
	sessions := pg.NewPostgresChatSessionRepo(pool)
	roles := pg.NewPostgresRoleRepo(pool)

	// ---- Adapters ----
	aiSvc, transcriber, err := newAI(ctx, &cfg.AI, logger)
	if err != nil {
		return err
	}
	gateway, err := newGateway(&cfg.Payment.Gateway, logger)
	if err != nil {
		return err
	}
	bot, err := newBot(cfg, red.NewRateLimiter(redisClient), tr, logger)
	if err != nil {
		return err
	}

	// ---- Use cases ----
	usage := usecase.NewUsageUseCase(red.NewUsageCounter(redisClient), balances, tm, loc, time.Now, logger)
	chain := usecase.NewDebitChain(events, logger,
		usecase.NewSubscriptionDailyStrategy(usage, limits),
		usecase.NewPacketStrategy(usage),
		usecase.NewFreeWeeklyStrategy(usage, limits),
	)
	permissions := usecase.NewPermissionUseCase(usage, limits, chain, capabilityTable(cfg.Tiers), logger)
	lifecycle := usecase.NewSubscriptionUseCase(subs, plans, invoices, payments, methods, gateway, tm,
		cfg.Scheduler.RetryIntervals, cfg.Payment.Gateway.ReturnURL, logger)
	notifier := usecase.NewNotificationUseCase(users, bot, tr, logger)
	userUC := usecase.NewUserUseCase(users, models, tm, logger)
	roleUC := usecase.NewRoleUseCase(roles, users, permissions, tm, logger)
	catalogUC := usecase.NewCatalogUseCase(plans, packets, models, limits, usage, lifecycle, logger)
	payUC := usecase.NewPaymentUseCase(invoices, payments, methods, plans, packets, balances, subs,
		lifecycle, gateway, bot, tm, usecase.PaymentOptions{
			ReturnURL:      cfg.Payment.Gateway.ReturnURL,
			RebindAmount:   cfg.Payment.RebindAmount,
			RebindCurrency: cfg.Payment.RebindCurrency,
			VerifyWebhooks: cfg.Payment.Gateway.VerifyWebhooks,
			StaleBatch:     cfg.Scheduler.BatchSize,
		}, logger).WithNotifier(notifier)
	renewalUC := usecase.NewRenewalUseCase(subs, lifecycle, cfg.Scheduler.BatchSize, logger).WithNotifier(notifier)
	chatUC := usecase.NewChatUseCase(users, lifecycle, permissions, chain, usage, models, sessions, locker,
		aiSvc, transcriber, usecase.ChatOptions{
			RequestTimeout:    cfg.AI.RequestTimeout,
			ClassifierTimeout: cfg.AI.ClassifierTimeout,
			HistoryLimit:      cfg.AI.HistoryLimit,
			SystemPrompt:      cfg.AI.SystemPrompt,
		}, logger).WithRoles(roleUC)

	facade := application.NewBotFacade(userUC, catalogUC, lifecycle, payUC, chatUC, roleUC, permissions, tr, defaultClass, logger)

	// ---- Outer surfaces ----
	server := api.NewServer(payUC, payAdapters.ParseNotification, &cfg.HTTP, map[string]api.HealthCheck{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		"redis":    redisClient.Ping,
	}, logger)

	runner := sched.NewRunner(locker, cfg.Scheduler.RunTimeout, logger)
	if err := runner.Add(sched.RenewalJob(renewalUC, &cfg.Scheduler, logger, nil)); err != nil {
		return fmt.Errorf("renewal job: %w", err)
	}
	if err := runner.Add(sched.ReconcileJob(payUC, &cfg.Scheduler, logger, nil)); err != nil {
		return fmt.Errorf("reconcile job: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx) })
	g.Go(func() error { return runner.Start(gctx) })
	g.Go(func() error { pg.ReportPoolStats(gctx, pool, 15*time.Second); return nil })
	if tg, ok := bot.(*tele.RealTelegramBotAdapter); ok {
		tg.SetFacade(facade)
		g.Go(func() error { return tg.StartPolling(gctx) })
	}
	logger.Info().Str("version", version).Str("addr", cfg.HTTP.Addr).Msg("service started")
	return g.Wait()
}

func migrate(url string) error {
	db, err := migrations.Open(url)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	defer db.Close()
	return migrations.Up(db)
}

// newAI routes chat requests across the configured providers. Without any
// key the noop adapter answers, which is only useful in developer mode.
func newAI(ctx context.Context, cfg *config.AIConfig, logger *zerolog.Logger) (adapter.AIServiceAdapter, adapter.Transcriber, error) {
	var providers []adapter.AIServiceAdapter
	var transcriber adapter.Transcriber
	if cfg.OpenAIKey != "" {
		openai, err := aiAdapters.NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBaseURL, "gpt-4o-mini", maxOutTokens)
		if err != nil {
			return nil, nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers = append(providers, openai)
		whisper, err := aiAdapters.NewWhisperTranscriber(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.TranscribeModel)
		if err != nil {
			return nil, nil, fmt.Errorf("whisper transcriber: %w", err)
		}
		transcriber = whisper
	}
	if cfg.GeminiKey != "" {
		gemini, err := aiAdapters.NewGeminiAdapter(ctx, cfg.GeminiKey, "", "gemini-2.0-flash", maxOutTokens)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers = append(providers, gemini)
	}
	defaultProvider := cfg.DefaultProvider
	if len(providers) == 0 {
		logger.Warn().Msg("no AI provider configured; answering with the noop adapter")
		noop := aiAdapters.NewNoopAIAdapter(logger)
		providers = append(providers, noop)
		transcriber = noop
		defaultProvider = aiAdapters.ProviderNoop
	}
	if transcriber == nil {
		transcriber = aiAdapters.NewNoopAIAdapter(logger)
	}
	multi := aiAdapters.NewMultiAIAdapter(defaultProvider, providers...)
	return aiAdapters.NewLimitedAI(multi, cfg.ConcurrentLimit), transcriber, nil
}

func newGateway(cfg *config.GatewayConfig, logger *zerolog.Logger) (adapter.PaymentGateway, error) {
	if cfg.ShopID == "" || cfg.SecretKey == "" {
		logger.Warn().Msg("payment gateway not configured; using the noop gateway")
		return payAdapters.NewNoopPaymentGateway(), nil
	}
	gw, err := payAdapters.NewYooKassaGateway(cfg.ShopID, cfg.SecretKey, cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("yookassa gateway: %w", err)
	}
	return gw, nil
}

func newBot(cfg *config.Config, limiter tele.RateLimiter, tr application.Translator, logger *zerolog.Logger) (adapter.TelegramBotAdapter, error) {
	if cfg.Bot.Mode == "noop" {
		logger.Warn().Msg("bot.mode=noop; telegram is not contacted")
		return tele.NewNoopBotAdapter(logger), nil
	}
	if cfg.Bot.Mode != "polling" {
		logger.Warn().Str("mode", cfg.Bot.Mode).Msg("unsupported bot mode; falling back to polling")
	}
	bot, err := tele.NewRealTelegramBotAdapter(&cfg.Bot, nil, limiter, tr, logger, cfg.Runtime.Dev)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return bot, nil
}

func capabilityTable(tiers map[int]config.TierConfig) model.CapabilityTable {
	caps := make(model.CapabilityTable, len(tiers))
	for tier, c := range tiers {
		caps[model.Tier(tier)] = model.TierCapabilities{
			VoiceAllowed:       c.VoiceAllowed,
			VoiceLimitSeconds:  c.VoiceLimitSeconds,
			ImageUploadAllowed: c.ImageUploadAllowed,
			ImageUploadLimit:   c.ImageUploadLimit,
			FileUploadAllowed:  c.FileUploadAllowed,
			CustomRoles:        c.CustomRoles,
			DocAnswers:         c.DocAnswers,
			ImageGeneration:    c.ImageGeneration,
			ImageFileOutput:    c.ImageFileOutput,
		}
	}
	return caps
}
