package storefrontd

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/internal/dispatch"
	"github.com/MarkoPoloResearchLab/tonstore/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/tonstore/internal/httpapi"
	"github.com/MarkoPoloResearchLab/tonstore/internal/notify"
	"github.com/MarkoPoloResearchLab/tonstore/internal/settlement"
	"github.com/MarkoPoloResearchLab/tonstore/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tonstore/internal/telegramauth"
	"github.com/MarkoPoloResearchLab/tonstore/internal/telemetry"
	"github.com/MarkoPoloResearchLab/tonstore/internal/toncenter"
	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run serves HTTP and gRPC health, runs the settlement workers and the
// recovery sweep until ctx is done.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	metrics := telemetry.NewMetrics()

	db, cleanup, driver, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(ctx, db); err != nil {
		return err
	}
	logger.Info("database ready", zap.String("driver", driver))

	ledger, err := toncenter.NewClient(toncenter.Config{
		BaseURL:          cfg.TonCenterBaseURL,
		APIKey:           cfg.TonCenterAPIKey,
		BroadcastTimeout: cfg.BroadcastTimeout,
		FetchTimeout:     cfg.FetchTimeout,
	})
	if err != nil {
		return fmt.Errorf("ledger client init: %w", err)
	}
	store := gormstore.New(db)
	verifier, err := settlement.New(ledger,
		settlement.WithInterval(cfg.PollInterval),
		settlement.WithAttempts(cfg.PollAttempts),
		settlement.WithFetchLimit(cfg.FetchLimit),
		settlement.WithToleranceBasisPoints(cfg.ToleranceBasisPoints()),
		settlement.WithLogger(logger.Named("settlement")),
		settlement.WithRecorder(metrics),
		settlement.WithClaimLookup(store),
	)
	if err != nil {
		return fmt.Errorf("verifier init: %w", err)
	}
	queue := dispatch.New(
		dispatch.WithCapacity(cfg.QueueCapacity),
		dispatch.WithWorkers(cfg.Workers),
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithRecorder(metrics),
	)
	notifier, err := newNotifier(cfg, logger, metrics)
	if err != nil {
		return err
	}

	service, err := storefront.NewService(
		store,
		ledger,
		verifier,
		queue,
		func() time.Time { return time.Now().UTC() },
		storefront.Config{MerchantAddress: cfg.MerchantAddress, SenderLookback: cfg.SenderLookback},
		storefront.WithOperationLogger(telemetry.NewOperationLogger(logger.Named("storefront"))),
		storefront.WithNotifier(notifier),
	)
	if err != nil {
		return fmt.Errorf("storefront service init: %w", err)
	}
	if cfg.InitialAdminID > 0 {
		if err := service.EnsureAdmin(ctx, storefront.TelegramID(cfg.InitialAdminID)); err != nil {
			return fmt.Errorf("initial admin: %w", err)
		}
	}

	deps, err := httpDependencies(cfg, service, metrics, logger)
	if err != nil {
		return err
	}
	router, err := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins:    cfg.AllowedOrigins,
		RequestsPerMinute: cfg.RequestsPerMinute,
		BodyLimitBytes:    cfg.BodyLimitBytes,
	}, deps)
	if err != nil {
		return err
	}
	healthServer := grpcserver.NewHealthServer(queue.Running, 0)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return queue.Run(groupCtx, service.Settle)
	})
	group.Go(func() error {
		return httpapi.Serve(groupCtx, cfg.ListenAddr, router, logger)
	})
	group.Go(func() error {
		return grpcserver.Serve(groupCtx, cfg.GRPCListenAddr, healthServer, logger)
	})
	group.Go(func() error {
		healthServer.Watch(groupCtx)
		return nil
	})
	group.Go(func() error {
		SweepPending(groupCtx, service, cfg.RecoveryInterval, metrics, logger)
		return nil
	})
	err = group.Wait()
	logger.Info("storefront stopped", zap.Error(err))
	return err
}

// PendingRecoverer re-enqueues PENDING records.
type PendingRecoverer interface {
	RecoverPending(ctx context.Context) (int, error)
}

// RecoveryRecorder counts re-enqueued records.
type RecoveryRecorder interface {
	AddRecovered(count int)
}

// SweepPending recovers once immediately, then every interval until ctx is done.
func SweepPending(ctx context.Context, recoverer PendingRecoverer, interval time.Duration, recorder RecoveryRecorder, logger *zap.Logger) {
	sweep := func() {
		recovered, err := recoverer.RecoverPending(ctx)
		if recorder != nil && recovered > 0 {
			recorder.AddRecovered(recovered)
		}
		if err != nil && ctx.Err() == nil {
			logger.Warn("recovery sweep incomplete", zap.Int("recovered", recovered), zap.Error(err))
		}
	}
	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func newNotifier(cfg Config, logger *zap.Logger, metrics *telemetry.Metrics) (storefront.Notifier, error) {
	if !cfg.Notify {
		return notify.Noop{}, nil
	}
	notifier, err := notify.NewTelegramNotifier(cfg.BotToken, logger.Named("notify"), metrics)
	if err != nil {
		return nil, err
	}
	return notifier, nil
}

func httpDependencies(cfg Config, service *storefront.Service, metrics *telemetry.Metrics, logger *zap.Logger) (httpapi.Dependencies, error) {
	validator, err := telegramauth.NewInitDataValidator(cfg.BotToken, cfg.InitDataMaxAge, time.Now)
	if err != nil {
		return httpapi.Dependencies{}, err
	}
	var sessions *telegramauth.SessionIssuer
	if cfg.SessionSecret != "" {
		sessions, err = telegramauth.NewSessionIssuer(cfg.SessionSecret, cfg.SessionIssuer, cfg.SessionTTL, time.Now)
		if err != nil {
			return httpapi.Dependencies{}, err
		}
	}
	authenticator, err := telegramauth.NewAuthenticator(validator, sessions)
	if err != nil {
		return httpapi.Dependencies{}, err
	}
	deps := httpapi.Dependencies{
		Service:        service,
		Authenticator:  authenticator,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
		Logger:         logger.Named("http"),
	}
	if sessions != nil {
		deps.Sessions = sessions
	}
	return deps, nil
}
