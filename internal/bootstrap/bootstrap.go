package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/welfare-scheme-portal/internal/config"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/usecase"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/inspector"
	snsnotify "github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/notify/sns"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/queue/nats"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/resilience"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/schemes"
	redisseq "github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/sequence/redis"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/verification/doclocker"
)

type App struct {
	Config config.Config

	Queue    ports.EventSubscriber
	Notifier ports.Notifier

	Submissions *usecase.ApplicationService
	Reviews     *usecase.ReviewService
	Payments    *usecase.PaymentService
	Reads       *usecase.ReadService

	// Verification is true when an external document verifier is configured.
	Verification bool

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, observer resilience.Observer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	executor := resilience.NewExecutor(cfg.Resilience).WithLogger(logger)
	if observer != nil {
		executor = executor.WithObserver(observer)
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, error) {
		closeAll()
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })

	storeOptions := postgres.Options{Timeout: cfg.StoreTimeout, ResilienceExecutor: executor}
	repo := postgres.NewApplicationRepository(db, storeOptions)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fail(fmt.Errorf("ensure schema: %w", err))
	}

	ids, idCloser, err := newIDAllocator(ctx, cfg, db, storeOptions, executor)
	if err != nil {
		return fail(fmt.Errorf("init id allocator: %w", err))
	}
	if idCloser != nil {
		closers = append(closers, idCloser)
	}

	storage, err := localfs.New(cfg.UploadDir, cfg.UploadPublicURL)
	if err != nil {
		return fail(fmt.Errorf("init object storage: %w", err))
	}
	validator, err := schemes.NewValidator()
	if err != nil {
		return fail(fmt.Errorf("init scheme validator: %w", err))
	}
	policy, err := schemes.LoadPolicy(cfg.DocumentPolicyPath)
	if err != nil {
		return fail(fmt.Errorf("load document policy: %w", err))
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		HandlerTimeout:     cfg.NATSHandlerTimeout,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return fail(fmt.Errorf("init message queue: %w", err))
	}
	closers = append(closers, queue.Close)

	var verifier ports.DocumentVerifier
	if cfg.DocLockerURL != "" {
		verifier = doclocker.New(cfg.DocLockerURL, doclocker.Options{
			APIKey:             cfg.DocLockerAPIKey,
			Timeout:            cfg.DocLockerTimeout,
			ResilienceExecutor: executor,
		})
	}

	var notifier ports.Notifier
	if cfg.SNSTopicARN != "" {
		client, err := snsnotify.NewClient(ctx, cfg.SNSRegion, cfg.SNSEndpoint)
		if err != nil {
			return fail(fmt.Errorf("init sns client: %w", err))
		}
		notifier = snsnotify.NewNotifier(client, cfg.SNSTopicARN)
	}

	submissions := usecase.NewApplicationService(usecase.ApplicationServiceDeps{
		Repo:           repo,
		IDs:            ids,
		Storage:        storage,
		Inspector:      inspector.New(cfg.MaxPDFPages),
		Validator:      validator,
		Events:         queue,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	reviews := usecase.NewReviewService(usecase.ReviewServiceDeps{
		Repo:            repo,
		Policy:          policy,
		Verifier:        verifier,
		Events:          queue,
		Logger:          logger,
		AllowSelfAssign: cfg.AllowSelfAssign,
	})

	return &App{
		Config:   cfg,
		Queue:    queue,
		Notifier: notifier,

		Submissions: submissions,
		Reviews:     reviews,
		Payments:    usecase.NewPaymentService(repo, queue, nil, logger),
		Reads:       usecase.NewReadService(repo, storage),

		Verification: verifier != nil,

		closeFn: closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// newIDAllocator picks the sequence source. The Redis counters are seeded
// from the highest ids already stored for the current year so a flushed
// Redis never hands out a duplicate.
func newIDAllocator(
	ctx context.Context,
	cfg config.Config,
	db *sql.DB,
	storeOptions postgres.Options,
	executor *resilience.Executor,
) (ports.IDAllocator, func(), error) {
	counter := postgres.NewIDCounter(db, storeOptions)
	if cfg.IDAllocator == config.IDAllocatorPostgres {
		return counter, nil, nil
	}

	client := redisseq.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	closeClient := func() { _ = client.Close() }
	allocator := redisseq.NewAllocator(client, redisseq.Options{ResilienceExecutor: executor})

	year := time.Now().UTC().Year()
	for _, appType := range domain.ApplicationTypes {
		highest, err := counter.HighestSequence(ctx, appType.IDPrefix(), year)
		if err != nil {
			closeClient()
			return nil, nil, fmt.Errorf("read highest %s id: %w", appType.IDPrefix(), err)
		}
		if err := allocator.Seed(ctx, appType.IDPrefix(), year, highest); err != nil {
			closeClient()
			return nil, nil, fmt.Errorf("seed %s counter: %w", appType.IDPrefix(), err)
		}
	}
	return allocator, closeClient, nil
}
