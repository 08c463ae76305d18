package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ResearchDigest/internal/config"
	"ResearchDigest/internal/dedup"
	"ResearchDigest/internal/digest"
	"ResearchDigest/internal/infrastructure/archive"
	"ResearchDigest/internal/infrastructure/breaker"
	"ResearchDigest/internal/infrastructure/llm"
	"ResearchDigest/internal/infrastructure/parser"
	"ResearchDigest/internal/infrastructure/scheduler"
	"ResearchDigest/internal/infrastructure/storage"
	"ResearchDigest/internal/infrastructure/telegram"
	"ResearchDigest/internal/ledger"
	"ResearchDigest/internal/logging"
	"ResearchDigest/internal/ports"
	"ResearchDigest/internal/scanner"
	"ResearchDigest/internal/scoring"
	"ResearchDigest/internal/usecase"
	"ResearchDigest/internal/weekly"
)

const shutdownTimeout = time.Minute

// Options adjusts wiring for a single process.
type Options struct {
	// DryRun renders documents without archiving, publishing or persisting.
	DryRun bool
	// HTTPClient is shared by collectors; nil selects per-scanner defaults.
	HTTPClient *http.Client
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	store  *dedup.Store
	daily  *usecase.DailyRun
	weekly *usecase.WeeklyRun
	dbs    []*storage.DB
}

// New builds the application. The configuration must already be validated;
// unknown scanners and unreachable databases fail here, before any run.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts Options) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	engine, err := scoring.New(cfg.CategoryDefinitions())
	if err != nil {
		return nil, err
	}

	registry := scanner.NewRegistry(
		parser.NewArxivScanner(opts.HTTPClient, baseLogger.With("component", "scanner.arxiv")).
			WithRequestInterval(cfg.Fetch.RequestInterval()),
		parser.NewTrendingScanner(opts.HTTPClient, baseLogger.With("component", "scanner.github")).
			WithRequestInterval(cfg.Fetch.RequestInterval()),
		parser.NewReleaseScanner(opts.HTTPClient, cfg.Fetch.GitHubToken, baseLogger.With("component", "scanner.releases")).
			WithRequestInterval(cfg.Fetch.RequestInterval()),
		parser.NewPwcScanner(opts.HTTPClient, baseLogger.With("component", "scanner.pwc")).
			WithRequestInterval(cfg.Fetch.RequestInterval()),
	)
	source := parser.NewStrategySource(registry, cfg.Sites, baseLogger.With("component", "source"))
	if err := source.CheckSites(); err != nil {
		return nil, err
	}

	seenBackend, err := a.seenBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	ledgerBackend, err := a.ledgerBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store = dedup.NewStore(seenBackend, baseLogger.With("component", "dedup"))
	runLedger := ledger.New(ledgerBackend, cfg.Ledger.MaxRecords, baseLogger.With("component", "ledger"))
	docs := archive.NewFilesystem(cfg.Archive.Dir, baseLogger.With("component", "archive"))
	renderer := digest.NewRenderer("")

	var publishers []ports.Publisher
	if tg := cfg.Notifications.Telegram; tg.Enabled() {
		var notifier ports.Publisher = telegram.NewNotifier(tg.BotToken, tg.ChatID)
		if b := cfg.Notifications.Breaker; b.MaxFailures > 0 {
			notifier = breaker.NewPublisher(notifier, b.MaxFailures, b.Cooldown(), baseLogger.With("component", "breaker"))
		}
		publishers = append(publishers, notifier)
	}

	var summarizer ports.Summarizer
	if cfg.Summarizer.Enabled() {
		summarizer = llm.NewChatSummarizer(cfg.Summarizer, baseLogger.With("component", "summarizer"))
	}

	clock := func() time.Time { return time.Now().In(cfg.Scheduler.Location()) }

	a.daily = usecase.NewDailyRun(usecase.DailyDeps{
		Source:     source,
		Engine:     engine,
		Store:      a.store,
		Renderer:   renderer,
		Archive:    docs,
		Publishers: publishers,
		Ledger:     runLedger,
		Logger:     baseLogger.With("component", "daily"),
		Clock:      clock,
		Summarizer: summarizer,
	}, usecase.DailyOptions{
		MinScore:          cfg.Scoring.MinScore,
		MaxItemsPerSource: cfg.Scoring.MaxItemsPerSource,
		Retention:         cfg.Dedup.Retention(),
		DryRun:            opts.DryRun,
	})

	a.weekly = usecase.NewWeeklyRun(usecase.WeeklyDeps{
		Archive:    docs,
		Aggregator: weekly.NewAggregator(cfg.Weekly.Fallback(), baseLogger.With("component", "aggregator")),
		Ranker:     cfg.Weekly.Ranker(),
		Renderer:   renderer,
		Publishers: publishers,
		Ledger:     runLedger,
		Logger:     baseLogger.With("component", "weekly"),
		Clock:      clock,
	}, usecase.WeeklyOptions{
		Lookback: time.Duration(cfg.Weekly.LookbackDays) * 24 * time.Hour,
		DryRun:   opts.DryRun,
	})

	return a, nil
}

func (a *Application) seenBackend(ctx context.Context) (dedup.Backend, error) {
	switch a.cfg.Dedup.Backend {
	case config.BackendSQLite:
		db, err := a.open(ctx, storage.DialectSQLite, a.cfg.Dedup.Path)
		if err != nil {
			return nil, err
		}
		return storage.NewSeenRepository(db), nil
	case config.BackendPostgres:
		db, err := a.open(ctx, storage.DialectPostgres, a.cfg.Dedup.DSN)
		if err != nil {
			return nil, err
		}
		return storage.NewSeenRepository(db), nil
	default:
		return dedup.NewFileBackend(a.cfg.Dedup.Path), nil
	}
}

func (a *Application) ledgerBackend(ctx context.Context) (ledger.Backend, error) {
	if a.cfg.Ledger.Backend != config.BackendSQLite {
		return ledger.NewFileBackend(a.cfg.Ledger.Path), nil
	}
	db, err := a.open(ctx, storage.DialectSQLite, a.cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}
	return storage.NewLedgerRepository(db), nil
}

// open reuses a connection when dedup and ledger point at the same database.
func (a *Application) open(ctx context.Context, dialect storage.Dialect, target string) (*storage.DB, error) {
	for _, db := range a.dbs {
		if db.Dialect == dialect && db.Target == target {
			return db, nil
		}
	}
	var (
		db  *storage.DB
		err error
	)
	if dialect == storage.DialectPostgres {
		db, err = storage.OpenPostgres(ctx, target)
	} else {
		db, err = storage.OpenSQLite(ctx, target)
	}
	if err != nil {
		return nil, err
	}
	a.dbs = append(a.dbs, db)
	return db, nil
}

// RunDaily performs one daily collection run.
func (a *Application) RunDaily(ctx context.Context) (usecase.DailyResult, error) {
	return a.daily.Run(ctx)
}

// RunWeekly performs one weekly aggregation run.
func (a *Application) RunWeekly(ctx context.Context) (usecase.WeeklyResult, error) {
	return a.weekly.Run(ctx)
}

// Prune loads the dedup store, drops expired records and saves it.
func (a *Application) Prune(ctx context.Context) (removed, remaining int, err error) {
	if err := a.store.Load(ctx); err != nil {
		return 0, 0, err
	}
	removed = a.store.Prune(time.Now(), a.cfg.Dedup.Retention())
	if err := a.store.Save(ctx); err != nil {
		return 0, 0, err
	}
	a.logger.Info("dedup store pruned", "removed", removed, "remaining", a.store.Len())
	return removed, a.store.Len(), nil
}

// Serve schedules daily and weekly runs until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.Location(), a.logger.With("component", "scheduler"))
	sched := usecase.NewScheduler(driver, a.daily, a.weekly)
	if err := sched.Register(a.cfg.Scheduler.Daily, a.cfg.Scheduler.Weekly); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("serving", "daily", a.cfg.Scheduler.Daily, "weekly", a.cfg.Scheduler.Weekly, "timezone", a.cfg.Scheduler.Location().String())

	<-ctx.Done()
	a.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return sched.Stop(stopCtx)
}

// Close releases database connections.
func (a *Application) Close() error {
	var errs []error
	for _, db := range a.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.dbs = nil
	return errors.Join(errs...)
}
