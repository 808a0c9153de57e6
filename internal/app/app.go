package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nandu-collab/marketpulse-bot/internal/classify"
	"github.com/nandu-collab/marketpulse-bot/internal/config"
	"github.com/nandu-collab/marketpulse-bot/internal/format"
	"github.com/nandu-collab/marketpulse-bot/internal/infrastructure/httpserver"
	"github.com/nandu-collab/marketpulse-bot/internal/infrastructure/parser"
	"github.com/nandu-collab/marketpulse-bot/internal/infrastructure/scheduler"
	"github.com/nandu-collab/marketpulse-bot/internal/infrastructure/storage"
	"github.com/nandu-collab/marketpulse-bot/internal/infrastructure/telegram"
	"github.com/nandu-collab/marketpulse-bot/internal/ledger"
	"github.com/nandu-collab/marketpulse-bot/internal/logging"
	"github.com/nandu-collab/marketpulse-bot/internal/metrics"
	"github.com/nandu-collab/marketpulse-bot/internal/ports"
	"github.com/nandu-collab/marketpulse-bot/internal/scanner"
	"github.com/nandu-collab/marketpulse-bot/internal/usecase"
)

// TestMessage is posted by SendTest.
const TestMessage = "✅ Test message from MarketPulse bot!"

const (
	stopTimeout  = 30 * time.Second
	storeTimeout = 10 * time.Second
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	ledger    *ledger.Ledger
	notifier  ports.Notifier
	scheduler *scheduler.CronScheduler
	server    *httpserver.Server
	closers   []io.Closer

	closeOnce sync.Once
	closeErr  error
}

// New builds the application: it opens the ledger store, loads the ledger
// snapshot and registers every job. Nothing runs until Run.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	loc := cfg.Scheduler.Location()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewCollector(registry)

	a := &Application{cfg: cfg, logger: baseLogger}

	store := a.openStore(ctx)
	a.ledger = ledger.New(cfg.Ledger.Capacity, store, baseLogger.With("component", "ledger"))
	loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	a.ledger.Load(loadCtx)
	cancel()
	recorder.LedgerSize(a.ledger.Len())

	client := &http.Client{Timeout: cfg.Fetch.Timeout()}
	scanners := scanner.NewRegistry()
	scanners.Register(parser.NewRSSScanner(client, cfg.Fetch.UserAgent))
	scanners.Register(parser.NewHTMLScanner(client, cfg.Fetch.UserAgent))
	scanners.Register(parser.NewNSEFlowsScanner(client, cfg.Fetch.UserAgent))

	source := parser.NewStrategySource(scanners, cfg.Sites, parser.SourceOptions{
		Classifier:  classify.New(cfg.Categories),
		SummaryCap:  cfg.Limits.SummaryMaxChars,
		SiteTimeout: cfg.Fetch.SiteTimeout(),
		Metrics:     recorder,
	}, baseLogger.With("component", "source"))

	a.notifier = telegram.NewNotifier(cfg.Notifications.Telegram)

	deliveryLogger := baseLogger.With("component", "delivery")
	newsDelivery := usecase.NewDeliverer(usecase.DelivererDeps{
		Ledger:   a.ledger,
		Notifier: a.notifier,
		Renderer: format.New(cfg.Limits.SummaryMaxChars),
		Metrics:  recorder,
		Logger:   deliveryLogger,
	})
	digestDelivery := usecase.NewDeliverer(usecase.DelivererDeps{
		Ledger:   a.ledger,
		Notifier: a.notifier,
		Renderer: format.DigestFormatter{},
		Metrics:  recorder,
		Logger:   deliveryLogger,
	})

	a.scheduler = scheduler.NewCronScheduler(scheduler.Options{
		Location: loc,
		Metrics:  recorder,
	}, baseLogger.With("component", "scheduler"))

	plans := usecase.NewScheduler(a.scheduler)
	plans.AddDefaultJobs(usecase.JobSettings{
		PreMarket:    cfg.Jobs.PreMarket,
		IPO:          cfg.Jobs.IPO,
		PostMarket:   cfg.Jobs.PostMarket,
		Flows:        cfg.Jobs.Flows,
		NewsInterval: cfg.Jobs.NewsInterval(),
		News: usecase.NewsPolicy{
			Quiet:   cfg.Windows.Quiet,
			Trading: cfg.Windows.Trading,
			PerSlot: cfg.Limits.NewsPerSlot,
			PerDay:  cfg.Limits.NewsPerDay,
		},
		Holidays:    cfg.Windows.Calendar,
		DigestLines: cfg.Limits.DigestLines,
	}, usecase.JobDeps{
		Source:         source,
		NewsDelivery:   newsDelivery,
		DigestDelivery: digestDelivery,
		Metrics:        recorder,
		Logger:         baseLogger.With("component", "jobs"),
	})
	if err := plans.Register(); err != nil {
		_ = a.Discard()
		return nil, err
	}

	router := httpserver.NewRouter(httpserver.Options{
		Location: loc,
		Gatherer: registry,
		Jobs:     a.scheduler,
		Logger:   baseLogger.With("component", "http"),
	})
	a.server = httpserver.New(cfg.Server.Addr(), router, baseLogger.With("component", "http"))

	return a, nil
}

type remoteStore interface {
	ports.LedgerStore
	Ping(ctx context.Context) error
}

// openStore never fails: an unreachable backend is logged and the ledger
// starts empty, retrying the store on every save.
func (a *Application) openStore(ctx context.Context) ports.LedgerStore {
	lc := a.cfg.Ledger
	log := a.logger.With("component", "ledger", "backend", lc.Backend)

	var store remoteStore
	switch lc.Backend {
	case "postgres":
		pg, err := storage.OpenPostgres(lc.DSN)
		if err != nil {
			log.Error("ledger store unusable, keeping ledger in memory only", "error", err)
			return nil
		}
		a.closers = append(a.closers, pg)
		store = pg
	case "redis":
		rs := storage.OpenRedis(lc.RedisAddr, lc.RedisPassword, lc.RedisDB, lc.RedisKey)
		a.closers = append(a.closers, rs)
		store = rs
	default:
		return ledger.NewFileStore(lc.Path)
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		log.Warn("ledger store unreachable, starting with an empty ledger", "error", err)
	}
	return store
}

// Run starts the scheduler and the liveness server and blocks until ctx is
// done or the server fails. Running jobs get a bounded grace period, then
// the ledger is flushed and stores are closed.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info("marketpulse starting",
		"timezone", a.cfg.Scheduler.Timezone,
		"ledger", a.cfg.Ledger.Backend,
		"sites", len(a.cfg.Sites),
	)

	g, gctx := errgroup.WithContext(ctx)
	a.scheduler.Start()

	g.Go(func() error {
		return a.server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := a.scheduler.Stop(stopCtx); err != nil {
			a.logger.Warn("scheduler did not stop cleanly", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if cerr := a.Close(); cerr != nil {
		a.logger.Warn("shutdown cleanup failed", "error", cerr)
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	a.logger.Info("marketpulse stopped")
	return nil
}

// Trigger runs one registered job now and waits for it.
func (a *Application) Trigger(ctx context.Context, name string) error {
	return a.scheduler.RunNow(ctx, name)
}

// SendTest posts TestMessage to the configured chat.
func (a *Application) SendTest(ctx context.Context) error {
	return a.notifier.Send(ctx, TestMessage, "")
}

// Jobs lists the registered jobs.
func (a *Application) Jobs() []scheduler.JobStatus {
	return a.scheduler.Snapshot()
}

// Close flushes the ledger and releases stores. Safe to call more than once.
func (a *Application) Close() error {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		var errs []error
		if err := a.ledger.Save(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush ledger: %w", err))
		}
		if err := a.closeStores(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// Discard releases stores without flushing the ledger. Commands that post
// nothing use it so the stored snapshot is left as it was.
func (a *Application) Discard() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.closeStores()
	})
	return a.closeErr
}

func (a *Application) closeStores() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
