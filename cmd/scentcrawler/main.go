package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scentfinder-crawler/internal/clock/system"
	"github.com/JakeFAU/scentfinder-crawler/internal/config"
	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
	"github.com/JakeFAU/scentfinder-crawler/internal/discovery"
	"github.com/JakeFAU/scentfinder-crawler/internal/fetcher/chain"
	collyfetcher "github.com/JakeFAU/scentfinder-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/scentfinder-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/scentfinder-crawler/internal/fetcher/renderproxy"
	"github.com/JakeFAU/scentfinder-crawler/internal/frontier"
	"github.com/JakeFAU/scentfinder-crawler/internal/headless/detector"
	"github.com/JakeFAU/scentfinder-crawler/internal/id/uuid"
	"github.com/JakeFAU/scentfinder-crawler/internal/logging"
	"github.com/JakeFAU/scentfinder-crawler/internal/metrics"
	"github.com/JakeFAU/scentfinder-crawler/internal/persist"
	"github.com/JakeFAU/scentfinder-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/scentfinder-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/scentfinder-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/scentfinder-crawler/internal/storage/gcs"
	"github.com/JakeFAU/scentfinder-crawler/internal/storage/local"
	"github.com/JakeFAU/scentfinder-crawler/internal/storage/memory"
	"github.com/JakeFAU/scentfinder-crawler/internal/storage/postgres"
	"github.com/JakeFAU/scentfinder-crawler/internal/worker"
)

// dryRunTopic labels events kept in memory when no Pub/Sub topic is set.
const dryRunTopic = "dry-run"

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := run(ctx, cfg, logger)
	stop()

	if syncErr := logger.Sync(); syncErr != nil {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()
	clock := system.New()
	runID, err := uuid.New().NewID()
	if err != nil {
		logger.Error("run id generation failed", zap.Error(err))
		return err
	}
	logger.Info("run started", zap.String("run_id", runID))

	categories, err := cfg.Categories()
	if err != nil {
		logger.Error("invalid categories", zap.Error(err))
		return err
	}

	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, logger.Named("metrics")); err != nil {
				logger.Error("metrics listener error", zap.Error(err))
			}
		}()
	}

	budget, err := ratelimit.NewBudget(ratelimit.BudgetConfig{
		Threshold: cfg.Budget.Threshold,
		Cooldown:  cfg.Budget.Cooldown,
	}, clock, logger.Named("budget"))
	if err != nil {
		logger.Error("budget init failed", zap.Error(err))
		return err
	}
	jitter, err := ratelimit.NewJitter(ratelimit.JitterConfig{
		Light: ratelimit.Range{Min: cfg.Jitter.LightMin, Max: cfg.Jitter.LightMax},
		Heavy: ratelimit.Range{Min: cfg.Jitter.HeavyMin, Max: cfg.Jitter.HeavyMax},
	}, clock)
	if err != nil {
		logger.Error("jitter init failed", zap.Error(err))
		return err
	}
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Budget.HostRPS, Burst: 1})
	detect := detector.NewHeuristic(0)

	strategies := chain.Strategies{
		Direct: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.HTTPTimeout(),
		}),
	}

	proxy, err := renderproxy.New(renderproxy.Config{
		Endpoint: cfg.RenderProxy.Endpoint,
		APIKey:   cfg.RenderProxy.APIKey,
		Render:   cfg.RenderProxy.Render,
		Timeout:  time.Duration(cfg.RenderProxy.TimeoutSeconds) * time.Second,
	}, nil)
	switch {
	case errors.Is(err, renderproxy.ErrProxyNotConfigured):
		logger.Warn("rendering proxy disabled", zap.Error(err))
	case err != nil:
		logger.Error("rendering proxy init failed", zap.Error(err))
		return err
	default:
		strategies.Proxy = proxy
	}

	session := headlessfetcher.NewSession(headlessfetcher.SessionConfig{
		NavTimeout:       time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
		ChallengeTimeout: time.Duration(cfg.Headless.ChallengeTimeoutSeconds) * time.Second,
		MaxScrolls:       cfg.Headless.MaxScrolls,
	}, detect, jitter, logger.Named("browser"))
	browser, err := headlessfetcher.New(headlessfetcher.Config{
		Enabled: cfg.Headless.Enabled,
		Browser: headlessfetcher.BrowserConfig{
			Headless:  cfg.Headless.Headless,
			ExecPath:  cfg.Headless.ExecPath,
			UserAgent: cfg.HTTP.UserAgent,
		},
	}, session)
	switch {
	case errors.Is(err, headlessfetcher.ErrBrowserDisabled):
		logger.Warn("browser strategy disabled")
	case err != nil:
		logger.Error("browser init failed", zap.Error(err))
		return err
	default:
		defer browser.Close()
		strategies.Browser = browser
	}

	layer, err := chain.New(chain.Config{ProxyEvery: cfg.Budget.ProxyEvery}, strategies, detect, budget, limiter, logger.Named("fetch"))
	if err != nil {
		logger.Error("fetch layer init failed", zap.Error(err))
		return err
	}

	urls, err := frontier.New(frontier.Config{Dir: cfg.Frontier.Dir, Files: cfg.FrontierFiles()})
	if err != nil {
		logger.Error("frontier init failed", zap.Error(err))
		return err
	}

	store, err := openStore(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	archive, closeArchive, err := openArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	var (
		notifier *persist.Notifier
		dryRun   *memorypublisher.Publisher
	)
	switch {
	case cfg.PubSub.TopicName != "":
		publisher, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.TopicName,
		}, logger.Named("pubsub"))
		if err != nil {
			logger.Error("pubsub publisher init failed", zap.Error(err))
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("pubsub publisher close failed", zap.Error(err))
			}
		}()
		notifier, err = persist.NewNotifier(publisher, cfg.PubSub.TopicName, runID)
		if err != nil {
			return err
		}
	case cfg.DB.Driver == config.DriverMemory:
		dryRun = memorypublisher.New()
		notifier, err = persist.NewNotifier(dryRun, dryRunTopic, runID)
		if err != nil {
			return err
		}
	}

	persister, err := persist.New(store, notifier, logger.Named("persist"))
	if err != nil {
		return err
	}

	deps := worker.Deps{
		Frontier:  urls,
		Counter:   store,
		Fetcher:   layer,
		Persister: persister,
		Archive:   archive,
		Pacer:     jitter,
	}
	if cfg.Crawl.Discover {
		discoverer, err := discovery.New(discovery.Config{
			BaseURL:   cfg.Site.BaseURL,
			Countries: cfg.Discovery.Countries,
		}, layer, urls, jitter, logger)
		if err != nil {
			logger.Error("discovery init failed", zap.Error(err))
			return err
		}
		deps.Discoverer = discoverer
	}

	w, err := worker.New(worker.Config{
		RunID:         runID,
		Categories:    categories,
		Discover:      cfg.Crawl.Discover,
		ArchivePrefix: cfg.Archive.Prefix,
	}, deps, logger.Named("worker"))
	if err != nil {
		logger.Error("worker init failed", zap.Error(err))
		return err
	}

	started := clock.Now()
	summaries, err := w.Run(ctx)
	for _, s := range summaries {
		logger.Info("category summary",
			zap.String("category", string(s.Category)),
			zap.Int("queued", s.Queued),
			zap.Int("offset", s.Offset),
			zap.Int("processed", s.Processed),
			zap.Int("added", s.Added),
			zap.Int("skipped", s.Skipped),
			zap.Int("fetch_failed", s.FetchFailed),
			zap.Int("parse_failed", s.ParseFailed),
			zap.Int("persist_failed", s.PersistFailed),
			zap.Int("blocked", s.Blocked),
		)
	}
	if err != nil {
		logger.Warn("run interrupted", zap.String("run_id", runID), zap.Error(err), zap.Duration("elapsed", clock.Now().Sub(started)))
		return err
	}
	if dryRun != nil {
		logger.Info("dry-run events recorded", zap.Int("events", len(dryRun.Messages())))
	}
	logger.Info("run complete",
		zap.String("run_id", runID),
		zap.Duration("elapsed", clock.Now().Sub(started)),
		zap.Int("attempts_since_cooldown", budget.Count()),
	)
	return nil
}

func openStore(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (crawler.Store, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("using in-memory store; nothing will outlive this run")
		return memory.NewStore(), nil
	}
	store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
	if err != nil {
		logger.Error("postgres init failed", zap.Error(err))
		return nil, err
	}
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			logger.Error("schema migration failed", zap.Error(err))
			return nil, err
		}
	}
	return store, nil
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (crawler.BlobStore, func(), error) {
	switch cfg.Backend {
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			logger.Error("local archive init failed", zap.Error(err))
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket}, logger.Named("archive"))
		if err != nil {
			logger.Error("gcs archive init failed", zap.Error(err))
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("gcs archive close failed", zap.Error(err))
			}
		}, nil
	default:
		return nil, func() {}, nil
	}
}
