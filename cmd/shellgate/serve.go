package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rcourtman/shellgate/internal/api"
	"github.com/rcourtman/shellgate/internal/auth"
	"github.com/rcourtman/shellgate/internal/classify"
	"github.com/rcourtman/shellgate/internal/config"
	"github.com/rcourtman/shellgate/internal/events"
	"github.com/rcourtman/shellgate/internal/executor"
	"github.com/rcourtman/shellgate/internal/history"
	"github.com/rcourtman/shellgate/internal/hostmetrics"
	"github.com/rcourtman/shellgate/internal/learning"
	"github.com/rcourtman/shellgate/internal/logging"
	"github.com/rcourtman/shellgate/internal/metrics"
	"github.com/rcourtman/shellgate/internal/pathpolicy"
	"github.com/rcourtman/shellgate/internal/patterns"
	"github.com/rcourtman/shellgate/internal/pipeline"
	"github.com/rcourtman/shellgate/internal/ratelimit"
	"github.com/rcourtman/shellgate/internal/rpc"
	"github.com/rcourtman/shellgate/internal/websocket"
	"github.com/rcourtman/shellgate/pkg/audit"
)

func runServer() {
	// Baseline logger for early startup messages; re-initialized below
	// once the configuration is loaded. Stdout carries the JSON-RPC
	// stream, so all logging goes to stderr or the log file.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "shellgate",
	})
	defer logging.Shutdown()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:     "auto",
		Level:      cfg.LogLevel,
		Component:  "shellgate",
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSize,
		MaxAgeDays: cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
	})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	log.Info().
		Str("version", Version).
		Str("dataDir", cfg.DataDir).
		Bool("sidecar", cfg.ListenAddr != "").
		Msg("Starting shellgate")

	authenticator := auth.New(cfg.AuthKey, cfg.AuthKeyBcrypt)
	if !authenticator.Enabled() {
		log.Warn().Msg("No auth key configured, running open")
	}

	patternStore := patterns.NewStore()

	learnJournal, err := learning.NewJournal(learning.JournalConfig{
		DataDir:    cfg.DataDir,
		MaxKB:      cfg.LearnJournalMaxKB,
		HMACSecret: cfg.LearnHMACSecret,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open learning journal")
	}

	learnStore, err := learning.NewStore(learning.StoreConfig{
		DataDir:  cfg.DataDir,
		Patterns: patternStore,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open learning store")
	}
	defer learnStore.Flush()

	classifier := classify.New(classify.Config{
		Store: patternStore,
		OnUnknown: func(command, sessionID string) {
			if err := learnJournal.Record(command, sessionID); err != nil {
				log.Debug().Err(err).Msg("Failed to journal unknown command")
			}
		},
	})

	limiter := ratelimit.New(cfg.RateCapacity, cfg.RateRefillEvery, cfg.RateRefillAmount)
	defer limiter.Stop()

	paths := pathpolicy.NewStore(pathpolicy.Policy{
		Enforced:     cfg.WorkdirEnforced,
		AllowedRoots: cfg.WorkdirRoots,
	})

	auditJournal, err := audit.NewJournal(cfg.LogsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit journal")
	}
	defer auditJournal.Close()

	registry := metrics.NewRegistry()
	stream := events.NewStream()

	var historyStore *history.Store
	if cfg.HistoryEnabled {
		historyStore, err = history.NewStore(history.StoreConfig{
			DataDir:       cfg.DataDir,
			RetentionDays: cfg.HistoryRetentionDays,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open history store")
		}
		defer historyStore.Close()
	}

	runner := executor.New(executor.Config{
		Shell:                 cfg.Shell,
		ChunkKB:               cfg.ChunkKB,
		MaxOutputKB:           cfg.MaxOutputKB,
		MaxLines:              cfg.MaxLines,
		OverflowStrategy:      cfg.OverflowStrategy,
		CaptureProcessMetrics: cfg.CaptureProcessMetrics,
		DisableSelfDestruct:   cfg.DisableSelfDestruct,
	})

	pipelineCfg := pipeline.Config{
		Auth:       authenticator,
		Limiter:    limiter,
		Classifier: classifier,
		Paths:      paths,
		Runner:     runner,
		Metrics:    registry,
		Events:     stream,
		Audit:      auditJournal,

		MaxCommandChars:   cfg.MaxCommandChars,
		DefaultTimeoutSec: cfg.DefaultTimeoutSec,
		MaxTimeoutSec:     cfg.MaxTimeoutSec,
		PublishAttempts:   cfg.PublishAttempts,
	}
	if historyStore != nil {
		pipelineCfg.History = historyStore
	}
	pipe := pipeline.New(pipelineCfg)

	watcher, err := config.NewWatcher(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
	} else {
		watcher.SetLearnedReloadCallback(func() {
			if err := learnStore.ReloadApproved(); err != nil {
				log.Error().Err(err).Msg("Failed to reload learned-safe patterns")
			}
		})
		watcher.SetEnvReloadCallback(func() {
			authenticator.SetKey(cfg.AuthKey)
			authenticator.SetKeyHash(cfg.AuthKeyBcrypt)
			paths.Set(pathpolicy.Policy{
				Enforced:     cfg.WorkdirEnforced,
				AllowedRoots: cfg.WorkdirRoots,
			})
		})
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		} else {
			defer watcher.Stop()
		}
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Cancelled on signal or when the RPC stream ends, so the sidecar
	// does not keep the process alive after the client disconnects.
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	if watcher != nil {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for {
				select {
				case <-hup:
					log.Info().Msg("SIGHUP received, reloading configuration")
					watcher.ReloadConfig()
					if err := learnStore.ReloadApproved(); err != nil {
						log.Error().Err(err).Msg("Failed to reload learned-safe patterns")
					}
				case <-ctx.Done():
					signal.Stop(hup)
					return
				}
			}
		}()
	}

	srvDeps := rpc.Deps{
		Pipeline: pipe,
		Auth:     authenticator,
		Audit:    auditJournal,
		Paths:    paths,
		Metrics:  registry,
		Learning: learnStore,
		Journal:  learnJournal,
		Sampler: func(ctx context.Context) (any, error) {
			return hostmetrics.Collect(ctx)
		},
		ServerName: "shellgate",
		Version:    Version,
	}
	if historyStore != nil {
		srvDeps.History = historyStore
	}
	server := rpc.NewServer(srvDeps, os.Stdout)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.ListenAddr != "" {
		promRegistry := prometheus.NewRegistry()
		if err := registry.EnablePrometheus(promRegistry); err != nil {
			log.Error().Err(err).Msg("Failed to register Prometheus collectors")
		}

		hub := websocket.NewHub(stream)
		go hub.Run(gctx)

		sidecar := api.New(api.Config{
			ListenAddr: cfg.ListenAddr,
			Version:    Version,
		}, hub, promRegistry)
		g.Go(func() error {
			return sidecar.Run(gctx)
		})
	}

	g.Go(func() error {
		// Returns on stdin EOF (client disconnect) or ctx cancellation.
		err := server.Serve(gctx, os.Stdin)
		cancel()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Shutting down")
}
