package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/imagetext/internal/ai"
	"github.com/local/imagetext/internal/bucket"
	"github.com/local/imagetext/internal/config"
	"github.com/local/imagetext/internal/dispatcher"
	"github.com/local/imagetext/internal/logger"
	"github.com/local/imagetext/internal/metrics"
	"github.com/local/imagetext/internal/queue"
	"github.com/local/imagetext/internal/storage"
	"github.com/local/imagetext/internal/store"
	"github.com/local/imagetext/internal/task"
	"github.com/local/imagetext/internal/web"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	_ = logger.Init(logger.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logger.Close()

	metrics.Init()

	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rq.Close()

	rs, err := store.NewRedisStatus(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init redis status store")
	}
	defer rs.Close()

	// Task adapters, one per provider.
	dialClient := ai.NewDialClient(cfg.Providers.Dial.BaseURL, cfg.Providers.Dial.APIKey)
	dialAdapter := task.New(dialClient, &cfg)
	openaiAdapter := task.New(ai.NewOpenAIClient(), &cfg)
	anthropicAdapter := task.New(ai.NewAnthropicClient(), &cfg)

	// Optional S3 storage: image source for queued jobs referencing stored
	// files and archive for generated images.
	var fetcher dispatcher.ImageFetcher
	var archive web.Archiver
	if cfg.Storage.Endpoint != "" || cfg.Storage.Region != "" {
		sc, err := storage.NewClient(context.Background(), cfg.Storage)
		if err != nil {
			log.Warn().Err(err).Msg("s3 storage unavailable, image_ref jobs will fail")
		} else {
			fetcher = sc
			archive = sc
		}
	}

	// Dispatcher worker (optional).
	runDispatcher := os.Getenv("RUN_DISPATCHER")
	if runDispatcher == "" || runDispatcher == "1" || runDispatcher == "true" {
		cb := dispatcher.NewCircuitBreaker(rq.Client(), cfg.Worker.BreakerBaseBackoff, cfg.Worker.BreakerMaxBackoff)
		disp := dispatcher.New(&cfg, rq, rs, fetcher, cb, dispatcher.Adapters(dialAdapter, openaiAdapter, anthropicAdapter))
		disp.Start()
		defer disp.Stop(context.Background())
	}

	adapters := map[string]web.Describer{
		dialAdapter.Provider():      dialAdapter,
		openaiAdapter.Provider():    openaiAdapter,
		anthropicAdapter.Provider(): anthropicAdapter,
	}

	// Image generation goes through DIAL; the bucket client makes generated
	// files downloadable.
	files := bucket.New(cfg.Providers.Dial.BaseURL, cfg.Providers.Dial.APIKey)
	srv := web.New(adapters, dialAdapter, rq, rs, files, archive, cfg.Providers.PrimaryEngine)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	httpSrv := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Info().Msg("shutdown complete")
}
