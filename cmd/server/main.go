package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"promptpix/internal/app"
	"promptpix/internal/config"
	"promptpix/internal/imagefetch"
	"promptpix/internal/server"
	"promptpix/internal/util"
	"promptpix/pkg/ai"
	"promptpix/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:     cfg.DatabaseURL,
		DataFile:        cfg.DataFile,
		SessionSecret:   cfg.SessionSecret,
		SessionTTL:      sessionTTL,
		StartingCredits: cfg.StartingCredits,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var gateway *ai.Gateway
	if cfg.GeminiAPIKey != "" {
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			log.Fatalf("failed to init gemini client: %v", err)
		}
		gateway = ai.NewGateway(client, cfg.LiteModel, cfg.ProModel)
	} else {
		slog.Warn("gemini api key not set, generation endpoints disabled")
	}

	var images storage.ImageStore
	if cfg.MinioEndpoint != "" {
		images, err = storage.NewMinioImageStore(
			cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init image store: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Gateway:                    gateway,
		Fetcher:                    imagefetch.New(),
		Images:                     images,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		TrustForwardedHeaders:      cfg.TrustForwardedHeaders,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
