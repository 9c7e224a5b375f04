package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"recipesnap/internal/app"
	"recipesnap/internal/config"
	"recipesnap/internal/server"
	"recipesnap/internal/usertoken"
	"recipesnap/internal/util"
	"recipesnap/pkg/ai"
	"recipesnap/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	extractor, err := ai.NewVisionClient(cfg.VisionAPIKey)
	if err != nil {
		log.Fatalf("failed to init vision client: %v", err)
	}
	if cfg.VisionBaseURL != "" {
		extractor = extractor.WithBaseURL(cfg.VisionBaseURL)
	}

	generator, err := newGenerator(cfg)
	if err != nil {
		log.Fatalf("failed to init generator: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
	} else {
		slog.Warn("object store not configured, source uploads will not be archived")
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:      cfg.DatabaseURL,
		Extractor:        extractor,
		Generator:        generator,
		GeneratorModel:   cfg.GenerationModel,
		Objects:          objects,
		FreeScanLimit:    cfg.FreeScanLimit,
		PremiumScanLimit: cfg.PremiumScanLimit,
		AITimeout:        time.Duration(cfg.AITimeoutSeconds) * time.Second,
		MaxImportBytes:   cfg.MaxImportBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:               appCore,
		TokenVerifier:     tokenVerifier,
		RedisAddr:         cfg.RedisAddr,
		RedisPassword:     cfg.RedisPassword,
		ScanRatePerMinute: cfg.ScanRatePerMinute,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		TrustedProxies:    cfg.TrustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("recipesnap server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownWait := time.Duration(cfg.ShutdownWaitSecond) * time.Second
		if shutdownWait <= 0 {
			shutdownWait = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

func newGenerator(cfg config.FileConfig) (ai.TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "", "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.GenerationModel), nil
	case "ollama":
		return ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaBaseURL), cfg.GenerationModel), nil
	default:
		return ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.GenerationModel), nil
	}
}
