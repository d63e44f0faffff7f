package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"shelfscan/internal/app"
	"shelfscan/internal/config"
	"shelfscan/internal/devicetoken"
	"shelfscan/internal/ratelimit"
	"shelfscan/internal/scan"
	"shelfscan/internal/server"
	"shelfscan/internal/util"
	"shelfscan/pkg/openlibrary"
	"shelfscan/pkg/queue"
	"shelfscan/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, cfg.LogsDir)

	resolver := openlibrary.NewClient(openlibrary.Config{
		BaseURL:   cfg.OpenLibraryURL,
		CoversURL: cfg.CoversURL,
		UserAgent: cfg.ResolverUserAgent,
		Timeout:   time.Duration(cfg.ResolverTimeoutSeconds) * time.Second,
		RPS:       cfg.ResolverRPS,
	})

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		store, err := storage.NewMinioStore(storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = store
	}

	imports, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init import queue: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:       cfg.DatabaseURL,
		Resolver:          resolver,
		Objects:           objects,
		ImportQueue:       imports,
		ImportConcurrency: cfg.ImportConcurrency,
		PresignExpiry:     time.Duration(cfg.ExportExpiryMinutes) * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	appCore.StartImporter(ctx, cfg.QueueConcurrency)

	var scans *scan.Manager
	scans = scan.NewManager(scan.ManagerConfig{
		Cooldown:   time.Duration(cfg.ScanCooldownMillis) * time.Millisecond,
		SessionTTL: time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		OnCode: func(ctx context.Context, sessionID, code string) {
			outcome, err := appCore.LookupAndAdd(ctx, code)
			if err != nil {
				slog.Warn("scan lookup failed", "session_id", sessionID, "err", err)
				scans.SetResult(sessionID, map[string]string{"error": err.Error()})
				return
			}
			scans.SetResult(sessionID, outcome)
		},
	})
	defer scans.Stop()

	tokens, err := devicetoken.New(devicetoken.Config{
		Secret:          cfg.DeviceTokenSecret,
		PairingCodeHash: cfg.PairingCodeHash,
		TTL:             time.Duration(cfg.DeviceTokenTTLMinutes) * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to init device tokens: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.LookupRateLimitPerMinute > 0 {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		limiter, err = ratelimit.NewFixedWindowLimiter(client, "shelfscan:ratelimit", cfg.LookupRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:           appCore,
		Scans:         scans,
		Tokens:        tokens,
		LookupLimiter: limiter,
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

	slog.Info("shelfscan server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
