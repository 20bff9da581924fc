package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/sumire/relay/internal/clock"
	"github.com/sumire/relay/internal/config"
	"github.com/sumire/relay/internal/events"
	"github.com/sumire/relay/internal/handler"
	"github.com/sumire/relay/internal/lifecycle"
	"github.com/sumire/relay/internal/ratelimit"
	"github.com/sumire/relay/internal/realtime"
	"github.com/sumire/relay/internal/repository"
	"github.com/sumire/relay/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	bus := events.NewBus()
	limiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitMax, clk)

	authSvc := service.NewAuthService(cfg.JWTSecret)
	notificationSvc := service.NewNotificationService(repository.NewNotificationRepository(db), bus, clk)
	threadSvc := service.NewThreadService(service.ThreadDeps{
		Threads:   repository.NewThreadRepository(db),
		Messages:  repository.NewMessageRepository(db),
		Orders:    repository.NewOrderRepository(db),
		Profiles:  repository.NewUserRepository(db),
		Notifier:  notificationSvc,
		Publisher: bus,
		Limiter:   limiter,
		Clock:     clk,
	}, service.ThreadConfig{
		GracePeriod:        cfg.MessagingGracePeriod,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
	})

	messagingHub := realtime.NewHub(realtime.NamespaceMessaging)
	notificationHub := realtime.NewHub(realtime.NamespaceNotifications)
	bridge := realtime.NewBridge(messagingHub, notificationHub)

	bus.Subscribe("thread-archiver", threadSvc.HandleEvent)
	bus.Subscribe("realtime-bridge", bridge.Handle)

	go sweepLimiter(ctx, limiter, cfg.RateLimitWindow)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		consumer := lifecycle.NewConsumer(rdb, cfg.OrderEventsChannel, bus)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				slog.Error("order lifecycle consumer stopped", "error", err)
			}
		}()
	} else {
		slog.Warn("REDIS_URL not set, order lifecycle events are not consumed")
	}

	frameRate := rate.Limit(cfg.SocketFrameRate)
	messagingSocket := realtime.NewSocketServer(realtime.SessionConfig{
		Hub:        messagingHub,
		Validator:  authSvc,
		Authorizer: threadSvc,
		FrameRate:  frameRate,
		FrameBurst: cfg.SocketFrameBurst,
	}, cfg.FrontendURL)
	notificationSocket := realtime.NewSocketServer(realtime.SessionConfig{
		Hub:        notificationHub,
		Validator:  authSvc,
		FrameRate:  frameRate,
		FrameBurst: cfg.SocketFrameBurst,
	}, cfg.FrontendURL)
	stream := realtime.NewStreamHandler(notificationSvc, authSvc, cfg.HeartbeatInterval)

	e := handler.NewRouter(handler.RouterDeps{
		Auth:               authSvc,
		Threads:            handler.NewThreadHandler(threadSvc),
		Notifications:      handler.NewNotificationHandler(notificationSvc),
		NotificationStream: stream.Handle,
		MessagingSocket:    messagingSocket.Handle,
		NotificationSocket: notificationSocket.Handle,
		FrontendURL:        cfg.FrontendURL,
		InternalKey:        cfg.InternalKey,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		notificationSvc.CloseAllStreams()
		messagingHub.CloseAll()
		notificationHub.CloseAll()
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// sweepLimiter drops idle rate-limit keys once per window.
func sweepLimiter(ctx context.Context, limiter *ratelimit.Limiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
