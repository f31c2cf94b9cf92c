package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/tenantry/internal/auth"
	"github.com/dukerupert/tenantry/internal/config"
	"github.com/dukerupert/tenantry/internal/database"
	"github.com/dukerupert/tenantry/internal/email"
	"github.com/dukerupert/tenantry/internal/logging"
	"github.com/dukerupert/tenantry/internal/middleware"
	"github.com/dukerupert/tenantry/internal/ratelimit"
	"github.com/dukerupert/tenantry/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	keys, err := auth.NewKeyGenerator(cfg.SecretKeyBase)
	if err != nil {
		return err
	}

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	var counter ratelimit.Counter = ratelimit.NewMemoryCounter()
	if cfg.RedisURL != "" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		counter = ratelimit.NewRedisCounter(client)
		logger.Info("rate limits stored in redis")
	}

	var deliverer email.Deliverer = email.LogDeliverer{Logger: logger.With("component", "email")}
	if cfg.PostmarkToken != "" {
		deliverer = email.NewClient(cfg.PostmarkToken, cfg.FromEmail)
	} else if !cfg.Development() {
		logger.Warn("POSTMARK_TOKEN not set, emails will only be logged")
	}
	queue := email.NewQueue(deliverer, email.DefaultQueueSize, logger.With("component", "email"))

	srv := server.New(db, keys, counter, queue, server.Options{
		Development:    cfg.Development(),
		BaseURL:        cfg.BaseURL,
		SecureCookies:  cfg.SecureCookies(),
		AdminEmails:    cfg.AdminEmails,
		SignupsEnabled: cfg.SignupsEnabled,
		CodeTTL:        cfg.CodeTTL,
		EmailChangeTTL: cfg.EmailChangeTTL,
		OriginPatterns: originPatterns(cfg.BaseURL),
		TrustedProxies: proxies,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("tenantry running", "addr", cfg.Addr, "base_url", cfg.BaseURL, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return queue.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Cleanup()
			case <-ctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// originPatterns allows websocket upgrades from the public host when the
// app runs behind a proxy on a different host.
func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
