package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"anzacash/internal/api"
	"anzacash/internal/apperr"
	"anzacash/internal/auth"
	"anzacash/internal/commission"
	"anzacash/internal/config"
	"anzacash/internal/database"
	"anzacash/internal/lock"
	"anzacash/internal/logger"
	"anzacash/internal/models"
	"anzacash/internal/notify"
	"anzacash/internal/referral"
	"anzacash/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load Configuration
	cfg := config.LoadConfig()
	logger.InitLogger(os.Stderr, logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Errorf("Server stopped: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// Connect to Database
	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		return err
	}

	// Connect to Redis when configured, otherwise lock in process.
	var (
		rdb    *redis.Client
		locker lock.Locker = lock.NewLocal()
	)
	if cfg.RedisEnabled() {
		rdb, err = database.ConnectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb, "anzacash:lock:")
	}

	notifier, err := notify.New(cfg.TelegramBotToken, cfg.TelegramAdminChatID)
	if err != nil {
		return err
	}

	users := referral.NewService(referral.NewGormStore(db), locker, referral.Options{
		RootID:   cfg.ReferralRootID,
		MaxDepth: cfg.ReferralMaxDepth,
	})
	payments := commission.NewService(db, cfg.CommissionRate, notifier)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)

	if err := ensureAdmin(ctx, users, cfg); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	srv, err := api.NewServer(users, payments, tokens, api.Options{
		WebhookCIDRs:   cfg.PaymentWebhookCIDRs,
		TrustedProxies: cfg.TrustedProxies,
		Ping: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return sqlDB.PingContext(pingCtx)
		},
	})
	if err != nil {
		return err
	}
	router, err := srv.Router()
	if err != nil {
		return err
	}

	if cfg.LevelRefreshInterval > 0 {
		refresher := worker.NewLevelRefresher(db, rdb, users, notifier)
		go refresher.Start(ctx, cfg.LevelRefreshInterval)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// ensureAdmin creates the bootstrap admin account named in the config.
func ensureAdmin(ctx context.Context, users *referral.Service, cfg *config.Config) error {
	if cfg.AdminUsername == "" {
		return nil
	}
	_, err := users.CreateUser(ctx, referral.Profile{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
		Role:     models.RoleAdmin,
	})
	switch {
	case err == nil:
		logger.Infof("Created admin account %s", cfg.AdminUsername)
	case errors.Is(err, apperr.ErrDuplicateUser):
	default:
		return err
	}
	return nil
}
