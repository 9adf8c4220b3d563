package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mshop/internal/config"
	"github.com/xxxsen/mshop/internal/db"
	"github.com/xxxsen/mshop/internal/handler"
	"github.com/xxxsen/mshop/internal/job"
	"github.com/xxxsen/mshop/internal/middleware"
	"github.com/xxxsen/mshop/internal/notify"
	"github.com/xxxsen/mshop/internal/pkg/password"
	"github.com/xxxsen/mshop/internal/ratelimit"
	"github.com/xxxsen/mshop/internal/repo"
	"github.com/xxxsen/mshop/internal/schedule"
	"github.com/xxxsen/mshop/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mshop",
		Short: "mshop account service",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run mshop server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, err := bootstrap(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			return runServer(cfg, conn)
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge-tokens",
		Short: "delete expired verification and reset tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, err := bootstrap(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			tokens := service.NewTokenService(repo.NewTokenRepo(conn))
			return job.NewTokenCleanupJob(tokens).Run(cmd.Context())
		},
	}

	rootCmd.AddCommand(runCmd, purgeCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func bootstrap(ctx context.Context, configPath string) (*config.Config, *sql.DB, error) {
	if configPath == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(ctx).Info("config loaded", zap.String("config", configPath))

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return cfg, conn, nil
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("notify", cfg.Notify.Type),
		zap.String("rate_limit", cfg.RateLimit.Backend),
	)

	userRepo := repo.NewUserRepo(conn)
	tokenRepo := repo.NewTokenRepo(conn)
	txManager := repo.NewTxManager(conn)

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return fmt.Errorf("init password hasher: %w", err)
	}
	verificationTTL := time.Minute * time.Duration(cfg.Token.VerificationTTLMinutes)
	resetTTL := time.Minute * time.Duration(cfg.Token.ResetTTLMinutes)
	notifier, err := notify.New(cfg.Notify, notify.NewComposer(cfg.FrontendURL, verificationTTL, resetTTL))
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	defer closeQuietly(notifier)
	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}
	defer closeQuietly(limiter)

	tokenService := service.NewTokenService(tokenRepo)
	authService, err := service.NewAuthService(userRepo, tokenService, txManager, hasher, notifier, service.AuthConfig{
		JWTSecret:       []byte(cfg.JWTSecret),
		JWTTTL:          time.Hour * time.Duration(cfg.JWTTTLHours),
		VerificationTTL: verificationTTL,
		ResetTTL:        resetTTL,
	})
	if err != nil {
		return fmt.Errorf("init auth service: %w", err)
	}

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewTokenCleanupJob(tokenService), cfg.Token.CleanupCron); err != nil {
		return fmt.Errorf("schedule token cleanup: %w", err)
	}

	deps := handler.RouterDeps{
		Auth:      handler.NewAuthHandler(authService),
		Limiter:   limiter,
		JWTSecret: []byte(cfg.JWTSecret),
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func closeQuietly(v interface{}) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
