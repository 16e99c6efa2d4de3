// Package main запускает HTTP-сервер сервиса агентского баланса и бронирований.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/agency-ledger/internal/config"
	"github.com/mmeshcher/agency-ledger/internal/handler"
	"github.com/mmeshcher/agency-ledger/internal/ledger"
	"github.com/mmeshcher/agency-ledger/internal/metrics"
	"github.com/mmeshcher/agency-ledger/internal/middleware"
	"github.com/mmeshcher/agency-ledger/internal/model"
	"github.com/mmeshcher/agency-ledger/internal/repository"
	"github.com/mmeshcher/agency-ledger/internal/repository/memory"
	"github.com/mmeshcher/agency-ledger/internal/service"
)

// store объединяет всё, что нужно от хранилища при запуске.
type store interface {
	service.Repository
	ledger.Store
	EnsureAgency(ctx context.Context, a model.Agency) error
	Close() error
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func openStore(cfg *config.Config, sugar *zap.SugaredLogger) (store, error) {
	if cfg.DatabaseURI == "" {
		sugar.Warn("database URI is empty, using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, cfg.DBTimeout)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	decimal.MarshalJSONWithoutQuotes = true

	repo, err := openStore(cfg, sugar)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	if err := repo.EnsureAgency(context.Background(), model.Agency{
		ID:        cfg.AdminAgencyID,
		Name:      cfg.AdminAgencyName,
		Role:      model.RoleAdmin,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		sugar.Fatalw("admin agency initialization error", "error", err.Error())
	}

	seeds, err := cfg.SeedAgencies()
	if err != nil {
		sugar.Fatalw("sub-agency list error", "error", err.Error())
	}
	for _, a := range seeds {
		if err := repo.EnsureAgency(context.Background(), model.Agency{
			ID:        a.ID,
			Name:      a.Name,
			Role:      model.RoleSubAgency,
			IsActive:  true,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			sugar.Fatalw("sub-agency initialization error", "error", err.Error(), "agencyID", a.ID)
		}
	}

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT secret is empty, a random key is used and no token will verify")
	}

	m := metrics.New()
	l := ledger.New(repo, logger, m, cfg.LedgerRetryAttempts)
	svc := service.NewService(repo, l, logger)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, m, cfg.AllowedOrigins())

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting agency ledger server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Остановка по сигналу или по ошибке сервера.
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
