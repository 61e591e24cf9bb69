// Package main запускает HTTP-сервер сервиса лояльности.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smokeeat/loyalty-system/internal/catalog"
	"github.com/smokeeat/loyalty-system/internal/config"
	"github.com/smokeeat/loyalty-system/internal/handler"
	"github.com/smokeeat/loyalty-system/internal/ledger"
	"github.com/smokeeat/loyalty-system/internal/mailer"
	"github.com/smokeeat/loyalty-system/internal/middleware"
	"github.com/smokeeat/loyalty-system/internal/repository"
	"github.com/smokeeat/loyalty-system/internal/service"
)

func buildMailer(cfg *config.Config, logger *zap.Logger) mailer.Mailer {
	if cfg.MailDryRun {
		return mailer.NewLogMailer(logger)
	}

	var transports []mailer.Mailer
	if cfg.SMTPHost != "" {
		transports = append(transports,
			mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom))
	}
	if cfg.ResendAPIKey != "" {
		transports = append(transports, mailer.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom))
	}
	if len(transports) == 0 {
		// Без настроенных транспортов письма уходят только в лог.
		return mailer.NewLogMailer(logger)
	}

	return mailer.NewChain(logger, transports...)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	cat := catalog.Default()

	svc := service.NewService(repo, cat, buildMailer(cfg, logger), logger, service.Options{
		Rate: ledger.Rate{
			PointsPerBlock: cfg.PointsPerBlock,
			BlockSize:      cfg.BlockSize,
		},
		ReferralBonus:    cfg.ReferralBonus,
		BaseURL:          cfg.BaseURL,
		StrictEmailCheck: cfg.SignupEmailCheck == "strict",
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting loyalty server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
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
