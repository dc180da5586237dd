// Package main запускает HTTP-сервер сервиса столовой.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/canteen-system/internal/cache"
	"github.com/mmeshcher/canteen-system/internal/config"
	"github.com/mmeshcher/canteen-system/internal/handler"
	"github.com/mmeshcher/canteen-system/internal/middleware"
	"github.com/mmeshcher/canteen-system/internal/payment"
	"github.com/mmeshcher/canteen-system/internal/realtime"
	"github.com/mmeshcher/canteen-system/internal/repository"
	"github.com/mmeshcher/canteen-system/internal/service"
	"github.com/mmeshcher/canteen-system/internal/suggest"
)

func main() {
	// .env необязателен: в проде конфигурация приходит из окружения.
	_ = godotenv.Load()

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

	var redisCache *cache.Cache
	if cfg.RedisAddress != "" {
		redisCache, err = cache.New(cfg.RedisAddress)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer redisCache.Close()
	}

	var suggestClient *suggest.Client
	if cfg.SuggestAddress != "" {
		suggestClient = suggest.NewClient(cfg.SuggestAddress)
	}

	hub := realtime.NewHub(logger)

	svc := service.NewService(service.Deps{
		Repo:      repo,
		Cache:     redisCache,
		Verifier:  payment.NewVerifier(3 * time.Second),
		Publisher: hub,
		Links:     payment.NewLinkBuilder(cfg.UPIPayeeVPA, cfg.UPIPayeeName),
		Suggest:   suggestClient,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, hub)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск рассылки событий заказов
	g.Go(func() error {
		hub.Run()
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting canteen server", "addr", cfg.RunAddress)
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

		hub.Stop()
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
