// Package main запускает HTTP-сервер сервиса управления заказами.
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

	"github.com/mmeshcher/orderdesk-system/internal/config"
	"github.com/mmeshcher/orderdesk-system/internal/handler"
	"github.com/mmeshcher/orderdesk-system/internal/repository"
	"github.com/mmeshcher/orderdesk-system/internal/session"
	"github.com/mmeshcher/orderdesk-system/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	// .env необязателен: в продакшене конфигурация приходит из окружения.
	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	// Документы создаются один раз на старте, не лениво в обработчиках.
	if err := store.Bootstrap(cfg.AdminPassword); err != nil {
		sugar.Fatalw("storage bootstrap error", "error", err.Error())
	}

	orders := repository.NewOrders(store)
	sessions := session.NewManager(store)

	h := handler.NewHandler(orders, sessions, logger)
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
		sugar.Infow("starting orderdesk server", "addr", cfg.RunAddress, "data_dir", cfg.DataDir)
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
