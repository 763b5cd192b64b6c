package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskhub/internal/config"
	"taskhub/internal/pkg/logger"
	"taskhub/internal/pkg/mailqueue"
	"taskhub/internal/pkg/metrics"
	"taskhub/internal/pkg/notify"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// main 是邮件投递服务的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志记录器
// 3. 连接 Redis 并创建消费者组
// 4. 启动投递循环与 Metrics 服务
// 5. 优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	metrics.InitMetrics()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Error("redis ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	hostname, _ := os.Hostname()
	consumer, err := mailqueue.NewConsumer(rdb, appLogger, mailqueue.DefaultStream, "mailer", hostname)
	if err != nil {
		appLogger.Error("init mail consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sender := notify.NewEmailNotifier(&cfg.Email, appLogger)
	worker := mailqueue.NewWorker(consumer, sender, appLogger)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				appLogger.Error("PANIC in mail worker loop", slog.Any("panic", r))
				os.Exit(1)
			}
		}()

		appLogger.Info("starting mail worker loop")
		if err := worker.Run(workerCtx); err != nil && err != context.Canceled {
			appLogger.Error("mail worker loop stopped", slog.String("error", err.Error()))
		}
	}()

	metricsAddr := ":2112"
	if v := os.Getenv("MAILER_METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("mailer metrics server started", slog.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info("received os signal", slog.String("signal", sig.String()))

	appLogger.Info("shutting down mailer...")
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}

	select {
	case <-done:
	case <-shutdownCtx.Done():
		appLogger.Warn("mail worker did not stop in time")
	}

	if err := rdb.Close(); err != nil {
		appLogger.Error("redis close error", slog.String("error", err.Error()))
	}

	appLogger.Info("mailer stopped gracefully")
}
