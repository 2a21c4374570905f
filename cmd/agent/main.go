package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"health-agent/internal/app"
	"health-agent/internal/auth"
	"health-agent/internal/config"
	"health-agent/internal/logging"
	"health-agent/internal/metrics"
	"health-agent/internal/scheduler"
	"health-agent/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	if cfg.TelegramBotToken == "" {
		log.Fatalf("TELEGRAM_BOT_TOKEN is required")
	}
	logger, closeLog := logging.Setup(cfg.LogLevel, cfg.LogFormat, logging.File{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileMaxBackups,
	})
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to init agent: %v", err)
	}
	defer a.Close()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		defer srv.Close()
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
	}

	sched := scheduler.New(cfg.SummarySchedule, a.Location, func(ctx context.Context, now time.Time) error {
		report, err := a.Summarizer.Run(ctx, now)
		if err != nil {
			return err
		}
		logger.Info("daily summaries", "report", report.String())
		return nil
	}, logger)
	if err := sched.Start(cfg.SummaryOnStart); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	authSvc := auth.New(a.Store, cfg.AllowedUsers)
	bot, err := telegram.New(cfg.TelegramBotToken, authSvc, a.Builder, a.Turns, cfg.SessionIdleTimeout, logger)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}

	bot.Start(ctx)
	log.Println("shutting down")
}
