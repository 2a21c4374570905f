// Command summarize runs the daily summary batch once, for yesterday or for
// the day given with -day.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"health-agent/internal/app"
	"health-agent/internal/config"
	"health-agent/internal/logging"
	"health-agent/internal/summary"
)

func main() {
	dayFlag := flag.String("day", "", "calendar day to summarize (YYYY-MM-DD); default yesterday")
	stats := flag.Bool("stats", false, "print the day's activity report as JSON")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg := config.New()
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

	var report *summary.Report
	if *dayFlag == "" {
		report, err = a.Summarizer.Run(ctx, time.Now())
	} else {
		day, perr := time.Parse("2006-01-02", *dayFlag)
		if perr != nil {
			log.Fatalf("invalid -day %q: %v", *dayFlag, perr)
		}
		report, err = a.Summarizer.RunForDay(ctx, day)
	}
	if err != nil {
		log.Fatalf("daily summaries failed: %v", err)
	}

	fmt.Println(report.String())
	for _, u := range report.Users {
		line := fmt.Sprintf("  %s: %s", u.UserID, u.Outcome)
		if u.Err != nil {
			line += " (" + u.Err.Error() + ")"
		}
		fmt.Println(line)
	}
	if *stats {
		out, err := report.Stats.ToJSON()
		if err != nil {
			log.Fatalf("encode stats: %v", err)
		}
		fmt.Println(out)
	} else {
		fmt.Print(report.Stats.GenerateReportSummary())
	}
}
