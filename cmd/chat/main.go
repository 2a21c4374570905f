// Command chat talks to the agent from a terminal as a single patient.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"health-agent/internal/app"
	"health-agent/internal/chat"
	"health-agent/internal/config"
	"health-agent/internal/logging"
	"health-agent/internal/storage"
)

func main() {
	userID := flag.String("user", "local", "patient id")
	name := flag.String("name", "", "patient name, stored on first use")
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

	user, err := a.Store.GetUser(ctx, *userID)
	if err != nil {
		log.Fatalf("failed to load user: %v", err)
	}
	if user == nil || (*name != "" && user.Name != *name) {
		u := storage.User{ID: *userID, Name: *name}
		if u.Name == "" {
			u.Name = *userID
		}
		if err := a.Store.UpsertUser(ctx, u); err != nil {
			log.Fatalf("failed to save user: %v", err)
		}
		user = &u
	}

	sc, err := a.Builder.Build(ctx, *user, time.Now())
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	fmt.Printf("assistant> %s\n", sc.Opening())

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !in.Scan() {
			break
		}
		line := in.Text()
		if strings.TrimSpace(line) == "/quit" {
			break
		}
		reply, err := a.Turns.HandleTurn(ctx, sc, line)
		switch {
		case errors.Is(err, chat.ErrEmptyInput):
			continue
		case errors.Is(err, chat.ErrNotPersisted):
			log.Printf("warning: %v", err)
		case err != nil:
			fmt.Println("assistant> Sorry, something went wrong. Please try again.")
			continue
		}
		fmt.Printf("assistant> %s\n", reply.Content)
		if ctx.Err() != nil {
			break
		}
	}
}
