package telegram

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"health-agent/internal/auth"
	"health-agent/internal/llm"
	"health-agent/internal/logging"
	"health-agent/internal/session"
	"health-agent/internal/storage"
)

const newSessionCmd = "new_session"

// SessionBuilder starts a session for a patient.
type SessionBuilder interface {
	Build(ctx context.Context, user storage.User, now time.Time) (*session.Context, error)
}

// TurnHandler answers one patient message within a session.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sc *session.Context, input string) (llm.Message, error)
}

type Bot struct {
	api      *tgbotapi.BotAPI
	s        sender
	authSvc  *auth.Service
	builder  SessionBuilder
	turns    TurnHandler
	sessions *session.Registry
	idle     time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func New(botToken string, authSvc *auth.Service, builder SessionBuilder, turns TurnHandler, idle time.Duration, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &Bot{
		api:      api,
		s:        botAPISender{api: api},
		authSvc:  authSvc,
		builder:  builder,
		turns:    turns,
		sessions: session.NewRegistry(),
		idle:     idle,
		logger:   logging.OrDefault(logger),
		now:      time.Now,
	}, nil
}

// Start processes updates one at a time until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message != nil && update.Message.From != nil {
		b.handleIncomingMessage(ctx, update.Message)
		return
	}
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}
