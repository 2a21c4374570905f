package telegram

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"health-agent/internal/auth"
	"health-agent/internal/chat"
	"health-agent/internal/session"
)

// User-facing notices. Failure details stay in the logs.
const (
	noticeNotAllowed  = "Sorry, this assistant is not available for your account."
	noticeUnavailable = "I can't reach your history right now. Please try again in a few minutes."
	noticeFailure     = "Sorry, something went wrong. Please try again."
	noticeTextOnly    = "Please write your message as text."
	noticeHelp        = "Just tell me how you feel today. Use /new to start a new conversation."
)

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	log := b.logger.With("account_id", msg.From.ID, "chat_id", msg.Chat.ID)
	if !b.authSvc.IsAllowed(msg.From.ID) {
		log.Warn("unauthorized access attempt", "username", msg.From.UserName)
		b.sendMessage(msg.Chat.ID, noticeNotAllowed)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	sc, ok := b.sessions.Get(msg.Chat.ID)
	if !ok || sc.Idle(b.now(), b.idle) {
		if ok {
			log.Info("session expired, starting a new one", "session_id", sc.SessionID)
		}
		var err error
		if sc, err = b.startSession(ctx, msg); err != nil {
			return
		}
	}

	reply, err := b.turns.HandleTurn(ctx, sc, msg.Text)
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		b.sendMessage(msg.Chat.ID, noticeTextOnly)
	case errors.Is(err, chat.ErrNotPersisted):
		log.Error("reply not persisted", "session_id", sc.SessionID, "error", err)
		b.sendMessage(msg.Chat.ID, reply.Content)
	case err != nil:
		log.Error("turn failed", "session_id", sc.SessionID, "error", err)
		b.sendMessage(msg.Chat.ID, noticeFailure)
	default:
		b.sendMessage(msg.Chat.ID, reply.Content)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "new":
		b.sessions.Reset(msg.Chat.ID)
		sc, err := b.startSession(ctx, msg)
		if err != nil {
			return
		}
		b.sendWithNewSessionButton(msg.Chat.ID, sc.Opening())
	default:
		b.sendMessage(msg.Chat.ID, noticeHelp)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// stop the button spinner whatever the outcome
	if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Warn("failed to answer callback", "callback_id", cb.ID, "error", err)
	}
	if cb.Data != newSessionCmd || cb.Message == nil || cb.From == nil {
		return
	}
	if !b.authSvc.IsAllowed(cb.From.ID) {
		return
	}
	b.sessions.Reset(cb.Message.Chat.ID)
	sc, err := b.startSession(ctx, &tgbotapi.Message{From: cb.From, Chat: cb.Message.Chat})
	if err != nil {
		return
	}
	b.sendWithNewSessionButton(cb.Message.Chat.ID, sc.Opening())
}

// startSession enrolls the sender and seeds a new session for the chat. On
// failure the user has already been notified.
func (b *Bot) startSession(ctx context.Context, msg *tgbotapi.Message) (*session.Context, error) {
	log := b.logger.With("account_id", msg.From.ID, "chat_id", msg.Chat.ID)
	user, err := b.authSvc.Enroll(ctx, auth.Account{
		ID:        msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	})
	if err != nil {
		log.Error("failed to enroll user", "error", err)
		b.sendMessage(msg.Chat.ID, noticeFailure)
		return nil, err
	}

	sc, err := b.builder.Build(ctx, user, b.now())
	if err != nil {
		log.Error("failed to start session", "error", err)
		if errors.Is(err, session.ErrDataUnavailable) {
			b.sendMessage(msg.Chat.ID, noticeUnavailable)
		} else {
			b.sendMessage(msg.Chat.ID, noticeFailure)
		}
		return nil, err
	}
	b.sessions.Put(msg.Chat.ID, sc)
	return sc, nil
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.s.Send(msg); err != nil {
		b.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) sendWithNewSessionButton(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("New conversation", newSessionCmd),
		),
	)
	if _, err := b.s.Send(msg); err != nil {
		b.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}
