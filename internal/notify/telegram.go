// Package notify sends operator alerts for fleet-level events (circuit
// breaker trips, agents auto-disabled past maxFailures) that need a human,
// not just a log line. Adapted from the teacher's per-user
// internal/adapters/telegram/notifier.go: this core has one operator chat,
// not a per-user audience, so the template manager and user repository
// collapse into a single admin chat id.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/pkg/logger"
)

// Notifier is the alert sink the scheduler reports fleet events to.
type Notifier interface {
	CircuitBreakerTripped(ctx context.Context, tokenID, action, reason string)
	AgentDisabled(ctx context.Context, tokenID, lastError string)
}

// TelegramNotifier posts to a single admin chat. A nil *TelegramNotifier
// (unconfigured bot token) is never constructed; callers without a token
// get NoopNotifier instead.
type TelegramNotifier struct {
	api     *tgbotapi.BotAPI
	adminID int64
}

// NewTelegramNotifier dials the Telegram Bot API. Returns an error if the
// token is rejected, matching the teacher's fail-fast NewNotifier.
func NewTelegramNotifier(botToken string, adminID int64) (*TelegramNotifier, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}
	bot.Debug = false
	logger.Info("telegram notifier initialized", zap.String("bot_username", bot.Self.UserName))
	return &TelegramNotifier{api: bot, adminID: adminID}, nil
}

func (n *TelegramNotifier) CircuitBreakerTripped(ctx context.Context, tokenID, action, reason string) {
	n.send(fmt.Sprintf("⚠️ circuit breaker tripped\ntokenId=%s action=%s\n%s", tokenID, action, reason))
}

func (n *TelegramNotifier) AgentDisabled(ctx context.Context, tokenID, lastError string) {
	n.send(fmt.Sprintf("🛑 agent auto-disabled\ntokenId=%s\nlastError=%s", tokenID, lastError))
}

func (n *TelegramNotifier) send(text string) {
	if n.adminID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(n.adminID, text)
	if _, err := n.api.Send(msg); err != nil {
		logger.Warn("telegram send failed", zap.Error(err))
	}
}

// NoopNotifier discards every event; used when no bot token is configured.
type NoopNotifier struct{}

func (NoopNotifier) CircuitBreakerTripped(ctx context.Context, tokenID, action, reason string) {}
func (NoopNotifier) AgentDisabled(ctx context.Context, tokenID, lastError string)               {}
