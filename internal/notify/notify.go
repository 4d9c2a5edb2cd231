// Package notify tells buyers about settled orders and rentals through the Telegram Bot API.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the subset of *tgbotapi.BotAPI used for delivery.
type Sender interface {
	Send(message tgbotapi.Chattable) (tgbotapi.Message, error)
}

// FailureRecorder counts undelivered notifications.
type FailureRecorder interface {
	ObserveNotifyFailure()
}

// TelegramNotifier sends one chat message per terminal settlement.
type TelegramNotifier struct {
	sender   Sender
	logger   *zap.Logger
	recorder FailureRecorder
}

// NewTelegramNotifier connects to the Bot API with botToken.
func NewTelegramNotifier(botToken string, logger *zap.Logger, recorder FailureRecorder) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(strings.TrimSpace(botToken))
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	return NewNotifier(bot, logger, recorder), nil
}

// NewNotifier wraps an existing sender.
func NewNotifier(sender Sender, logger *zap.Logger, recorder FailureRecorder) *TelegramNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramNotifier{sender: sender, logger: logger, recorder: recorder}
}

// NotifySettlement delivers the message; Telegram chat ids equal user ids for private chats.
func (notifier *TelegramNotifier) NotifySettlement(ctx context.Context, notification storefront.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	message := tgbotapi.NewMessage(notification.Buyer.Int64(), FormatMessage(notification))
	if _, err := notifier.sender.Send(message); err != nil {
		if notifier.recorder != nil {
			notifier.recorder.ObserveNotifyFailure()
		}
		notifier.logger.Warn("buyer notification failed",
			zap.Int64("buyer", notification.Buyer.Int64()),
			zap.String("kind", string(notification.Kind)),
			zap.Int64("record_id", notification.RecordID.Int64()),
			zap.Error(err))
		return err
	}
	return nil
}

// FormatMessage renders the buyer-facing text.
func FormatMessage(notification storefront.Notification) string {
	subject := "Order"
	if notification.Kind == storefront.JobKindRental {
		subject = "Rental"
	}
	item := strings.TrimSpace(notification.Item)
	if item != "" {
		subject = fmt.Sprintf("%s %s", subject, item)
	}
	var builder strings.Builder
	switch notification.Status {
	case storefront.StatusConfirmed:
		fmt.Fprintf(&builder, "✅ %s confirmed. Paid %s TON.", subject, notification.Amount.TON())
		if notification.ExpiresAt != nil {
			fmt.Fprintf(&builder, " Active until %s.", notification.ExpiresAt.UTC().Format(time.RFC1123))
		}
	default:
		fmt.Fprintf(&builder, "❌ %s failed: %s.", subject, describeFailure(notification.FailureReason))
	}
	return builder.String()
}

func describeFailure(reason string) string {
	switch reason {
	case storefront.FailureUnverified:
		return "payment was not found on the network"
	case storefront.FailureSoldOut:
		return "the item sold out before your payment confirmed"
	case storefront.FailureOccupied:
		return "the username was rented by someone else first"
	case "":
		return "unknown reason"
	default:
		return "an internal error occurred"
	}
}

// Noop discards notifications.
type Noop struct{}

func (Noop) NotifySettlement(context.Context, storefront.Notification) error {
	return nil
}
