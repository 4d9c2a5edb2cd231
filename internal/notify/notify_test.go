package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type recordingSender struct {
	messages []tgbotapi.MessageConfig
	err      error
}

func (sender *recordingSender) Send(message tgbotapi.Chattable) (tgbotapi.Message, error) {
	if config, ok := message.(tgbotapi.MessageConfig); ok {
		sender.messages = append(sender.messages, config)
	}
	return tgbotapi.Message{}, sender.err
}

type countingRecorder struct {
	failures int
}

func (recorder *countingRecorder) ObserveNotifyFailure() {
	recorder.failures++
}

func TestNotifySettlementSendsToBuyer(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	notifier := NewNotifier(sender, nil, nil)
	expiresAt := time.Date(2025, time.March, 8, 12, 0, 0, 0, time.UTC)

	err := notifier.NotifySettlement(context.Background(), storefront.Notification{
		Kind:      storefront.JobKindRental,
		RecordID:  9,
		Buyer:     4242,
		Item:      "@rare",
		Status:    storefront.StatusConfirmed,
		Amount:    5_000_000_000,
		ExpiresAt: &expiresAt,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.messages) != 1 || sender.messages[0].ChatID != 4242 {
		t.Fatalf("unexpected messages %+v", sender.messages)
	}
	text := sender.messages[0].Text
	if !strings.Contains(text, "Rental @rare confirmed") || !strings.Contains(text, "5 TON") || !strings.Contains(text, "08 Mar 2025") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestNotifySettlementCountsFailures(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{err: errors.New("blocked by user")}
	recorder := &countingRecorder{}
	notifier := NewNotifier(sender, nil, recorder)

	err := notifier.NotifySettlement(context.Background(), storefront.Notification{Kind: storefront.JobKindOrder, Buyer: 1, Status: storefront.StatusFailed, FailureReason: storefront.FailureSoldOut})
	if err == nil || recorder.failures != 1 {
		t.Fatalf("expected recorded failure, got %v (%d)", err, recorder.failures)
	}
	if !strings.Contains(sender.messages[0].Text, "sold out") {
		t.Fatalf("unexpected text %q", sender.messages[0].Text)
	}
}

func TestFormatMessageFailureReasons(t *testing.T) {
	t.Parallel()
	for reason, fragment := range map[string]string{
		storefront.FailureUnverified: "not found",
		storefront.FailureOccupied:   "rented by someone else",
		storefront.FailureInternal:   "internal error",
	} {
		text := FormatMessage(storefront.Notification{Kind: storefront.JobKindOrder, Status: storefront.StatusFailed, FailureReason: reason})
		if !strings.Contains(text, fragment) {
			t.Fatalf("%s: unexpected text %q", reason, text)
		}
	}
}
