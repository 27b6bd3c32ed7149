package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-consensus/internal/models"
)

// fakeSender implements Sender for tests
type fakeSender struct {
	fail  int // number of times to fail before succeeding
	calls int
}

func (f *fakeSender) Deliver(ctx context.Context, n models.Notification) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("deliver fail")
	}
	return nil
}

func TestDeliverWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeSender{fail: 2}
	n := models.Notification{ID: "n1", UserID: "u1", Kind: models.NotifySurveyCreated}
	start := time.Now()
	if err := deliverWithRetry(context.Background(), f, n, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestDeliverWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeSender{fail: 5}
	n := models.Notification{ID: "n1", UserID: "u1", Kind: models.NotifySurveyReminder}
	if err := deliverWithRetry(context.Background(), f, n, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
