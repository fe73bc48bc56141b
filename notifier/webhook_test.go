package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	appconfig "feeseller/config"
	"feeseller/models"
)

func testNotifier(url string, maxRetries int) *Webhook_Notifier {
	cfg := &appconfig.Config{
		Notifier: appconfig.NotifierConfig{
			Timeout:    time.Second,
			MaxRetries: maxRetries,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		},
	}
	cfg.Env.WebhookURL = url
	return Webhook_NewNotifier(cfg)
}

func testOutcome() *models.CycleOutcome {
	return &models.CycleOutcome{
		CycleID:  "cycle-1",
		Network:  "mainnet",
		Severity: models.SeverityInfo,
	}
}

func TestNotifyDeliversJSON(t *testing.T) {
	var received models.CycleOutcome
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := testNotifier(server.URL, 0)
	if err := n.Notify(context.Background(), testOutcome()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if received.CycleID != "cycle-1" {
		t.Errorf("unexpected payload: %+v", received)
	}
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := testNotifier(server.URL, 5)
	if err := n.Notify(context.Background(), testOutcome()); err != nil {
		t.Fatalf("Notify failed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestNotifyExhaustedRetriesReturnNotificationError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := testNotifier(server.URL, 2)
	err := n.Notify(context.Background(), testOutcome())
	if err == nil {
		t.Fatal("expected an error after exhausted retries")
	}
	var nErr *NotificationError
	if !errors.As(err, &nErr) {
		t.Fatalf("expected *NotificationError, got %T", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestNotifyHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := testNotifier(server.URL, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.Notify(ctx, testOutcome())
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	var nErr *NotificationError
	if !errors.As(err, &nErr) {
		t.Fatalf("expected *NotificationError, got %T", err)
	}
}
