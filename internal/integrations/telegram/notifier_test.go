package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"glucolink/internal/domain"
)

func reading(sgv int) domain.Reading {
	return domain.Reading{
		DeviceTimestamp: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		SGV:             sgv,
		Direction:       domain.DirectionFlat,
		Kind:            domain.ReadingKindSGV,
	}
}

func TestAlertIfOutOfRange_SendsOnLow(t *testing.T) {
	var got struct {
		ChatID string `json:"chat_id"`
		Text   string `json:"text"`
	}
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.HasSuffix(r.URL.Path, "/bottest-token/sendMessage") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("test-token", "chat-1", 70, 250)
	n.apiBase = srv.URL

	if err := n.AlertIfOutOfRange(context.Background(), reading(55)); err != nil {
		t.Fatalf("AlertIfOutOfRange: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 send, got %d", calls)
	}
	if got.ChatID != "chat-1" || !strings.Contains(got.Text, "LOW") || !strings.Contains(got.Text, "55") {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestAlertIfOutOfRange_SkipsInRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no message should be sent for an in-range reading")
	}))
	defer srv.Close()

	n := NewNotifier("test-token", "chat-1", 70, 250)
	n.apiBase = srv.URL

	if err := n.AlertIfOutOfRange(context.Background(), reading(120)); err != nil {
		t.Fatalf("AlertIfOutOfRange: %v", err)
	}
}

func TestAlertIfOutOfRange_UnconfiguredIsNoop(t *testing.T) {
	n := NewNotifier("", "", 70, 250)
	if err := n.AlertIfOutOfRange(context.Background(), reading(400)); err != nil {
		t.Fatalf("unconfigured notifier should be a no-op, got %v", err)
	}
}

func TestAlertIfOutOfRange_ServerErrorReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier("test-token", "chat-1", 70, 250)
	n.apiBase = srv.URL

	if err := n.AlertIfOutOfRange(context.Background(), reading(300)); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}
