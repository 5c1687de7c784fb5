package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestTelegram(t *testing.T, handler http.Handler) *TelegramService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &TelegramService{
		baseURL: srv.URL,
		token:   "test-token",
		client:  &http.Client{Timeout: 2 * time.Second},
	}
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}

	s := newTestTelegram(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(apiEnvelope{OK: true})
	}))

	err := s.SendMessage("12345", "hello", InlineButton{Label: "Go", Action: "go"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotPayload["chat_id"] != "12345" || gotPayload["text"] != "hello" {
		t.Errorf("unexpected payload: %v", gotPayload)
	}
	if gotPayload["reply_markup"] == nil {
		t.Error("expected inline keyboard in payload")
	}
}

func TestSendMessageBlockedRecipient(t *testing.T) {
	s := newTestTelegram(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(apiEnvelope{OK: false, ErrorCode: 403, Description: "bot was blocked by the user"})
	}))

	err := s.SendMessage("12345", "hello")
	if !errors.Is(err, ErrRecipientUnreachable) {
		t.Fatalf("SendMessage error = %v; want ErrRecipientUnreachable", err)
	}
}

func TestGetUpdates(t *testing.T) {
	s := newTestTelegram(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, _ := json.Marshal([]TelegramUpdate{
			{UpdateID: 7, Callback: &TelegramCallback{ID: "cb1", Data: "buy", From: TelegramUser{ID: 99, Username: "buyer"}}},
		})
		json.NewEncoder(w).Encode(apiEnvelope{OK: true, Result: result})
	}))

	updates, err := s.GetUpdates(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 1 || updates[0].UpdateID != 7 {
		t.Fatalf("unexpected updates: %+v", updates)
	}
	if updates[0].Callback == nil || updates[0].Callback.Data != "buy" {
		t.Errorf("callback not decoded: %+v", updates[0])
	}
}
