package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zulandar/roundhouse/internal/conversation"
)

func TestWebhook_PostsJSON(t *testing.T) {
	var got Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookOpts{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	m := conversation.NewMessage(conversation.AuthorPM, "plan")
	if err := wh.Notify(context.Background(), MessageEvent("t1", conversation.VariantPipeline, m)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Type != EventMessage || got.TaskID != "t1" || got.Message == nil || got.Message.Content != "plan" {
		t.Errorf("received = %+v", got)
	}
	if auth != "Bearer t" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh, _ := NewWebhook(WebhookOpts{URL: srv.URL})
	if err := wh.Notify(context.Background(), Event{Type: EventSettled, TaskID: "t1"}); err == nil {
		t.Fatal("expected error for 500")
	}
}

func TestNewWebhook_RequiresURL(t *testing.T) {
	if _, err := NewWebhook(WebhookOpts{}); err == nil {
		t.Error("expected error for empty URL")
	}
}
