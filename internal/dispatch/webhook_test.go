package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/config"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/models"
)

func webhookJob() *models.OutboundJob {
	return &models.OutboundJob{
		JobID:          "job-1",
		TenantID:       "t1",
		ConversationID: "c1",
		Payload:        `{"text":"hello"}`,
		Attempts:       1,
	}
}

func TestWebhookTransport_RequiresURL(t *testing.T) {
	if _, err := NewWebhookTransport(config.ProviderConfig{}); err == nil {
		t.Fatal("expected error for empty provider url")
	}
}

func TestWebhookTransport_Send(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := NewWebhookTransport(config.ProviderConfig{URL: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if err := tr.Send(context.Background(), webhookJob()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.JobID != "job-1" || got.TenantID != "t1" || got.Payload != `{"text":"hello"}` {
		t.Errorf("provider saw %+v", got)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", auth)
	}
}

func TestWebhookTransport_StatusClassification(t *testing.T) {
	cases := []struct {
		status         int
		wantValidation bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		tr, err := NewWebhookTransport(config.ProviderConfig{URL: srv.URL})
		if err != nil {
			t.Fatalf("new transport: %v", err)
		}
		err = tr.Send(context.Background(), webhookJob())
		srv.Close()
		if err == nil {
			t.Errorf("status %d: expected error", tc.status)
			continue
		}
		if IsValidation(err) != tc.wantValidation {
			t.Errorf("status %d: IsValidation = %v, want %v (%v)", tc.status, IsValidation(err), tc.wantValidation, err)
		}
	}
}

func TestLogTransport(t *testing.T) {
	if err := (LogTransport{}).Send(context.Background(), webhookJob()); err != nil {
		t.Fatalf("dry-run send: %v", err)
	}
}
