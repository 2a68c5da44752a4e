package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"alertflow/internal/routing"
)

func TestWebhookDeliverStatusMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		permanent bool
	}{
		{name: "ok", status: http.StatusOK, wantErr: false},
		{name: "accepted", status: http.StatusAccepted, wantErr: false},
		{name: "bad request", status: http.StatusBadRequest, wantErr: true, permanent: true},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: true, permanent: false},
		{name: "gateway down", status: http.StatusBadGateway, wantErr: true, permanent: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			wh, err := NewWebhook(WebhookConfig{Name: "sms", URL: srv.URL})
			if err != nil {
				t.Fatalf("NewWebhook: %v", err)
			}
			err = wh.Deliver(context.Background(), "acme", Message{Text: "hi"})
			if tt.wantErr != (err != nil) {
				t.Fatalf("Deliver err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && IsPermanent(err) != tt.permanent {
				t.Fatalf("IsPermanent(%v) = %v, want %v", err, IsPermanent(err), tt.permanent)
			}
		})
	}
}

func TestWebhookPayloadAndAuth(t *testing.T) {
	t.Parallel()
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{Name: "voice", URL: srv.URL, Token: "s3cret"})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	msg := Message{Text: "budget drained", Decision: true, Aggregate: false}
	if err := wh.Deliver(context.Background(), "acme", msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if auth != "Bearer s3cret" {
		t.Fatalf("Authorization = %q", auth)
	}
	if got.ClientID != "acme" || got.Text != "budget drained" || !got.Decision {
		t.Fatalf("payload = %+v", got)
	}
}

func TestWebhookRequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := NewWebhook(WebhookConfig{Name: "x"}); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestInboxRing(t *testing.T) {
	t.Parallel()
	in := NewInbox(3)
	for i := 0; i < 5; i++ {
		if err := in.Deliver(context.Background(), "acme", Message{Text: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	got := in.Snapshot("acme")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Text != "m2" || got[2].Text != "m4" {
		t.Fatalf("ring order wrong: %+v", got)
	}
	if in.Snapshot("other") != nil {
		t.Fatal("expected nil snapshot for unknown client")
	}
}

type stubAdapter struct {
	name  string
	calls atomic.Int64
	err   error
}

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Deliver(context.Context, string, Message) error {
	s.calls.Add(1)
	return s.err
}

func TestRegistryDeliver(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	stub := &stubAdapter{name: "stub"}
	reg.Register(routing.ChannelTeamChat, stub, 0)

	if !reg.Has(routing.ChannelTeamChat) {
		t.Fatal("Has = false after Register")
	}
	if err := reg.Deliver(context.Background(), routing.ChannelTeamChat, "acme", Message{Text: "x"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if stub.calls.Load() != 1 {
		t.Fatalf("calls = %d", stub.calls.Load())
	}

	err := reg.Deliver(context.Background(), routing.ChannelUrgentVoice, "acme", Message{Text: "x"})
	if !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("err = %v, want ErrNoAdapter", err)
	}
	if !IsPermanent(err) {
		t.Fatal("missing adapter should be permanent")
	}

	reg.Unregister(routing.ChannelTeamChat)
	if reg.Has(routing.ChannelTeamChat) {
		t.Fatal("Has = true after Unregister")
	}
}

func TestRegistryRateLimit(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	stub := &stubAdapter{name: "stub"}
	// 1/sec with burst 1: the second send must wait ~1s; a short deadline
	// should abort it instead.
	reg.Register(routing.ChannelUrgentText, stub, 1)

	if err := reg.Deliver(context.Background(), routing.ChannelUrgentText, "acme", Message{Text: "a"}); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := reg.Deliver(ctx, routing.ChannelUrgentText, "acme", Message{Text: "b"}); err == nil {
		t.Fatal("expected rate limiter to block second send past the deadline")
	}
	if stub.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", stub.calls.Load())
	}
}

func TestRenderChatText(t *testing.T) {
	t.Parallel()
	got := renderChatText("acme", Message{Text: "approve?", Decision: true})
	if got == "" || got[len(got)-8:] != "approve?" {
		t.Fatalf("render = %q", got)
	}
	if renderChatText("", Message{}) != "\U0001f514" {
		t.Fatalf("empty render = %q", renderChatText("", Message{}))
	}
}
