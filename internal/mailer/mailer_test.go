package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type stubMailer struct {
	err   error
	calls int
}

func (s *stubMailer) Send(ctx context.Context, msg Message) error {
	s.calls++
	return s.err
}

func TestChainFallsBackOnError(t *testing.T) {
	first := &stubMailer{err: errors.New("smtp down")}
	second := &stubMailer{}

	chain := NewChain(zap.NewNop(), first, second)

	err := chain.Send(context.Background(), Message{To: "u@example.com", Subject: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("calls = (%d, %d), want (1, 1)", first.calls, second.calls)
	}
}

func TestChainReturnsLastError(t *testing.T) {
	first := &stubMailer{err: errors.New("smtp down")}
	second := &stubMailer{err: errors.New("api down")}

	chain := NewChain(zap.NewNop(), first, second)

	if err := chain.Send(context.Background(), Message{To: "u@example.com"}); err == nil {
		t.Fatalf("expected error when all transports fail")
	}
}

func TestChainEmpty(t *testing.T) {
	chain := NewChain(zap.NewNop())
	if err := chain.Send(context.Background(), Message{}); err == nil {
		t.Fatalf("expected error for empty chain")
	}
}

func TestLogMailerAlwaysSucceeds(t *testing.T) {
	m := NewLogMailer(zap.NewNop())
	if err := m.Send(context.Background(), Message{To: "u@example.com"}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestResendMailerSendsRequest(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewResendMailer("test-key", "Loyalty <no-reply@example.com>")
	m.endpoint = srv.URL

	err := m.Send(context.Background(), Message{
		To:      "u@example.com",
		Subject: "Verify",
		HTML:    "<p>hello</p>",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.To != "u@example.com" || got.Subject != "Verify" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.Text == "" {
		t.Fatalf("text alternative must be derived from html")
	}
}

func TestResendMailerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	m := NewResendMailer("test-key", "no-reply@example.com")
	m.endpoint = srv.URL

	if err := m.Send(context.Background(), Message{To: "u@example.com"}); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}
