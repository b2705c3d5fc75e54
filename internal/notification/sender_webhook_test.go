package notification

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestDeliverSignsBodyWhenSecretPresent(t *testing.T) {
	var gotSig, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Timetablex-Signature")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(DefaultConfig())
	jobID := uuid.New()
	if err := s.Deliver(context.Background(), srv.URL, "shh", jobID); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotSig == "" {
		t.Error("expected a signature header")
	}
	expected := "sha256=" + hmacSHA256([]byte(gotBody), "shh")
	if gotSig != expected {
		t.Errorf("signature = %q, want %q", gotSig, expected)
	}
}

func TestDeliverSkipsSignatureWithNoSecret(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Timetablex-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(DefaultConfig())
	if err := s.Deliver(context.Background(), srv.URL, "", uuid.New()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotSig != "" {
		t.Errorf("expected no signature header, got %q", gotSig)
	}
}

func TestDeliverReturnsErrOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSender(DefaultConfig())
	err := s.Deliver(context.Background(), srv.URL, "", uuid.New())
	if err == nil {
		t.Fatal("expected an error on a 500 response")
	}
}
