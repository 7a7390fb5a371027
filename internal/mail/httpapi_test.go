package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "telepost/pkg/logx"
)

func TestHTTPAPISend(t *testing.T) {
	t.Parallel()
	var got struct {
		From    string   `json:"from"`
		To      []string `json:"to"`
		Subject string   `json:"subject"`
		Text    string   `json:"text"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"queued"}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPAPI(HTTPConfig{
		Endpoint: srv.URL,
		APIKey:   "k",
		From:     "relay@example.com",
		To:       []string{"in@example.com"},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTPAPI: %v", err)
	}

	err = tr.Send(context.Background(), Message{Subject: "s", Body: "b", Attachments: []string{"/tmp/ignored"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer k" {
		t.Fatalf("Authorization = %q", auth)
	}
	if got.From != "relay@example.com" || got.Subject != "s" || got.Text != "b" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestHTTPAPISendErrorDetail(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad recipient"}`))
	}))
	defer srv.Close()

	tr, err := NewHTTPAPI(HTTPConfig{Endpoint: srv.URL, From: "f", To: []string{"t"}}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTPAPI: %v", err)
	}
	err = tr.Send(context.Background(), Message{Subject: "s"})
	if err == nil {
		t.Fatal("non-2xx must be an error")
	}
	if got := err.Error(); !strings.Contains(got, "bad recipient") {
		t.Fatalf("error %q missing provider detail", got)
	}
}

func TestNewHTTPAPIRequiresEndpoint(t *testing.T) {
	t.Parallel()
	if _, err := NewHTTPAPI(HTTPConfig{}, logx.Nop()); err == nil {
		t.Fatal("empty endpoint must be rejected")
	}
}
