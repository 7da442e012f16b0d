package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cybercyphers/cyphbeta/internal/backend"
)

func TestAPIClient_SendText_Success(t *testing.T) {
	t.Parallel()

	var (
		method, contentType, authz string
		body                       []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		authz = r.Header.Get("Authorization")
		body, _ = io.ReadAll(r.Body)

		if r.URL.Path != "/v1/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"Accepted","messageId":"abc-123"}`))
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL+"/", srv.Client(), "tok")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	id, err := c.SendText(ctx, "233200000000@s.whatsapp.net", "hello")
	if err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	if id != "abc-123" {
		t.Fatalf("expected messageId %q, got %q", "abc-123", id)
	}
	if method != http.MethodPost || contentType != "application/json" {
		t.Fatalf("unexpected request %s %q", method, contentType)
	}
	if authz != "Bearer tok" {
		t.Fatalf("expected bearer token, got %q", authz)
	}

	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(body))
	}
	if req.Chat != "233200000000@s.whatsapp.net" || req.Text != "hello" {
		t.Fatalf("unexpected request body: %+v", req)
	}
}

func TestAPIClient_SendText_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   []string
	}{
		{"non-202", http.StatusOK, "not accepted", []string{"unexpected status code: 200", `body="not accepted"`}},
		{"invalid json", http.StatusAccepted, "THIS IS NOT JSON", []string{"failed to decode json", `body="THIS IS NOT JSON"`}},
		{"missing id", http.StatusAccepted, `{"message":"Accepted"}`, []string{"missing messageId"}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newAPIClient(srv.URL, srv.Client(), "").SendText(context.Background(), "c", "hi")
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Fatalf("expected error to contain %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestAPIClient_SendText_NoTokenNoHeader(t *testing.T) {
	t.Parallel()

	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"messageId":"x"}`))
	}))
	defer srv.Close()

	if _, err := newAPIClient(srv.URL, srv.Client(), "").SendText(context.Background(), "c", "hi"); err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	if authz != "" {
		t.Fatalf("expected no Authorization header, got %q", authz)
	}
}

func TestAPIClient_Presence(t *testing.T) {
	t.Parallel()

	var got presenceRequest
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL, srv.Client(), "")
	if err := c.SendPresence(context.Background(), backend.PresenceUnavailable); err != nil {
		t.Fatalf("SendPresence() error: %v", err)
	}
	if got.Presence != backend.PresenceUnavailable {
		t.Fatalf("unexpected presence %q", got.Presence)
	}

	status = http.StatusBadGateway
	if err := c.SendPresence(context.Background(), backend.PresenceAvailable); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestAPIClient_RequestPairingCode(t *testing.T) {
	t.Parallel()

	var got pairingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.Phone == "" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"code":"ABCD-EFGH"}`))
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL, srv.Client(), "")
	code, err := c.RequestPairingCode(context.Background(), "233200000000")
	if err != nil {
		t.Fatalf("RequestPairingCode() error: %v", err)
	}
	if code != "ABCD-EFGH" || got.Phone != "233200000000" {
		t.Fatalf("unexpected code %q for phone %q", code, got.Phone)
	}

	if _, err := c.RequestPairingCode(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "missing code") {
		t.Fatalf("expected missing code error, got %v", err)
	}
}
