package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"hookgate/internal/events"
	"hookgate/internal/queue"
)

// mockQueue is a mock implementation of DeliveryQueuer for testing.
type mockQueue struct {
	enqueueFn func(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

func (m *mockQueue) Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, req)
	}
	return "test-delivery-id", nil
}

func testServer(t *testing.T, secret string, mq *mockQueue) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(Config{
		Listen:      "127.0.0.1:0",
		Path:        "/webhook/github",
		Secret:      secret,
		MaxBodySize: DefaultMaxBodySize,
	}, mq, events.NewHub(16), logger)
}

func signedHeader(secret string, body []byte) string {
	return "sha1=" + expectedDigest(secret, body)
}

func TestHandleDelivery_ValidSignature(t *testing.T) {
	secret := "secret"
	body := []byte(`{"whats":"updog"}`)

	mq := &mockQueue{
		enqueueFn: func(ctx context.Context, req queue.EnqueueRequest) (string, error) {
			if req.Event != "push" {
				t.Errorf("Event = %q, want push", req.Event)
			}
			if req.GitHubDeliveryID != "gh-123" {
				t.Errorf("GitHubDeliveryID = %q, want gh-123", req.GitHubDeliveryID)
			}
			if !bytes.Equal(req.Payload, body) {
				t.Errorf("Payload = %q, want byte-exact %q", req.Payload, body)
			}
			if len(req.DedupeKey) != 64 { // BLAKE3-256 hex
				t.Errorf("DedupeKey = %q, want 64 hex chars", req.DedupeKey)
			}
			return "delivery-123", nil
		},
	}
	server := testServer(t, secret, mq)

	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature", signedHeader(secret, body))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-GitHub-Delivery", "gh-123")
	rec := httptest.NewRecorder()

	server.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	var resp AcceptedResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DeliveryID != "delivery-123" {
		t.Errorf("DeliveryID = %q, want delivery-123", resp.DeliveryID)
	}
}

func TestHandleDelivery_SignatureHeaderCaseInsensitive(t *testing.T) {
	secret := "secret"
	body := []byte(`{"event":"push"}`)
	server := testServer(t, secret, &mockQueue{})

	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-hub-signature", signedHeader(secret, body))
	rec := httptest.NewRecorder()

	server.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestHandleDelivery_InvalidSignature(t *testing.T) {
	secret := "secret"
	body := []byte(`{"whats":"updog"}`)

	mq := &mockQueue{
		enqueueFn: func(ctx context.Context, req queue.EnqueueRequest) (string, error) {
			t.Fatal("Enqueue should not be called with invalid signature")
			return "", nil
		},
	}
	server := testServer(t, secret, mq)

	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature", "sha1=thisisatest")
	rec := httptest.NewRecorder()

	server.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := rec.Body.String(); got != "Not Authorized" {
		t.Errorf("body = %q, want %q", got, "Not Authorized")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestHandleDelivery_MissingSignature(t *testing.T) {
	mq := &mockQueue{
		enqueueFn: func(ctx context.Context, req queue.EnqueueRequest) (string, error) {
			t.Fatal("Enqueue should not be called without signature")
			return "", nil
		},
	}
	server := testServer(t, "secret", mq)

	req := httptest.NewRequest("POST", "/webhook/github", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	// No signature header set
	rec := httptest.NewRecorder()

	server.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleDelivery_MalformedJSONSameRejection(t *testing.T) {
	secret := "secret"
	body := []byte(`{"broken":`)
	server := testServer(t, secret, &mockQueue{
		enqueueFn: func(ctx context.Context, req queue.EnqueueRequest) (string, error) {
			t.Fatal("Enqueue should not be called for malformed body")
			return "", nil
		},
	})

	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature", signedHeader(secret, body))
	rec := httptest.NewRecorder()

	server.setupRoutes().ServeHTTP(rec, req)

	// Parse failures are indistinguishable from signature failures.
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := rec.Body.String(); got != "Not Authorized" {
		t.Errorf("body = %q, want %q", got, "Not Authorized")
	}
}

func TestHandleDelivery_BodyTooLargeSameRejection(t *testing.T) {
	secret := "secret"
	body := bytes.Repeat([]byte("a"), 2048)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	server := New(Config{
		Listen:      "127.0.0.1:0",
		Path:        "/webhook/github",
		Secret:      secret,
		MaxBodySize: 1024,
	}, &mockQueue{}, events.NewHub(16), logger)

	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature", signedHeader(secret, body))
	rec := httptest.NewRecorder()

	server.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := rec.Body.String(); got != "Not Authorized" {
		t.Errorf("body = %q, want %q", got, "Not Authorized")
	}
}

func TestHandleDelivery_NonJSONContentTypeUnverifiable(t *testing.T) {
	// Form bodies bypass decoding, so the raw capture is empty and a
	// signature over the form bytes can never match.
	secret := "secret"
	body := []byte("a=1&b=2")
	server := testServer(t, secret, &mockQueue{
		enqueueFn: func(ctx context.Context, req queue.EnqueueRequest) (string, error) {
			t.Fatal("Enqueue should not be called for unverifiable body")
			return "", nil
		},
	})

	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Hub-Signature", signedHeader(secret, body))
	rec := httptest.NewRecorder()

	server.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleDelivery_EnqueueFailure(t *testing.T) {
	secret := "secret"
	body := []byte(`{"event":"push"}`)
	server := testServer(t, secret, &mockQueue{
		enqueueFn: func(ctx context.Context, req queue.EnqueueRequest) (string, error) {
			return "", errors.New("disk full")
		},
	})

	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature", signedHeader(secret, body))
	rec := httptest.NewRecorder()

	server.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	// Generic message only; the cause stays in the logs.
	if resp.Error != "failed to record delivery" {
		t.Errorf("Error = %q", resp.Error)
	}
}

func TestHandleDelivery_GetNotRouted(t *testing.T) {
	server := testServer(t, "secret", &mockQueue{})

	req := httptest.NewRequest("GET", "/webhook/github", nil)
	rec := httptest.NewRecorder()

	server.setupRoutes().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestFromGlobalConfigParsesSizes(t *testing.T) {
	tests := []struct {
		size    string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"1MB", 1024 * 1024, false},
		{"512KB", 512 * 1024, false},
		{"2048576", 2048576, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.size, func(t *testing.T) {
			got, err := parseMaxBodySize(tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseMaxBodySize(%q) error = %v, wantErr %v", tt.size, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseMaxBodySize(%q) = %d, want %d", tt.size, got, tt.want)
			}
		})
	}
}
