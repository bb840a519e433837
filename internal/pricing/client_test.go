package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGetEstimate_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/estimates" {
			t.Errorf("path = %s, want /api/estimates", r.URL.Path)
		}

		var route Route
		if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
			t.Errorf("decode: %v", err)
		}
		if route.Origin != "Moscow" || route.Destination != "Kazan" {
			t.Errorf("unexpected route: %+v", route)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"estimatedCost":"50000.00","currency":"RUB"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetEstimate(ctx, Route{Origin: "Moscow", Destination: "Kazan"})
	if err != nil {
		t.Fatalf("GetEstimate error: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", code, http.StatusOK)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
	if !res.EstimatedCost.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("estimatedCost = %s, want 50000", res.EstimatedCost)
	}
}

func TestGetEstimate_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, code, retry, err := client.GetEstimate(ctx, Route{Origin: "a", Destination: "b"})
	if err != nil {
		t.Fatalf("GetEstimate error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil response for 429, got %+v", res)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}
}

func TestEstimate_RetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"estimatedCost":"1234.567"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	got, err := client.Estimate(context.Background(), Route{Origin: "a", Destination: "b"})
	if err != nil {
		t.Fatalf("Estimate error: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("1234.57")) {
		t.Fatalf("Estimate = %s, want 1234.57", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestEstimate_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	if _, err := client.Estimate(context.Background(), Route{Origin: "a", Destination: "b"}); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != maxAttempts {
		t.Fatalf("calls = %d, want %d", calls.Load(), maxAttempts)
	}
}

func TestEstimate_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	if _, err := client.Estimate(context.Background(), Route{Origin: "a", Destination: "b"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEstimate_NotConfigured(t *testing.T) {
	var client *Client
	if _, err := client.Estimate(context.Background(), Route{}); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
