package payout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	tokenCalls    atomic.Int32
	transferCalls atomic.Int32
	rejectFirst   bool
}

func (f *fakeProvider) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode token request: %v", err)
		}
		if body["client_id"] != "id" || body["client_secret"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('0'+n)),
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/transfers", func(w http.ResponseWriter, r *http.Request) {
		n := f.transferCalls.Add(1)
		if f.rejectFirst && n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Idempotency-Key") == "" {
			t.Errorf("missing Idempotency-Key")
		}
		if r.Header.Get("Authorization") == "" {
			t.Errorf("missing Authorization")
		}

		var req TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode transfer: %v", err)
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Receipt{ID: "tr-1", Status: "processing"})
	})
	return mux
}

func TestClient_TransferReusesToken(t *testing.T) {
	fp := &fakeProvider{}
	ts := httptest.NewServer(fp.handler(t))
	defer ts.Close()

	c := NewClient(ts.URL, "id", "secret", NewTokenCache(time.Hour))

	for i := 0; i < 3; i++ {
		receipt, err := c.Transfer(context.Background(), TransferRequest{
			IdempotencyKey: "key",
			Amount:         decimal.NewFromInt(100),
			Currency:       "RUB",
			Destination:    BankAccount{AccountNumber: "40817", BankCode: "044525225"},
		})
		require.NoError(t, err)
		assert.Equal(t, "tr-1", receipt.ID)
	}

	assert.EqualValues(t, 1, fp.tokenCalls.Load())
	assert.EqualValues(t, 3, fp.transferCalls.Load())
}

func TestClient_RefreshesTokenOnUnauthorized(t *testing.T) {
	fp := &fakeProvider{rejectFirst: true}
	ts := httptest.NewServer(fp.handler(t))
	defer ts.Close()

	c := NewClient(ts.URL, "id", "secret", NewTokenCache(time.Hour))

	_, err := c.Transfer(context.Background(), TransferRequest{IdempotencyKey: "key", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	assert.EqualValues(t, 2, fp.tokenCalls.Load())
	assert.EqualValues(t, 2, fp.transferCalls.Load())
}

func TestClient_BadCredentials(t *testing.T) {
	fp := &fakeProvider{}
	ts := httptest.NewServer(fp.handler(t))
	defer ts.Close()

	c := NewClient(ts.URL, "id", "wrong", NewTokenCache(time.Hour))

	_, err := c.Transfer(context.Background(), TransferRequest{IdempotencyKey: "key", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.EqualValues(t, 0, fp.transferCalls.Load())
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("", "id", "secret", NewTokenCache(time.Hour))

	_, err := c.Transfer(context.Background(), TransferRequest{})
	require.Error(t, err)
}
