package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Settlement) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestSettlement_Counters(t *testing.T) {
	m := New()

	m.BidAccepted()
	m.StageCredited("accepted")
	m.StageCredited("accepted")
	m.StageFailed("completed")
	m.FundsRejected()

	body := scrape(t, m)
	assert.Contains(t, body, "settlement_bids_accepted_total 1")
	assert.Contains(t, body, `settlement_stage_credits_total{stage="accepted"} 2`)
	assert.Contains(t, body, `settlement_stage_failures_total{stage="completed"} 1`)
	assert.Contains(t, body, "settlement_insufficient_funds_total 1")
}

func TestSettlement_NilIsNoop(t *testing.T) {
	var m *Settlement

	assert.NotPanics(t, func() {
		m.BidAccepted()
		m.StageCredited("accepted")
		m.FundsRejected()
		m.Withdrawal("success")
		m.EventPublished("success")
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
