// Package metrics содержит счётчики Prometheus движка расчётов.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

// Settlement группирует метрики расчётов. Методы безопасно вызывать на nil.
type Settlement struct {
	registry *prometheus.Registry

	BidsAccepted      prometheus.Counter
	StageCredits      *prometheus.CounterVec
	StageFailures     *prometheus.CounterVec
	InsufficientFunds prometheus.Counter
	Withdrawals       *prometheus.CounterVec
	OutboxPublished   *prometheus.CounterVec
}

// New создаёт метрики и регистрирует их в собственном реестре.
func New() *Settlement {
	m := &Settlement{
		registry: prometheus.NewRegistry(),
		BidsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_accepted_total",
			Help:      "Number of accepted bids.",
		}),
		StageCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_credits_total",
			Help:      "Number of stage payments credited to carriers.",
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Number of stage payments that failed after a status change.",
		}, []string{"stage"}),
		InsufficientFunds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insufficient_funds_total",
			Help:      "Number of debits rejected for insufficient balance.",
		}),
		Withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Number of payout withdrawals by outcome.",
		}, []string{"outcome"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Number of wallet events delivered to the notifier by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.BidsAccepted,
		m.StageCredits,
		m.StageFailures,
		m.InsufficientFunds,
		m.Withdrawals,
		m.OutboxPublished,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler возвращает HTTP-обработчик для /metrics.
func (m *Settlement) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BidAccepted учитывает принятую ставку.
func (m *Settlement) BidAccepted() {
	if m == nil {
		return
	}
	m.BidsAccepted.Inc()
}

// StageCredited учитывает зачисление этапа оплаты.
func (m *Settlement) StageCredited(stage string) {
	if m == nil {
		return
	}
	m.StageCredits.WithLabelValues(stage).Inc()
}

// StageFailed учитывает неудачное зачисление этапа оплаты.
func (m *Settlement) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage).Inc()
}

// FundsRejected учитывает списание, отклонённое из-за нехватки средств.
func (m *Settlement) FundsRejected() {
	if m == nil {
		return
	}
	m.InsufficientFunds.Inc()
}

// Withdrawal учитывает вывод средств с исходом outcome.
func (m *Settlement) Withdrawal(outcome string) {
	if m == nil {
		return
	}
	m.Withdrawals.WithLabelValues(outcome).Inc()
}

// EventPublished учитывает попытку доставки события кошелька.
func (m *Settlement) EventPublished(outcome string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(outcome).Inc()
}
