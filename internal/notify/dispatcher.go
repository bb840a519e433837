// Package notify доставляет события кошелька из исходящей очереди в сервис уведомлений.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/mmeshcher/freight-settlement/internal/metrics"
	"github.com/mmeshcher/freight-settlement/internal/model"
)

const batchSize = 100

// claimLease задаёт, на сколько захваченное событие скрыто от других обработчиков.
// Должна превышать время доставки пачки, иначе событие уйдёт повторно.
const claimLease = 10 * time.Minute

// Repository описывает исходящую очередь событий.
type Repository interface {
	ClaimWalletEvents(ctx context.Context, limit int, lease time.Duration) ([]model.WalletEvent, error)
	MarkWalletEventPublished(ctx context.Context, id uuid.UUID) error
	MarkWalletEventFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Dispatcher периодически забирает события из очереди и отправляет их POST-запросом.
type Dispatcher struct {
	repo       Repository
	url        string
	httpClient *http.Client
	interval   time.Duration
	backoff    *backoff.Backoff
	logger     *zap.Logger
	metrics    *metrics.Settlement
}

// NewDispatcher создаёт диспетчер. m может быть nil.
func NewDispatcher(repo Repository, url string, interval time.Duration, logger *zap.Logger, m *metrics.Settlement) *Dispatcher {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		repo: repo,
		url:  url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		interval: interval,
		backoff: &backoff.Backoff{
			Min:    interval,
			Max:    time.Minute,
			Factor: 2,
			Jitter: true,
		},
		logger:  logger,
		metrics: m,
	}
}

// Run обрабатывает очередь до отмены ctx. После неудачной доставки
// следующая попытка откладывается по экспоненте.
func (d *Dispatcher) Run(ctx context.Context) error {
	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		failed, err := d.ProcessBatch(ctx)
		if err != nil {
			d.logger.Error("process wallet events", zap.Error(err))
		}

		next := d.interval
		if err != nil || failed > 0 {
			next = d.backoff.Duration()
			d.logger.Debug("notifier backoff", zap.Duration("delay", next), zap.Float64("attempt", d.backoff.Attempt()))
		} else {
			d.backoff.Reset()
		}
		timer.Reset(next)
	}
}

// ProcessBatch отправляет одну пачку событий и возвращает число неудачных доставок.
// Захват пачки и отметки о доставке выполняются короткими операциями хранилища,
// HTTP-запросы идут вне транзакций.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	events, err := d.repo.ClaimWalletEvents(ctx, batchSize, claimLease)
	if err != nil {
		return 0, fmt.Errorf("claim wallet events: %w", err)
	}

	failed := 0
	for _, e := range events {
		if err := d.publish(ctx, e); err != nil {
			failed++
			d.metrics.EventPublished("failed")
			d.logger.Warn("publish wallet event",
				zap.Stringer("event", e.ID),
				zap.Int("attempts", e.Attempts+1),
				zap.Error(err))
			if err := d.repo.MarkWalletEventFailed(ctx, e.ID, err.Error()); err != nil {
				return failed, err
			}
			continue
		}

		d.metrics.EventPublished("success")
		if err := d.repo.MarkWalletEventPublished(ctx, e.ID); err != nil {
			return failed, err
		}
	}

	return failed, nil
}

func (d *Dispatcher) publish(ctx context.Context, e model.WalletEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(e.Payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", e.ID.String())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
