package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/freight-settlement/internal/model"
)

// EnqueueWalletEvent ставит событие в исходящую очередь. Вызывается в той же
// транзакции, что и запись проводки.
func (r *PostgresRepository) EnqueueWalletEvent(ctx context.Context, e *model.WalletEvent) error {
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO wallet_events (id, transaction_id, account_id, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		e.ID, e.TransactionID, e.AccountID, e.Payload,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert wallet event: %w", err)
	}
	return nil
}

// ClaimWalletEvents захватывает неотправленные события на время lease, пропуская
// заблокированные и уже захваченные другими обработчиками. Запрос выполняется
// одной командой, поэтому транзакция на время доставки не удерживается.
func (r *PostgresRepository) ClaimWalletEvents(ctx context.Context, limit int, lease time.Duration) ([]model.WalletEvent, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`UPDATE wallet_events
		 SET claimed_until = NOW() + make_interval(secs => $2)
		 WHERE id IN (
		     SELECT id FROM wallet_events
		     WHERE published_at IS NULL AND (claimed_until IS NULL OR claimed_until <= NOW())
		     ORDER BY created_at
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, transaction_id, account_id, payload, attempts, created_at`,
		limit, lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("claim wallet events: %w", err)
	}
	defer rows.Close()

	var res []model.WalletEvent
	for rows.Next() {
		var e model.WalletEvent
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet event: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })

	return res, nil
}

// MarkWalletEventPublished отмечает событие доставленным.
func (r *PostgresRepository) MarkWalletEventPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE wallet_events SET published_at = NOW(), attempts = attempts + 1, last_error = NULL WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark wallet event published: %w", err)
	}
	return nil
}

// MarkWalletEventFailed увеличивает счётчик попыток и сохраняет последнюю ошибку.
func (r *PostgresRepository) MarkWalletEventFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE wallet_events SET attempts = attempts + 1, last_error = $2, claimed_until = NULL WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("mark wallet event failed: %w", err)
	}
	return nil
}
