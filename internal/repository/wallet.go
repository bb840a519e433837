package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/freight-settlement/internal/model"
)

const walletColumns = `id, account_id, reference, amount, type, status, metadata, created_at`

func scanWalletTransaction(row pgx.Row) (*model.WalletTransaction, error) {
	var (
		t           model.WalletTransaction
		amountCents int64
		txType      string
		status      string
		metadata    []byte
	)

	err := row.Scan(&t.ID, &t.AccountID, &t.Reference, &amountCents, &txType, &status, &metadata, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	t.Amount = model.FromCents(amountCents)
	t.Type = model.TransactionType(txType)
	t.Status = model.TransactionStatus(status)

	return &t, nil
}

// LockAccount сериализует операции по счёту до конца транзакции.
// Отдельной таблицы счетов нет, поэтому используется транзакционная advisory-блокировка.
func (r *PostgresRepository) LockAccount(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, accountID.String())
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	return nil
}

// AccountBalance возвращает сумму успешных проводок по счёту в копейках.
func (r *PostgresRepository) AccountBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM wallet_transactions
		 WHERE account_id = $1 AND status = $2`,
		accountID, string(model.TransactionSuccess),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum wallet transactions: %w", err)
	}
	return total, nil
}

// InsertWalletTransaction добавляет запись в журнал. Повтор ссылки по счёту даёт
// model.ErrDuplicateReference, повтор этапа оплаты даёт model.ErrStageAlreadySettled.
func (r *PostgresRepository) InsertWalletTransaction(ctx context.Context, t *model.WalletTransaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var stage *string
	if t.Metadata.PaymentStage != "" {
		s := string(t.Metadata.PaymentStage)
		stage = &s
	}

	err = r.conn(ctx).QueryRow(ctx,
		`INSERT INTO wallet_transactions
		 (id, account_id, reference, amount, type, status, shipment_id, bid_id, payment_stage, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		t.ID, t.AccountID, t.Reference, model.ToCents(t.Amount), string(t.Type), string(t.Status),
		t.Metadata.ShipmentID, t.Metadata.BidID, stage, metadata,
	).Scan(&t.CreatedAt)
	if err != nil {
		return insertWalletError(err, t)
	}
	return nil
}

func insertWalletError(err error, t *model.WalletTransaction) error {
	if _, constraint, ok := constraintViolation(err); ok {
		switch constraint {
		case "wallet_transactions_reference_key":
			return fmt.Errorf("%w: %s", model.ErrDuplicateReference, t.Reference)
		case "wallet_transactions_stage_key":
			return fmt.Errorf("%w: %s", model.ErrStageAlreadySettled, t.Metadata.PaymentStage)
		}
	}
	return fmt.Errorf("insert wallet transaction: %w", err)
}

// FindStageTransaction возвращает успешную проводку этапа оплаты или model.ErrNotFound.
func (r *PostgresRepository) FindStageTransaction(ctx context.Context, shipmentID, bidID uuid.UUID, stage model.PaymentStage) (*model.WalletTransaction, error) {
	t, err := scanWalletTransaction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+walletColumns+`
		 FROM wallet_transactions
		 WHERE shipment_id = $1 AND bid_id = $2 AND payment_stage = $3 AND status = $4`,
		shipmentID, bidID, string(stage), string(model.TransactionSuccess)))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("stage %s: %w", stage, model.ErrNotFound)
		}
		return nil, fmt.Errorf("find stage transaction: %w", err)
	}
	return t, nil
}

// ListWalletTransactions возвращает историю проводок по счёту, начиная с последних.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]model.WalletTransaction, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+walletColumns+`
		 FROM wallet_transactions
		 WHERE account_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select wallet transactions: %w", err)
	}
	defer rows.Close()

	var res []model.WalletTransaction
	for rows.Next() {
		t, err := scanWalletTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
