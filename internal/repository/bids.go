package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/freight-settlement/internal/model"
)

const bidColumns = `id, shipment_id, bidder_kind, bidder_id, driver_id, amount, message, status, created_at, accepted_at`

func scanBid(row pgx.Row) (*model.Bid, error) {
	var (
		b           model.Bid
		kind        string
		bidderID    uuid.UUID
		driverID    *uuid.UUID
		amountCents int64
		status      string
	)

	err := row.Scan(&b.ID, &b.ShipmentID, &kind, &bidderID, &driverID,
		&amountCents, &b.Message, &status, &b.CreatedAt, &b.AcceptedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	bidder, err := model.RestoreBidder(model.BidderKind(kind), bidderID, driverID)
	if err != nil {
		return nil, fmt.Errorf("restore bidder: %w", err)
	}

	b.Bidder = bidder
	b.Amount = model.FromCents(amountCents)
	b.Status = model.BidStatus(status)

	return &b, nil
}

// CreateBid сохраняет новую ставку. Повторная ставка того же участника на ту же
// отправку отклоняется уникальным индексом bids_pending_bidder_key.
func (r *PostgresRepository) CreateBid(ctx context.Context, b *model.Bid) error {
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO bids (id, shipment_id, bidder_kind, bidder_id, driver_id, amount, message, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		b.ID, b.ShipmentID, string(b.Bidder.Kind()), b.Bidder.Payee(), b.Bidder.DriverPtr(),
		model.ToCents(b.Amount), b.Message, string(b.Status),
	).Scan(&b.CreatedAt)
	if err != nil {
		return createBidError(err, b)
	}
	return nil
}

func createBidError(err error, b *model.Bid) error {
	if code, constraint, ok := constraintViolation(err); ok {
		switch {
		case constraint == "bids_pending_bidder_key":
			return fmt.Errorf("%w: %s", model.ErrDuplicateBid, b.Bidder)
		case constraint == "bids_bidder_check":
			return fmt.Errorf("%w: %s", model.ErrInvalidBidder, b.Bidder)
		case code == pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("shipment %s: %w", b.ShipmentID, model.ErrNotFound)
		}
	}
	return fmt.Errorf("insert bid: %w", err)
}

// GetBid возвращает ставку по идентификатору.
func (r *PostgresRepository) GetBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	b, err := scanBid(r.conn(ctx).QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("bid %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get bid: %w", err)
	}
	return b, nil
}

// LockBid читает ставку с блокировкой строки. Имеет смысл только внутри InTx.
func (r *PostgresRepository) LockBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	b, err := scanBid(r.conn(ctx).QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("bid %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("lock bid: %w", err)
	}
	return b, nil
}

// ListBids возвращает ставки по отправке, от ранних к поздним.
func (r *PostgresRepository) ListBids(ctx context.Context, shipmentID uuid.UUID) ([]model.Bid, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE shipment_id = $1 ORDER BY created_at, id`,
		shipmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("select bids: %w", err)
	}
	defer rows.Close()

	var res []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetAcceptedBid возвращает принятую ставку по отправке или model.ErrNotFound.
func (r *PostgresRepository) GetAcceptedBid(ctx context.Context, shipmentID uuid.UUID) (*model.Bid, error) {
	b, err := scanBid(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE shipment_id = $1 AND status = $2`,
		shipmentID, string(model.BidStatusAccepted)))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("accepted bid for %s: %w", shipmentID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get accepted bid: %w", err)
	}
	return b, nil
}

// MarkBidAccepted переводит ставку из pending в accepted.
func (r *PostgresRepository) MarkBidAccepted(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE bids SET status = $2, accepted_at = $3 WHERE id = $1 AND status = $4`,
		id, string(model.BidStatusAccepted), at, string(model.BidStatusPending),
	)
	if err != nil {
		return acceptBidError(err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("bid %s: %w", id, model.ErrBidNotPending)
	}
	return nil
}

// RejectPendingBids отклоняет все ожидающие ставки по отправке, кроме exceptID.
func (r *PostgresRepository) RejectPendingBids(ctx context.Context, shipmentID, exceptID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE bids SET status = $3 WHERE shipment_id = $1 AND id <> $2 AND status = $4`,
		shipmentID, exceptID, string(model.BidStatusRejected), string(model.BidStatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("reject pending bids: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeletePendingBid удаляет ставку, если её владелец (перевозчик или менеджер автопарка)
// совпадает с owner и ставка ещё ожидает решения.
func (r *PostgresRepository) DeletePendingBid(ctx context.Context, id uuid.UUID, kind model.BidderKind, owner uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM bids WHERE id = $1 AND status = $2 AND bidder_kind = $3 AND bidder_id = $4`,
		id, string(model.BidStatusPending), string(kind), owner,
	)
	if err != nil {
		return false, fmt.Errorf("delete bid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func acceptBidError(err error) error {
	if _, constraint, ok := constraintViolation(err); ok && constraint == "bids_accepted_key" {
		return fmt.Errorf("%w: another bid already accepted", model.ErrShipmentNotBiddable)
	}
	return fmt.Errorf("accept bid: %w", err)
}
