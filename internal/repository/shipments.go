package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/freight-settlement/internal/model"
)

const shipmentColumns = `id, shipper_id, carrier_kind, carrier_id, carrier_driver_id,
	estimated_cost, origin, destination, status, created_at, updated_at`

func scanShipment(row pgx.Row) (*model.Shipment, error) {
	var (
		s             model.Shipment
		carrierKind   *string
		carrierID     *uuid.UUID
		carrierDriver *uuid.UUID
		costCents     int64
		status        string
	)

	err := row.Scan(&s.ID, &s.ShipperID, &carrierKind, &carrierID, &carrierDriver,
		&costCents, &s.Origin, &s.Destination, &status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	s.EstimatedCost = model.FromCents(costCents)
	s.Status = model.ShipmentStatus(status)

	if carrierKind != nil && carrierID != nil {
		carrier, err := model.RestoreBidder(model.BidderKind(*carrierKind), *carrierID, carrierDriver)
		if err != nil {
			return nil, fmt.Errorf("restore carrier: %w", err)
		}
		s.Carrier = &carrier
	}

	return &s, nil
}

// CreateShipment сохраняет новую отправку в статусе pending.
func (r *PostgresRepository) CreateShipment(ctx context.Context, s *model.Shipment) error {
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO shipments (id, shipper_id, estimated_cost, origin, destination, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		s.ID, s.ShipperID, model.ToCents(s.EstimatedCost), s.Origin, s.Destination, string(s.Status),
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

// GetShipment возвращает отправку по идентификатору.
func (r *PostgresRepository) GetShipment(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	s, err := scanShipment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("shipment %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get shipment: %w", err)
	}
	return s, nil
}

// LockShipment читает отправку с блокировкой строки до конца транзакции.
// Имеет смысл только внутри InTx.
func (r *PostgresRepository) LockShipment(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	s, err := scanShipment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("shipment %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("lock shipment: %w", err)
	}
	return s, nil
}

// AssignCarrier назначает перевозчика, только если он ещё не назначен.
// Возвращает false, если назначение уже выполнено кем-то другим.
func (r *PostgresRepository) AssignCarrier(ctx context.Context, id uuid.UUID, carrier model.BidderIdentity) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE shipments
		 SET carrier_kind = $2, carrier_id = $3, carrier_driver_id = $4, status = $5, updated_at = NOW()
		 WHERE id = $1 AND carrier_id IS NULL AND status = $6`,
		id, string(carrier.Kind()), carrier.Payee(), carrier.DriverPtr(),
		string(model.ShipmentStatusAssigned), string(model.ShipmentStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("assign carrier: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateShipmentStatus устанавливает статус и атомарно возвращает прежний.
func (r *PostgresRepository) UpdateShipmentStatus(ctx context.Context, id uuid.UUID, status model.ShipmentStatus) (model.StatusChange, error) {
	var prev, cur string
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE shipments s
		 SET status = $2, updated_at = NOW()
		 FROM (SELECT id, status FROM shipments WHERE id = $1 FOR UPDATE) old
		 WHERE s.id = old.id
		 RETURNING old.status, s.status`,
		id, string(status),
	).Scan(&prev, &cur)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StatusChange{}, fmt.Errorf("shipment %s: %w", id, model.ErrNotFound)
		}
		return model.StatusChange{}, fmt.Errorf("update shipment status: %w", err)
	}

	return model.StatusChange{
		Previous: model.ShipmentStatus(prev),
		Current:  model.ShipmentStatus(cur),
	}, nil
}
