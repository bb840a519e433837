// Package bid реализует реестр ставок: подачу, принятие и отзыв.
package bid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/validation"
)

// Repository описывает хранилище, используемое реестром ставок.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockShipment(ctx context.Context, id uuid.UUID) (*model.Shipment, error)
	CreateBid(ctx context.Context, b *model.Bid) error
	GetBid(ctx context.Context, id uuid.UUID) (*model.Bid, error)
	LockBid(ctx context.Context, id uuid.UUID) (*model.Bid, error)
	ListBids(ctx context.Context, shipmentID uuid.UUID) ([]model.Bid, error)
	GetAcceptedBid(ctx context.Context, shipmentID uuid.UUID) (*model.Bid, error)
	MarkBidAccepted(ctx context.Context, id uuid.UUID, at time.Time) error
	RejectPendingBids(ctx context.Context, shipmentID, exceptID uuid.UUID) (int64, error)
	DeletePendingBid(ctx context.Context, id uuid.UUID, kind model.BidderKind, owner uuid.UUID) (bool, error)
}

// Registry хранит ставки и управляет их жизненным циклом.
type Registry struct {
	repo Repository
	now  func() time.Time
}

// NewRegistry создаёт реестр ставок.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, now: time.Now}
}

// Acceptance содержит результат принятия ставки.
type Acceptance struct {
	Bid      *model.Bid
	Shipment *model.Shipment
	Rejected int64
}

// Submit регистрирует ставку в статусе pending.
func (r *Registry) Submit(ctx context.Context, shipmentID uuid.UUID, bidder model.BidderIdentity, amount decimal.Decimal, message string) (*model.Bid, error) {
	if err := bidder.Validate(); err != nil {
		return nil, err
	}

	b := &model.Bid{
		ID:         uuid.New(),
		ShipmentID: shipmentID,
		Bidder:     bidder,
		Amount:     amount,
		Message:    message,
		Status:     model.BidStatusPending,
	}

	err := r.repo.InTx(ctx, func(ctx context.Context) error {
		s, err := r.repo.LockShipment(ctx, shipmentID)
		if err != nil {
			return err
		}
		if !s.Biddable() {
			return fmt.Errorf("%w: status %s", model.ErrShipmentNotBiddable, s.Status)
		}
		if !validation.IsValidBidAmount(s.EstimatedCost, amount) {
			return fmt.Errorf("%w: %s is outside [%s, %s]", model.ErrInvalidAmount,
				amount, s.EstimatedCost, s.EstimatedCost.Add(model.MaxBidOverEstimate))
		}
		return r.repo.CreateBid(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	return b, nil
}

// Accept принимает ставку и отклоняет остальные ожидающие ставки по отправке.
// Если вызвано внутри InTx, изменения становятся частью внешней транзакции.
func (r *Registry) Accept(ctx context.Context, bidID uuid.UUID) (*Acceptance, error) {
	var res Acceptance

	err := r.repo.InTx(ctx, func(ctx context.Context) error {
		b, err := r.repo.GetBid(ctx, bidID)
		if err != nil {
			return err
		}

		// Порядок блокировок: сначала отправка, затем ставка.
		s, err := r.repo.LockShipment(ctx, b.ShipmentID)
		if err != nil {
			return err
		}
		if b, err = r.repo.LockBid(ctx, bidID); err != nil {
			return err
		}

		if b.Status != model.BidStatusPending {
			return fmt.Errorf("bid %s is %s: %w", b.ID, b.Status, model.ErrBidNotPending)
		}
		if !s.Biddable() {
			return fmt.Errorf("%w: status %s", model.ErrShipmentNotBiddable, s.Status)
		}

		at := r.now().UTC()
		if err := r.repo.MarkBidAccepted(ctx, b.ID, at); err != nil {
			return err
		}
		b.Status = model.BidStatusAccepted
		b.AcceptedAt = &at

		n, err := r.repo.RejectPendingBids(ctx, s.ID, b.ID)
		if err != nil {
			return err
		}

		res = Acceptance{Bid: b, Shipment: s, Rejected: n}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &res, nil
}

// Delete отзывает ожидающую ставку. Ставку может отозвать только её владелец:
// перевозчик или менеджер автопарка. Во всех остальных случаях возвращается
// model.ErrNotDeletable.
func (r *Registry) Delete(ctx context.Context, bidID uuid.UUID, kind model.BidderKind, owner uuid.UUID) error {
	ok, err := r.repo.DeletePendingBid(ctx, bidID, kind, owner)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bid %s: %w", bidID, model.ErrNotDeletable)
	}
	return nil
}

// Get возвращает ставку.
func (r *Registry) Get(ctx context.Context, bidID uuid.UUID) (*model.Bid, error) {
	return r.repo.GetBid(ctx, bidID)
}

// ListForShipment возвращает все ставки по отправке.
func (r *Registry) ListForShipment(ctx context.Context, shipmentID uuid.UUID) ([]model.Bid, error) {
	return r.repo.ListBids(ctx, shipmentID)
}

// AcceptedFor возвращает принятую ставку по отправке. Второе значение false,
// если принятой ставки нет.
func (r *Registry) AcceptedFor(ctx context.Context, shipmentID uuid.UUID) (*model.Bid, bool, error) {
	b, err := r.repo.GetAcceptedBid(ctx, shipmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}
