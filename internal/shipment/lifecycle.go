// Package shipment реализует жизненный цикл отправки: создание, назначение
// перевозчика и переходы статусов.
package shipment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/pricing"
	"github.com/mmeshcher/freight-settlement/internal/validation"
)

// Repository описывает хранилище отправок.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateShipment(ctx context.Context, s *model.Shipment) error
	GetShipment(ctx context.Context, id uuid.UUID) (*model.Shipment, error)
	LockShipment(ctx context.Context, id uuid.UUID) (*model.Shipment, error)
	AssignCarrier(ctx context.Context, id uuid.UUID, carrier model.BidderIdentity) (bool, error)
	UpdateShipmentStatus(ctx context.Context, id uuid.UUID, status model.ShipmentStatus) (model.StatusChange, error)
}

// CreateParams задаёт параметры новой отправки. EstimatedCost учитывается,
// только если сервис оценки не подключён.
type CreateParams struct {
	ShipperID     uuid.UUID
	Origin        string
	Destination   string
	WeightKg      float64
	EstimatedCost decimal.Decimal
}

// Lifecycle управляет отправками.
type Lifecycle struct {
	repo   Repository
	pricer Pricer
}

// NewLifecycle создаёт сервис отправок. pricer может быть nil.
func NewLifecycle(repo Repository, pricer Pricer) *Lifecycle {
	return &Lifecycle{repo: repo, pricer: pricer}
}

// Create размещает отправку в статусе pending. Оценка стоимости берётся
// из сервиса оценки, если он подключён.
func (l *Lifecycle) Create(ctx context.Context, p CreateParams) (*model.Shipment, error) {
	origin := strings.TrimSpace(p.Origin)
	destination := strings.TrimSpace(p.Destination)
	if p.ShipperID == uuid.Nil || origin == "" || destination == "" {
		return nil, fmt.Errorf("shipment: shipper, origin and destination are required")
	}

	cost := p.EstimatedCost
	if l.pricer != nil {
		estimate, err := l.pricer.Estimate(ctx, pricing.Route{
			Origin:      origin,
			Destination: destination,
			WeightKg:    p.WeightKg,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate cost: %w", err)
		}
		cost = estimate
	}
	if !validation.IsValidMoney(cost) {
		return nil, fmt.Errorf("%w: estimated cost %s", model.ErrInvalidAmount, cost)
	}

	s := &model.Shipment{
		ID:            uuid.New(),
		ShipperID:     p.ShipperID,
		EstimatedCost: cost,
		Origin:        origin,
		Destination:   destination,
		Status:        model.ShipmentStatusPending,
	}
	if err := l.repo.CreateShipment(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get возвращает отправку.
func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	return l.repo.GetShipment(ctx, id)
}

// Lock возвращает отправку с блокировкой до конца транзакции.
func (l *Lifecycle) Lock(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	return l.repo.LockShipment(ctx, id)
}

// AssignCarrier назначает перевозчика и переводит отправку в assigned.
// Возвращает false, если перевозчик уже назначен или отправка не в pending.
func (l *Lifecycle) AssignCarrier(ctx context.Context, id uuid.UUID, carrier model.BidderIdentity) (bool, error) {
	if err := carrier.Validate(); err != nil {
		return false, err
	}
	return l.repo.AssignCarrier(ctx, id, carrier)
}

// Transition устанавливает статус отправки и возвращает прежний и новый статус.
// Повторная установка текущего статуса успешна и ничего не меняет.
func (l *Lifecycle) Transition(ctx context.Context, id uuid.UUID, status model.ShipmentStatus) (model.StatusChange, error) {
	if !validation.IsValidTargetStatus(status) {
		return model.StatusChange{}, fmt.Errorf("%w: %q", model.ErrInvalidStatus, status)
	}

	var change model.StatusChange
	err := l.repo.InTx(ctx, func(ctx context.Context) error {
		s, err := l.repo.LockShipment(ctx, id)
		if err != nil {
			return err
		}
		if err := CheckTransition(s.Status, status); err != nil {
			return err
		}
		if s.Status == status {
			change = model.StatusChange{Previous: s.Status, Current: s.Status}
			return nil
		}
		change, err = l.repo.UpdateShipmentStatus(ctx, id, status)
		return err
	})
	if err != nil {
		return model.StatusChange{}, err
	}
	return change, nil
}

// Cancel отменяет отправку, которая ещё ожидает перевозчика.
func (l *Lifecycle) Cancel(ctx context.Context, id uuid.UUID) (model.StatusChange, error) {
	return l.Transition(ctx, id, model.ShipmentStatusCancelled)
}

// CheckTransition проверяет допустимость перехода from -> to.
// Статусы движутся только вперёд; из delivered и cancelled переходов нет;
// отменить можно только отправку в pending.
func CheckTransition(from, to model.ShipmentStatus) error {
	if from == to {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s is final", model.ErrInvalidTransition, from)
	}
	if to == model.ShipmentStatusCancelled {
		if from != model.ShipmentStatusPending {
			return fmt.Errorf("%w: cannot cancel %s shipment", model.ErrInvalidTransition, from)
		}
		return nil
	}
	if !to.Reached(from) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
	}
	return nil
}
