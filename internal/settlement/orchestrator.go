// Package settlement координирует ставки, отправки и кошельки: определяет,
// какие проводки порождает принятие ставки или смена статуса, и гарантирует,
// что каждый этап оплаты проводится не более одного раза.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/freight-settlement/internal/bid"
	"github.com/mmeshcher/freight-settlement/internal/metrics"
	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/shipment"
	"github.com/mmeshcher/freight-settlement/internal/validation"
	"github.com/mmeshcher/freight-settlement/internal/wallet"
)

// Transactor выполняет функцию в одной транзакции хранилища.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StageOutcome описывает результат одного этапа оплаты.
type StageOutcome struct {
	Stage          model.PaymentStage
	Percentage     int
	Amount         decimal.Decimal
	Payee          uuid.UUID
	TransactionID  uuid.UUID
	AlreadySettled bool
}

// AcceptResult содержит результат принятия ставки.
type AcceptResult struct {
	Bid            *model.Bid
	Shipment       *model.Shipment
	OverageDebited decimal.Decimal
	Rejected       int64
	Credit         StageOutcome
}

// TransitionResult содержит результат смены статуса. Ошибка оплаты этапа не отменяет
// смену статуса и возвращается в SettlementErr.
type TransitionResult struct {
	Shipment      *model.Shipment
	Change        model.StatusChange
	Settlements   []StageOutcome
	SettlementErr error
}

// SettlementApplied сообщает, была ли в результате перехода проведена новая выплата.
func (r *TransitionResult) SettlementApplied() bool {
	for _, s := range r.Settlements {
		if !s.AlreadySettled {
			return true
		}
	}
	return false
}

// Orchestrator координирует расчёты.
type Orchestrator struct {
	tx        Transactor
	bids      *bid.Registry
	shipments *shipment.Lifecycle
	ledger    *wallet.Ledger
	logger    *zap.Logger
	metrics   *metrics.Settlement
	now       func() time.Time
}

// NewOrchestrator создаёт координатор расчётов. m может быть nil.
func NewOrchestrator(tx Transactor, bids *bid.Registry, shipments *shipment.Lifecycle, ledger *wallet.Ledger, logger *zap.Logger, m *metrics.Settlement) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		tx:        tx,
		bids:      bids,
		shipments: shipments,
		ledger:    ledger,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// SubmitBid подаёт ставку от имени перевозчика или менеджера автопарка.
// Менеджер автопарка обязан указать водителя, перевозчик не должен.
func (o *Orchestrator) SubmitBid(ctx context.Context, caller model.Caller, shipmentID uuid.UUID, driverID *uuid.UUID, amount decimal.Decimal, message string) (*model.Bid, error) {
	var bidder model.BidderIdentity

	switch caller.Role {
	case model.RoleTrucker:
		if driverID != nil {
			return nil, fmt.Errorf("%w: trucker cannot bid for a driver", model.ErrInvalidBidder)
		}
		bidder = model.Trucker(caller.ID)
	case model.RoleFleetManager:
		if driverID == nil {
			return nil, fmt.Errorf("%w: driver is required", model.ErrInvalidBidder)
		}
		bidder = model.FleetManagerDriver(caller.ID, *driverID)
	default:
		return nil, fmt.Errorf("%w: role %q cannot bid", model.ErrForbidden, caller.Role)
	}

	b, err := o.bids.Submit(ctx, shipmentID, bidder, amount, message)
	if err != nil {
		return nil, err
	}

	o.logger.Info("bid submitted",
		zap.Stringer("bid", b.ID),
		zap.Stringer("shipment", shipmentID),
		zap.String("bidder", bidder.Key()),
		zap.Stringer("amount", amount))

	return b, nil
}

// DeleteBid отзывает ожидающую ставку вызывающего.
func (o *Orchestrator) DeleteBid(ctx context.Context, caller model.Caller, bidID uuid.UUID) error {
	var kind model.BidderKind

	switch caller.Role {
	case model.RoleTrucker:
		kind = model.BidderTrucker
	case model.RoleFleetManager:
		kind = model.BidderFleetManagerDriver
	default:
		return fmt.Errorf("bid %s: %w", bidID, model.ErrNotDeletable)
	}

	if err := o.bids.Delete(ctx, bidID, kind, caller.ID); err != nil {
		return err
	}

	o.logger.Info("bid deleted", zap.Stringer("bid", bidID), zap.Stringer("caller", caller.ID))
	return nil
}

// AcceptBid принимает ставку. Принятие ставки, отклонение остальных,
// назначение перевозчика, списание превышения с грузоотправителя и выплата
// 5% перевозчику выполняются в одной транзакции: при любой ошибке, включая
// model.ErrInsufficientFunds, ничего не сохраняется.
func (o *Orchestrator) AcceptBid(ctx context.Context, caller model.Caller, bidID uuid.UUID) (*AcceptResult, error) {
	var res AcceptResult

	err := o.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := o.bids.Get(ctx, bidID)
		if err != nil {
			return err
		}

		s, err := o.shipments.Lock(ctx, b.ShipmentID)
		if err != nil {
			return err
		}
		if !canAccept(caller, s) {
			return fmt.Errorf("%w: only the shipper can accept bids", model.ErrForbidden)
		}

		acc, err := o.bids.Accept(ctx, bidID)
		if err != nil {
			return err
		}
		b = acc.Bid

		assigned, err := o.shipments.AssignCarrier(ctx, s.ID, b.Bidder)
		if err != nil {
			return err
		}
		if !assigned {
			return fmt.Errorf("shipment %s: %w", s.ID, model.ErrCarrierAlreadyAssigned)
		}

		overage := b.Amount.Sub(s.EstimatedCost)
		if overage.IsPositive() {
			_, err := o.ledger.Debit(ctx, wallet.Entry{
				AccountID: s.ShipperID,
				Reference: fmt.Sprintf("overage:%d:%s:%s", o.now().UnixNano(), s.ID, b.ID),
				Amount:    overage,
				Metadata: model.Metadata{
					ShipmentID: &s.ID,
					BidID:      &b.ID,
					Purpose:    "bid_overage",
				},
			})
			if err != nil {
				return fmt.Errorf("debit overage: %w", err)
			}
			res.OverageDebited = overage
		} else {
			res.OverageDebited = decimal.Zero
		}

		credit, err := o.creditStage(ctx, s.ID, b, model.StageAccepted)
		if err != nil {
			return fmt.Errorf("credit %s stage: %w", model.StageAccepted, err)
		}

		if s, err = o.shipments.Get(ctx, s.ID); err != nil {
			return err
		}

		res.Bid = b
		res.Shipment = s
		res.Rejected = acc.Rejected
		res.Credit = credit
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrInsufficientFunds) {
			o.metrics.FundsRejected()
		}
		o.logger.Warn("bid acceptance failed", zap.Stringer("bid", bidID), zap.Error(err))
		return nil, err
	}

	o.metrics.BidAccepted()
	o.metrics.StageCredited(string(model.StageAccepted))
	o.logger.Info("bid accepted",
		zap.Stringer("bid", res.Bid.ID),
		zap.Stringer("shipment", res.Shipment.ID),
		zap.Stringer("overage", res.OverageDebited),
		zap.Stringer("credit", res.Credit.Amount),
		zap.Int64("rejected", res.Rejected))

	return &res, nil
}

// TransitionShipmentStatus меняет статус отправки и проводит причитающиеся
// этапы оплаты. Статус сохраняется до выплат: ошибка выплаты попадает в
// TransitionResult.SettlementErr и исправляется повторным вызовом с тем же статусом.
func (o *Orchestrator) TransitionShipmentStatus(ctx context.Context, caller model.Caller, shipmentID uuid.UUID, status model.ShipmentStatus) (*TransitionResult, error) {
	if !validation.IsValidTargetStatus(status) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidStatus, status)
	}

	res := &TransitionResult{}

	err := o.tx.InTx(ctx, func(ctx context.Context) error {
		s, err := o.shipments.Lock(ctx, shipmentID)
		if err != nil {
			return err
		}
		if err := authorizeTransition(caller, s, status); err != nil {
			return err
		}

		if res.Change, err = o.shipments.Transition(ctx, shipmentID, status); err != nil {
			return err
		}

		res.Shipment, err = o.shipments.Get(ctx, shipmentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.Change.Changed() {
		o.logger.Info("shipment status changed",
			zap.Stringer("shipment", shipmentID),
			zap.String("from", string(res.Change.Previous)),
			zap.String("to", string(res.Change.Current)))
	}

	res.Settlements, res.SettlementErr = o.settle(ctx, shipmentID, res.Change.Current)
	if res.SettlementErr != nil {
		o.logger.Error("stage settlement failed",
			zap.Stringer("shipment", shipmentID),
			zap.String("status", string(res.Change.Current)),
			zap.Error(res.SettlementErr))
	}

	return res, nil
}

func (o *Orchestrator) settle(ctx context.Context, shipmentID uuid.UUID, status model.ShipmentStatus) ([]StageOutcome, error) {
	stages := DueStages(status)
	if len(stages) == 0 {
		return nil, nil
	}

	b, ok, err := o.bids.AcceptedFor(ctx, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("read accepted bid: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var (
		outcomes []StageOutcome
		result   *multierror.Error
	)
	for _, stage := range stages {
		outcome, err := o.creditStage(ctx, shipmentID, b, stage)
		if err != nil {
			o.metrics.StageFailed(string(stage))
			result = multierror.Append(result, fmt.Errorf("credit %s stage: %w", stage, err))
			continue
		}
		if !outcome.AlreadySettled {
			o.metrics.StageCredited(string(stage))
			o.logger.Info("stage credited",
				zap.Stringer("shipment", shipmentID),
				zap.Stringer("bid", b.ID),
				zap.String("stage", string(stage)),
				zap.Stringer("amount", outcome.Amount),
				zap.Stringer("payee", outcome.Payee))
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, result.ErrorOrNil()
}

// creditStage зачисляет выплату этапа, если она ещё не проведена.
func (o *Orchestrator) creditStage(ctx context.Context, shipmentID uuid.UUID, b *model.Bid, stage model.PaymentStage) (StageOutcome, error) {
	outcome := StageOutcome{
		Stage:      stage,
		Percentage: StagePercent(stage),
		Amount:     StageAmount(b.Amount, stage),
		Payee:      b.Bidder.Payee(),
	}

	err := o.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := o.ledger.FindStage(ctx, shipmentID, b.ID, stage)
		if err == nil {
			outcome.AlreadySettled = true
			outcome.TransactionID = existing.ID
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		if !outcome.Amount.IsPositive() {
			return nil
		}

		t, err := o.ledger.Credit(ctx, wallet.Entry{
			AccountID: outcome.Payee,
			Reference: stageReference(shipmentID, b.ID, stage),
			Amount:    outcome.Amount,
			Metadata: model.Metadata{
				ShipmentID:   &shipmentID,
				BidID:        &b.ID,
				PaymentStage: stage,
				Percentage:   outcome.Percentage,
			},
		})
		if err != nil {
			return err
		}
		outcome.TransactionID = t.ID
		return nil
	})

	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, model.ErrStageAlreadySettled), errors.Is(err, model.ErrDuplicateReference):
		// Параллельный вызов успел провести этап первым.
		outcome.AlreadySettled = true
		return outcome, nil
	default:
		return StageOutcome{}, err
	}
}

func canAccept(caller model.Caller, s *model.Shipment) bool {
	switch caller.Role {
	case model.RoleAdmin:
		return true
	case model.RoleShipper:
		return s.ShipperID == caller.ID
	default:
		return false
	}
}

// authorizeTransition: администратор может всё; грузоотправитель только
// отменяет свою отправку; назначенный перевозчик, менеджер автопарка или
// водитель двигают отправку по маршруту.
func authorizeTransition(caller model.Caller, s *model.Shipment, status model.ShipmentStatus) error {
	switch caller.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleShipper:
		if s.ShipperID == caller.ID && status == model.ShipmentStatusCancelled {
			return nil
		}
	case model.RoleTrucker, model.RoleFleetManager, model.RoleDriver:
		if s.Carrier != nil && s.Carrier.Involves(caller.ID) && status != model.ShipmentStatusCancelled {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot set %s", model.ErrForbidden, caller.Role, status)
}
