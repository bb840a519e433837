// Package service собирает компоненты движка расчётов в единый фасад для HTTP-слоя.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/freight-settlement/internal/bid"
	"github.com/mmeshcher/freight-settlement/internal/metrics"
	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/payout"
	"github.com/mmeshcher/freight-settlement/internal/settlement"
	"github.com/mmeshcher/freight-settlement/internal/shipment"
	"github.com/mmeshcher/freight-settlement/internal/wallet"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	bid.Repository
	shipment.Repository
	wallet.Repository
	Close() error
}

// Options содержит необязательные зависимости сервиса.
type Options struct {
	Pricer  shipment.Pricer
	Payout  payout.Provider
	Logger  *zap.Logger
	Metrics *metrics.Settlement
}

// Service содержит бизнес-логику движка расчётов.
type Service struct {
	repo         Repository
	shipments    *shipment.Lifecycle
	bids         *bid.Registry
	ledger       *wallet.Ledger
	orchestrator *settlement.Orchestrator
	payouts      *payout.Service
}

// NewService создаёт сервис поверх репозитория.
func NewService(repo Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	shipments := shipment.NewLifecycle(repo, opts.Pricer)
	bids := bid.NewRegistry(repo)
	ledger := wallet.NewLedger(repo)

	return &Service{
		repo:         repo,
		shipments:    shipments,
		bids:         bids,
		ledger:       ledger,
		orchestrator: settlement.NewOrchestrator(repo, bids, shipments, ledger, logger.Named("settlement"), opts.Metrics),
		payouts:      payout.NewService(ledger, opts.Payout, logger.Named("payout"), opts.Metrics),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateShipment размещает отправку от имени грузоотправителя.
func (s *Service) CreateShipment(ctx context.Context, caller model.Caller, p shipment.CreateParams) (*model.Shipment, error) {
	if caller.Role != model.RoleShipper {
		return nil, fmt.Errorf("%w: only shippers can post shipments", model.ErrForbidden)
	}
	p.ShipperID = caller.ID
	return s.shipments.Create(ctx, p)
}

// GetShipment возвращает отправку.
func (s *Service) GetShipment(ctx context.Context, _ model.Caller, id uuid.UUID) (*model.Shipment, error) {
	return s.shipments.Get(ctx, id)
}

// ListBids возвращает ставки по отправке. Грузоотправитель и администратор
// видят все ставки, остальные только свои.
func (s *Service) ListBids(ctx context.Context, caller model.Caller, shipmentID uuid.UUID) ([]model.Bid, error) {
	sh, err := s.shipments.Get(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	bids, err := s.bids.ListForShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	if caller.Role == model.RoleAdmin || (caller.Role == model.RoleShipper && sh.ShipperID == caller.ID) {
		return bids, nil
	}

	own := make([]model.Bid, 0, len(bids))
	for _, b := range bids {
		if b.Bidder.Involves(caller.ID) {
			own = append(own, b)
		}
	}
	return own, nil
}

// SubmitBid подаёт ставку.
func (s *Service) SubmitBid(ctx context.Context, caller model.Caller, shipmentID uuid.UUID, driverID *uuid.UUID, amount decimal.Decimal, message string) (*model.Bid, error) {
	return s.orchestrator.SubmitBid(ctx, caller, shipmentID, driverID, amount, message)
}

// AcceptBid принимает ставку.
func (s *Service) AcceptBid(ctx context.Context, caller model.Caller, bidID uuid.UUID) (*settlement.AcceptResult, error) {
	return s.orchestrator.AcceptBid(ctx, caller, bidID)
}

// DeleteBid отзывает ставку.
func (s *Service) DeleteBid(ctx context.Context, caller model.Caller, bidID uuid.UUID) error {
	return s.orchestrator.DeleteBid(ctx, caller, bidID)
}

// TransitionShipmentStatus меняет статус отправки.
func (s *Service) TransitionShipmentStatus(ctx context.Context, caller model.Caller, shipmentID uuid.UUID, status model.ShipmentStatus) (*settlement.TransitionResult, error) {
	return s.orchestrator.TransitionShipmentStatus(ctx, caller, shipmentID, status)
}

// GetBalance возвращает баланс кошелька вызывающего.
func (s *Service) GetBalance(ctx context.Context, caller model.Caller) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, caller.ID)
}

// GetTransactions возвращает историю кошелька вызывающего.
func (s *Service) GetTransactions(ctx context.Context, caller model.Caller, limit int) ([]model.WalletTransaction, error) {
	return s.ledger.History(ctx, caller.ID, limit)
}

// Withdraw выводит средства кошелька вызывающего на банковский счёт.
func (s *Service) Withdraw(ctx context.Context, caller model.Caller, amount decimal.Decimal, dest payout.BankAccount) (*payout.Withdrawal, error) {
	return s.payouts.Withdraw(ctx, caller.ID, amount, dest)
}

// Deposit зачисляет поступление от платёжного шлюза на счёт accountID.
// externalID задаёт идентификатор события у шлюза: повторное уведомление о том же
// поступлении отклоняется с model.ErrDuplicateReference и не удваивает баланс.
func (s *Service) Deposit(ctx context.Context, caller model.Caller, accountID uuid.UUID, amount decimal.Decimal, externalID string) (*model.WalletTransaction, error) {
	if caller.Role != model.RoleAdmin {
		return nil, fmt.Errorf("%w: only administrators can record deposits", model.ErrForbidden)
	}
	if accountID == uuid.Nil || externalID == "" {
		return nil, fmt.Errorf("%w: account and external id are required", model.ErrInvalidAmount)
	}

	return s.ledger.Credit(ctx, wallet.Entry{
		AccountID: accountID,
		Reference: depositReference(externalID),
		Amount:    amount,
		Metadata: model.Metadata{
			Purpose: "deposit",
			Extra:   map[string]any{"externalId": externalID},
		},
	})
}

func depositReference(externalID string) string {
	return "deposit:" + externalID
}
