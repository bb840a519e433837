package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/freight-settlement/internal/metrics"
	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/wallet"
)

const currency = "RUB"

// ErrNotConfigured возвращается, если платёжный провайдер не подключён.
var ErrNotConfigured = errors.New("payout provider is not configured")

// Withdrawal описывает результат вывода средств.
type Withdrawal struct {
	TransactionID     uuid.UUID
	Amount            decimal.Decimal
	ProviderReference string
	Status            string
}

// Service выводит средства с кошелька.
type Service struct {
	ledger   *wallet.Ledger
	provider Provider
	logger   *zap.Logger
	metrics  *metrics.Settlement
}

// NewService создаёт сервис вывода. provider может быть nil.
func NewService(ledger *wallet.Ledger, provider Provider, logger *zap.Logger, m *metrics.Settlement) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: ledger, provider: provider, logger: logger, metrics: m}
}

// Withdraw списывает сумму с кошелька и переводит её провайдеру. Если перевод
// не удался, списание компенсируется встречным зачислением.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, dest BankAccount) (*Withdrawal, error) {
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	if dest.AccountNumber == "" || dest.BankCode == "" {
		return nil, errors.New("payout: bank account is required")
	}

	ref := "withdrawal:" + uuid.NewString()

	debit, err := s.ledger.Debit(ctx, wallet.Entry{
		AccountID: accountID,
		Reference: ref,
		Amount:    amount,
		Metadata:  model.Metadata{Purpose: "withdrawal"},
	})
	if err != nil {
		if errors.Is(err, model.ErrInsufficientFunds) {
			s.metrics.FundsRejected()
		}
		return nil, err
	}

	receipt, err := s.provider.Transfer(ctx, TransferRequest{
		IdempotencyKey: debit.ID.String(),
		Amount:         amount,
		Currency:       currency,
		Destination:    dest,
	})
	if err != nil {
		s.metrics.Withdrawal("failed")
		transferErr := fmt.Errorf("transfer: %w", err)

		_, rerr := s.ledger.Credit(context.WithoutCancel(ctx), wallet.Entry{
			AccountID: accountID,
			Reference: ref + ":reversal",
			Amount:    amount,
			Metadata: model.Metadata{
				Purpose: "withdrawal_reversal",
				Extra:   map[string]any{"transactionId": debit.ID.String()},
			},
		})
		if rerr != nil {
			s.logger.Error("withdrawal reversal failed, manual reconciliation required",
				zap.Stringer("account", accountID),
				zap.Stringer("transaction", debit.ID),
				zap.Error(rerr))
			return nil, multierror.Append(transferErr, fmt.Errorf("reverse withdrawal: %w", rerr))
		}

		s.logger.Warn("withdrawal reversed", zap.Stringer("account", accountID), zap.Error(err))
		return nil, transferErr
	}

	s.metrics.Withdrawal("success")
	s.logger.Info("withdrawal completed",
		zap.Stringer("account", accountID),
		zap.Stringer("amount", amount),
		zap.String("provider_id", receipt.ID))

	return &Withdrawal{
		TransactionID:     debit.ID,
		Amount:            amount,
		ProviderReference: receipt.ID,
		Status:            receipt.Status,
	}, nil
}
