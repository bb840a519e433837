// Package wallet реализует журнал кошельков: только добавление записей,
// баланс вычисляется суммой успешных проводок.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/validation"
)

// DefaultHistoryLimit ограничивает выдачу истории, если лимит не задан.
const DefaultHistoryLimit = 100

// Repository описывает хранилище проводок, используемое журналом.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockAccount(ctx context.Context, accountID uuid.UUID) error
	AccountBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	InsertWalletTransaction(ctx context.Context, t *model.WalletTransaction) error
	FindStageTransaction(ctx context.Context, shipmentID, bidID uuid.UUID, stage model.PaymentStage) (*model.WalletTransaction, error)
	ListWalletTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]model.WalletTransaction, error)
	EnqueueWalletEvent(ctx context.Context, e *model.WalletEvent) error
}

// Entry описывает проводку до записи в журнал. Amount задаётся по модулю.
type Entry struct {
	AccountID uuid.UUID
	Reference string
	Amount    decimal.Decimal
	Metadata  model.Metadata
}

// Event описывает полезную нагрузку события, которое получает сервис уведомлений.
// Внутренняя ссылка проводки наружу не передаётся.
type Event struct {
	TransactionID uuid.UUID             `json:"transactionId"`
	AccountID     uuid.UUID             `json:"accountId"`
	Type          model.TransactionType `json:"type"`
	Amount        decimal.Decimal       `json:"amount"`
	Balance       decimal.Decimal       `json:"balance"`
	Metadata      model.Metadata        `json:"metadata"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// Ledger ведёт журнал кошельков.
type Ledger struct {
	repo Repository
}

// NewLedger создаёт журнал поверх хранилища.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Balance возвращает текущий баланс счёта. Для счёта без проводок это ноль.
func (l *Ledger) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	cents, err := l.repo.AccountBalance(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return model.FromCents(cents), nil
}

// Credit зачисляет средства на счёт.
func (l *Ledger) Credit(ctx context.Context, e Entry) (*model.WalletTransaction, error) {
	return l.Record(ctx, e, model.TransactionCredit)
}

// Debit списывает средства со счёта. Если баланса не хватает,
// возвращает model.ErrInsufficientFunds и ничего не записывает.
func (l *Ledger) Debit(ctx context.Context, e Entry) (*model.WalletTransaction, error) {
	return l.Record(ctx, e, model.TransactionDebit)
}

// Record добавляет проводку заданного типа. Проверка баланса и запись
// списания выполняются под блокировкой счёта в одной транзакции,
// вместе с записью проводки в очередь уведомлений.
func (l *Ledger) Record(ctx context.Context, e Entry, typ model.TransactionType) (*model.WalletTransaction, error) {
	if e.AccountID == uuid.Nil {
		return nil, errors.New("wallet: account is required")
	}
	if e.Reference == "" {
		return nil, errors.New("wallet: reference is required")
	}
	if !validation.IsValidMoney(e.Amount) {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidAmount, e.Amount)
	}

	t := &model.WalletTransaction{
		ID:        uuid.New(),
		AccountID: e.AccountID,
		Reference: e.Reference,
		Type:      typ,
		Status:    model.TransactionSuccess,
		Metadata:  e.Metadata,
	}

	switch typ {
	case model.TransactionCredit:
		t.Amount = e.Amount
	case model.TransactionDebit:
		t.Amount = e.Amount.Neg()
	default:
		return nil, fmt.Errorf("wallet: unknown transaction type %q", typ)
	}

	err := l.repo.InTx(ctx, func(ctx context.Context) error {
		if err := l.repo.LockAccount(ctx, e.AccountID); err != nil {
			return err
		}

		cents, err := l.repo.AccountBalance(ctx, e.AccountID)
		if err != nil {
			return err
		}
		balance := model.FromCents(cents)

		if typ == model.TransactionDebit && balance.LessThan(e.Amount) {
			return fmt.Errorf("%w: balance %s, required %s", model.ErrInsufficientFunds, balance, e.Amount)
		}

		if err := l.repo.InsertWalletTransaction(ctx, t); err != nil {
			return err
		}

		return l.enqueue(ctx, t, balance.Add(t.Amount))
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

func (l *Ledger) enqueue(ctx context.Context, t *model.WalletTransaction, balance decimal.Decimal) error {
	payload, err := json.Marshal(Event{
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Type:          t.Type,
		Amount:        t.Amount.Abs(),
		Balance:       balance,
		Metadata:      t.Metadata,
		CreatedAt:     t.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode wallet event: %w", err)
	}

	return l.repo.EnqueueWalletEvent(ctx, &model.WalletEvent{
		ID:            uuid.New(),
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Payload:       payload,
	})
}

// FindStage возвращает успешную проводку этапа оплаты или model.ErrNotFound.
func (l *Ledger) FindStage(ctx context.Context, shipmentID, bidID uuid.UUID, stage model.PaymentStage) (*model.WalletTransaction, error) {
	return l.repo.FindStageTransaction(ctx, shipmentID, bidID, stage)
}

// History возвращает последние проводки по счёту.
func (l *Ledger) History(ctx context.Context, accountID uuid.UUID, limit int) ([]model.WalletTransaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return l.repo.ListWalletTransactions(ctx, accountID, limit)
}
