package payout

import (
	"context"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=provider.go -destination=provider_mock.go -package=payout

// Provider переводит средства на банковский счёт получателя.
type Provider interface {
	Transfer(ctx context.Context, req TransferRequest) (*Receipt, error)
}

// BankAccount содержит реквизиты получателя.
type BankAccount struct {
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
	HolderName    string `json:"holderName"`
}

// TransferRequest описывает запрос перевода. IdempotencyKey защищает от повторного
// перевода при повторе запроса.
type TransferRequest struct {
	IdempotencyKey string          `json:"-"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Destination    BankAccount     `json:"destination"`
}

// Receipt содержит подтверждение перевода от провайдера.
type Receipt struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
