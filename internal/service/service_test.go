package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/payout"
	"github.com/mmeshcher/freight-settlement/internal/repository"
	"github.com/mmeshcher/freight-settlement/internal/shipment"
)

func newTestService() *Service {
	return NewService(repository.NewMemoryRepository(), Options{})
}

func TestCreateShipment_OnlyShippers(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateShipment(context.Background(), model.Caller{ID: uuid.New(), Role: model.RoleTrucker}, shipment.CreateParams{
		Origin:        "A",
		Destination:   "B",
		EstimatedCost: decimal.NewFromInt(100),
	})
	if !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateShipment_UsesCallerAsShipper(t *testing.T) {
	svc := newTestService()
	shipper := model.Caller{ID: uuid.New(), Role: model.RoleShipper}

	s, err := svc.CreateShipment(context.Background(), shipper, shipment.CreateParams{
		ShipperID:     uuid.New(),
		Origin:        "A",
		Destination:   "B",
		EstimatedCost: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if s.ShipperID != shipper.ID {
		t.Fatalf("shipper = %s, want %s", s.ShipperID, shipper.ID)
	}
}

func TestListBids_Visibility(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	shipper := model.Caller{ID: uuid.New(), Role: model.RoleShipper}
	a := model.Caller{ID: uuid.New(), Role: model.RoleTrucker}
	b := model.Caller{ID: uuid.New(), Role: model.RoleTrucker}

	s, err := svc.CreateShipment(ctx, shipper, shipment.CreateParams{Origin: "A", Destination: "B", EstimatedCost: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}

	for _, c := range []model.Caller{a, b} {
		if _, err := svc.SubmitBid(ctx, c, s.ID, nil, decimal.NewFromInt(100), ""); err != nil {
			t.Fatalf("SubmitBid: %v", err)
		}
	}

	all, err := svc.ListBids(ctx, shipper, s.ID)
	if err != nil {
		t.Fatalf("ListBids: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("shipper sees %d bids, want 2", len(all))
	}

	own, err := svc.ListBids(ctx, a, s.ID)
	if err != nil {
		t.Fatalf("ListBids: %v", err)
	}
	if len(own) != 1 || own[0].Bidder.Payee() != a.ID {
		t.Fatalf("trucker must see only own bid, got %+v", own)
	}
}

func TestGetBalance_EmptyWallet(t *testing.T) {
	svc := newTestService()

	b, err := svc.GetBalance(context.Background(), model.Caller{ID: uuid.New(), Role: model.RoleTrucker})
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !b.IsZero() {
		t.Fatalf("balance = %s, want 0", b)
	}
}

func TestWithdraw_NotConfigured(t *testing.T) {
	svc := newTestService()

	_, err := svc.Withdraw(context.Background(), model.Caller{ID: uuid.New(), Role: model.RoleTrucker},
		decimal.NewFromInt(1), payout.BankAccount{AccountNumber: "1", BankCode: "2"})
	if !errors.Is(err, payout.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDeposit_FundsOverageOnAccept(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	admin := model.Caller{ID: uuid.New(), Role: model.RoleAdmin}
	shipper := model.Caller{ID: uuid.New(), Role: model.RoleShipper}
	trucker := model.Caller{ID: uuid.New(), Role: model.RoleTrucker}

	if _, err := svc.Deposit(ctx, admin, shipper.ID, decimal.NewFromInt(10000), "gw-evt-1"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	s, err := svc.CreateShipment(ctx, shipper, shipment.CreateParams{Origin: "A", Destination: "B", EstimatedCost: decimal.NewFromInt(50000)})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	b, err := svc.SubmitBid(ctx, trucker, s.ID, nil, decimal.NewFromInt(55000), "")
	if err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}

	res, err := svc.AcceptBid(ctx, shipper, b.ID)
	if err != nil {
		t.Fatalf("AcceptBid: %v", err)
	}
	if !res.OverageDebited.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("overage = %s, want 5000", res.OverageDebited)
	}

	balance, err := svc.GetBalance(ctx, shipper)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("shipper balance = %s, want 5000", balance)
	}
}

func TestDeposit_ReplayDoesNotDoubleCredit(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	admin := model.Caller{ID: uuid.New(), Role: model.RoleAdmin}
	account := uuid.New()

	if _, err := svc.Deposit(ctx, admin, account, decimal.NewFromInt(100), "gw-evt-7"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	_, err := svc.Deposit(ctx, admin, account, decimal.NewFromInt(100), "gw-evt-7")
	if !errors.Is(err, model.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	balance, err := svc.GetBalance(ctx, model.Caller{ID: account, Role: model.RoleShipper})
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, want 100", balance)
	}
}

func TestDeposit_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	admin := model.Caller{ID: uuid.New(), Role: model.RoleAdmin}

	tests := []struct {
		name       string
		caller     model.Caller
		account    uuid.UUID
		amount     decimal.Decimal
		externalID string
		wantErr    error
	}{
		{
			name:       "shipper cannot fund itself",
			caller:     model.Caller{ID: uuid.New(), Role: model.RoleShipper},
			account:    uuid.New(),
			amount:     decimal.NewFromInt(1),
			externalID: "x",
			wantErr:    model.ErrForbidden,
		},
		{
			name:    "missing external id",
			caller:  admin,
			account: uuid.New(),
			amount:  decimal.NewFromInt(1),
			wantErr: model.ErrInvalidAmount,
		},
		{
			name:       "negative amount",
			caller:     admin,
			account:    uuid.New(),
			amount:     decimal.NewFromInt(-1),
			externalID: "y",
			wantErr:    model.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Deposit(ctx, tt.caller, tt.account, tt.amount, tt.externalID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
