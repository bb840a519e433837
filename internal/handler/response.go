package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/settlement"
)

type bidderResponse struct {
	Kind     string     `json:"kind"`
	ID       uuid.UUID  `json:"id"`
	DriverID *uuid.UUID `json:"driverId,omitempty"`
}

func newBidderResponse(b model.BidderIdentity) bidderResponse {
	return bidderResponse{
		Kind:     string(b.Kind()),
		ID:       b.Payee(),
		DriverID: b.DriverPtr(),
	}
}

type shipmentResponse struct {
	ID            uuid.UUID       `json:"id"`
	ShipperID     uuid.UUID       `json:"shipperId"`
	Carrier       *bidderResponse `json:"carrier,omitempty"`
	EstimatedCost decimal.Decimal `json:"estimatedCost"`
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"createdAt"`
	UpdatedAt     string          `json:"updatedAt"`
}

func newShipmentResponse(s *model.Shipment) shipmentResponse {
	resp := shipmentResponse{
		ID:            s.ID,
		ShipperID:     s.ShipperID,
		EstimatedCost: s.EstimatedCost,
		Origin:        s.Origin,
		Destination:   s.Destination,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
	}
	if s.Carrier != nil {
		c := newBidderResponse(*s.Carrier)
		resp.Carrier = &c
	}
	return resp
}

type bidResponse struct {
	ID         uuid.UUID       `json:"id"`
	ShipmentID uuid.UUID       `json:"shipmentId"`
	Bidder     bidderResponse  `json:"bidder"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"createdAt"`
	AcceptedAt string          `json:"acceptedAt,omitempty"`
}

func newBidResponse(b *model.Bid) bidResponse {
	resp := bidResponse{
		ID:         b.ID,
		ShipmentID: b.ShipmentID,
		Bidder:     newBidderResponse(b.Bidder),
		Amount:     b.Amount,
		Message:    b.Message,
		Status:     string(b.Status),
		CreatedAt:  b.CreatedAt.Format(time.RFC3339),
	}
	if b.AcceptedAt != nil {
		resp.AcceptedAt = b.AcceptedAt.Format(time.RFC3339)
	}
	return resp
}

type stageResponse struct {
	Stage          string          `json:"stage"`
	Percentage     int             `json:"percentage"`
	Amount         decimal.Decimal `json:"amount"`
	Payee          uuid.UUID       `json:"payee"`
	TransactionID  *uuid.UUID      `json:"transactionId,omitempty"`
	AlreadySettled bool            `json:"alreadySettled"`
}

func newStageResponse(s settlement.StageOutcome) stageResponse {
	resp := stageResponse{
		Stage:          string(s.Stage),
		Percentage:     s.Percentage,
		Amount:         s.Amount,
		Payee:          s.Payee,
		AlreadySettled: s.AlreadySettled,
	}
	if s.TransactionID != uuid.Nil {
		id := s.TransactionID
		resp.TransactionID = &id
	}
	return resp
}

type acceptResponse struct {
	Bid            bidResponse      `json:"bid"`
	Shipment       shipmentResponse `json:"shipment"`
	OverageDebited decimal.Decimal  `json:"overageDebited"`
	RejectedBids   int64            `json:"rejectedBids"`
	Settlement     stageResponse    `json:"settlement"`
}

type transitionResponse struct {
	Shipment          shipmentResponse `json:"shipment"`
	PreviousStatus    string           `json:"previousStatus"`
	SettlementApplied bool             `json:"settlementApplied"`
	Settlements       []stageResponse  `json:"settlements"`
	SettlementError   string           `json:"settlementError,omitempty"`
}

type balanceResponse struct {
	Current decimal.Decimal `json:"current"`
}

type transactionResponse struct {
	ID         uuid.UUID       `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	Stage      string          `json:"paymentStage,omitempty"`
	Percentage int             `json:"percentage,omitempty"`
	ShipmentID *uuid.UUID      `json:"shipmentId,omitempty"`
	BidID      *uuid.UUID      `json:"bidId,omitempty"`
	Purpose    string          `json:"purpose,omitempty"`
	CreatedAt  string          `json:"createdAt"`
}

func newTransactionResponse(t *model.WalletTransaction) transactionResponse {
	return transactionResponse{
		ID:         t.ID,
		Amount:     t.Amount,
		Type:       string(t.Type),
		Status:     string(t.Status),
		Stage:      string(t.Metadata.PaymentStage),
		Percentage: t.Metadata.Percentage,
		ShipmentID: t.Metadata.ShipmentID,
		BidID:      t.Metadata.BidID,
		Purpose:    t.Metadata.Purpose,
		CreatedAt:  t.CreatedAt.Format(time.RFC3339),
	}
}

type withdrawalResponse struct {
	TransactionID     uuid.UUID       `json:"transactionId"`
	Amount            decimal.Decimal `json:"amount"`
	ProviderReference string          `json:"providerReference"`
	Status            string          `json:"status"`
}
