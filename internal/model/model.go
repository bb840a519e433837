// Package model содержит доменные сущности движка расчётов грузовой биржи.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role описывает роль вызывающего пользователя.
type Role string

const (
	RoleShipper      Role = "shipper"
	RoleTrucker      Role = "trucker"
	RoleFleetManager Role = "fleet_manager"
	RoleDriver       Role = "driver"
	RoleAdmin        Role = "admin"
)

// Caller описывает пользователя, от имени которого выполняется операция.
type Caller struct {
	ID   uuid.UUID
	Role Role
}

// BidStatus описывает статус ставки.
type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusAccepted BidStatus = "accepted"
	BidStatusRejected BidStatus = "rejected"
)

// Bid описывает предложение перевозчика по отправке.
type Bid struct {
	ID         uuid.UUID
	ShipmentID uuid.UUID
	Bidder     BidderIdentity
	Amount     decimal.Decimal
	Message    string
	Status     BidStatus
	CreatedAt  time.Time
	AcceptedAt *time.Time
}

// ShipmentStatus описывает статус исполнения отправки.
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"
	ShipmentStatusAssigned  ShipmentStatus = "assigned"
	ShipmentStatusPickingUp ShipmentStatus = "picking_up"
	ShipmentStatusPickedUp  ShipmentStatus = "picked_up"
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
	ShipmentStatusCancelled ShipmentStatus = "cancelled"
)

var shipmentStatusRank = map[ShipmentStatus]int{
	ShipmentStatusPending:   0,
	ShipmentStatusAssigned:  1,
	ShipmentStatusPickingUp: 2,
	ShipmentStatusPickedUp:  3,
	ShipmentStatusInTransit: 4,
	ShipmentStatusDelivered: 5,
}

// Valid сообщает, является ли статус одним из известных значений.
func (s ShipmentStatus) Valid() bool {
	_, ok := shipmentStatusRank[s]
	return ok || s == ShipmentStatusCancelled
}

// Terminal сообщает, что из статуса нет переходов.
func (s ShipmentStatus) Terminal() bool {
	return s == ShipmentStatusDelivered || s == ShipmentStatusCancelled
}

// Reached сообщает, находится ли статус s на шаге target или дальше.
// Для cancelled всегда false.
func (s ShipmentStatus) Reached(target ShipmentStatus) bool {
	sr, ok := shipmentStatusRank[s]
	if !ok {
		return false
	}
	tr, ok := shipmentStatusRank[target]
	if !ok {
		return false
	}
	return sr >= tr
}

// Shipment описывает груз, размещённый грузоотправителем.
type Shipment struct {
	ID            uuid.UUID
	ShipperID     uuid.UUID
	Carrier       *BidderIdentity
	EstimatedCost decimal.Decimal
	Origin        string
	Destination   string
	Status        ShipmentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Biddable сообщает, принимает ли отправка ставки.
func (s *Shipment) Biddable() bool {
	return s.Status == ShipmentStatusPending && s.Carrier == nil
}

// StatusChange фиксирует переход статуса отправки: прежнее и новое значение.
type StatusChange struct {
	Previous ShipmentStatus
	Current  ShipmentStatus
}

// Changed сообщает, изменился ли статус.
func (c StatusChange) Changed() bool {
	return c.Previous != c.Current
}

// TransactionType описывает направление движения средств.
type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// TransactionStatus описывает результат проводки.
type TransactionStatus string

const (
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// PaymentStage описывает этап оплаты перевозчику.
type PaymentStage string

const (
	StageAccepted  PaymentStage = "accepted"
	StagePickedUp  PaymentStage = "picked_up"
	StageCompleted PaymentStage = "completed"
)

// Metadata содержит структурированное описание проводки.
type Metadata struct {
	ShipmentID   *uuid.UUID     `json:"shipmentId,omitempty"`
	BidID        *uuid.UUID     `json:"bidId,omitempty"`
	PaymentStage PaymentStage   `json:"paymentStage,omitempty"`
	Percentage   int            `json:"percentage,omitempty"`
	Purpose      string         `json:"purpose,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// WalletTransaction описывает неизменяемую запись журнала кошелька.
// Amount имеет знак: положительный для credit, отрицательный для debit.
type WalletTransaction struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Reference string
	Amount    decimal.Decimal
	Type      TransactionType
	Status    TransactionStatus
	Metadata  Metadata
	CreatedAt time.Time
}

// WalletEvent описывает событие исходящей очереди для сервиса уведомлений.
type WalletEvent struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}
