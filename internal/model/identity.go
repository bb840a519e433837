package model

import (
	"fmt"

	"github.com/google/uuid"
)

// BidderKind различает формы идентичности участника торгов.
type BidderKind string

const (
	BidderTrucker            BidderKind = "trucker"
	BidderFleetManagerDriver BidderKind = "fleet_manager"
)

// BidderIdentity описывает участника торгов, один из двух вариантов:
// Trucker(id) | FleetManagerDriver(fleetManagerID, driverID).
// Нулевое значение невалидно.
type BidderIdentity struct {
	kind     BidderKind
	id       uuid.UUID
	driverID uuid.UUID
}

// Trucker создаёт идентичность независимого перевозчика.
func Trucker(id uuid.UUID) BidderIdentity {
	return BidderIdentity{kind: BidderTrucker, id: id}
}

// FleetManagerDriver создаёт идентичность менеджера автопарка, действующего за водителя.
func FleetManagerDriver(fleetManagerID, driverID uuid.UUID) BidderIdentity {
	return BidderIdentity{kind: BidderFleetManagerDriver, id: fleetManagerID, driverID: driverID}
}

// RestoreBidder собирает идентичность из сохранённых колонок.
func RestoreBidder(kind BidderKind, id uuid.UUID, driverID *uuid.UUID) (BidderIdentity, error) {
	var b BidderIdentity
	switch kind {
	case BidderTrucker:
		b = Trucker(id)
		if driverID != nil {
			return BidderIdentity{}, fmt.Errorf("%w: trucker bid with driver", ErrInvalidBidder)
		}
	case BidderFleetManagerDriver:
		if driverID == nil {
			return BidderIdentity{}, fmt.Errorf("%w: fleet manager bid without driver", ErrInvalidBidder)
		}
		b = FleetManagerDriver(id, *driverID)
	default:
		return BidderIdentity{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidBidder, kind)
	}
	return b, b.Validate()
}

// Kind возвращает форму идентичности.
func (b BidderIdentity) Kind() BidderKind { return b.kind }

// Payee возвращает счёт, на который зачисляются выплаты:
// перевозчик или менеджер автопарка.
func (b BidderIdentity) Payee() uuid.UUID { return b.id }

// Driver возвращает водителя, если ставка сделана менеджером автопарка.
func (b BidderIdentity) Driver() (uuid.UUID, bool) {
	if b.kind != BidderFleetManagerDriver {
		return uuid.Nil, false
	}
	return b.driverID, true
}

// DriverPtr возвращает водителя в виде, пригодном для nullable-колонки.
func (b BidderIdentity) DriverPtr() *uuid.UUID {
	if d, ok := b.Driver(); ok {
		return &d
	}
	return nil
}

// Validate проверяет, что идентичность заполнена корректно.
func (b BidderIdentity) Validate() error {
	switch b.kind {
	case BidderTrucker:
		if b.id == uuid.Nil {
			return fmt.Errorf("%w: empty trucker id", ErrInvalidBidder)
		}
	case BidderFleetManagerDriver:
		if b.id == uuid.Nil || b.driverID == uuid.Nil {
			return fmt.Errorf("%w: fleet manager and driver are required", ErrInvalidBidder)
		}
	default:
		return fmt.Errorf("%w: empty identity", ErrInvalidBidder)
	}
	return nil
}

// Key возвращает строку, уникальную для идентичности.
func (b BidderIdentity) Key() string {
	if b.kind == BidderFleetManagerDriver {
		return string(b.kind) + ":" + b.id.String() + ":" + b.driverID.String()
	}
	return string(b.kind) + ":" + b.id.String()
}

// Involves сообщает, участвует ли пользователь в идентичности (как плательщик или водитель).
func (b BidderIdentity) Involves(userID uuid.UUID) bool {
	if b.id == userID {
		return true
	}
	d, ok := b.Driver()
	return ok && d == userID
}

func (b BidderIdentity) String() string { return b.Key() }
