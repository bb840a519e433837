package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/freight-settlement/internal/model"
)

type memTxKey struct{}

type memoryEvent struct {
	event        model.WalletEvent
	published    bool
	lastError    string
	claimedUntil time.Time
}

type memoryState struct {
	shipments map[uuid.UUID]model.Shipment
	bids      map[uuid.UUID]model.Bid
	wallet    []model.WalletTransaction
	events    []memoryEvent
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		shipments: make(map[uuid.UUID]model.Shipment, len(s.shipments)),
		bids:      make(map[uuid.UUID]model.Bid, len(s.bids)),
		wallet:    append([]model.WalletTransaction(nil), s.wallet...),
		events:    append([]memoryEvent(nil), s.events...),
	}
	for k, v := range s.shipments {
		c.shipments[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	return c
}

// MemoryRepository хранит данные в памяти и повторяет транзакционный контракт
// PostgresRepository: InTx выполняется под общей блокировкой и откатывает
// все изменения при ошибке. Используется при пустом DATABASE_URI и в тестах.
type MemoryRepository struct {
	mu    sync.Mutex
	state memoryState
	now   func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: memoryState{
			shipments: make(map[uuid.UUID]model.Shipment),
			bids:      make(map[uuid.UUID]model.Bid),
		},
		now: time.Now,
	}
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (m *MemoryRepository) Close() error { return nil }

// InTx выполняет fn атомарно относительно остальных операций хранилища.
func (m *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) == m {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	committed := false
	// Откат выполняется и при панике в fn.
	defer func() {
		if !committed {
			m.state = snapshot
		}
	}()

	if err := fn(context.WithValue(ctx, memTxKey{}, m)); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *MemoryRepository) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) == m {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// CreateShipment сохраняет новую отправку.
func (m *MemoryRepository) CreateShipment(ctx context.Context, s *model.Shipment) error {
	defer m.lock(ctx)()

	if _, ok := m.state.shipments[s.ID]; ok {
		return fmt.Errorf("insert shipment: duplicate id %s", s.ID)
	}
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	m.state.shipments[s.ID] = *s
	return nil
}

// GetShipment возвращает отправку по идентификатору.
func (m *MemoryRepository) GetShipment(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	defer m.lock(ctx)()

	s, ok := m.state.shipments[id]
	if !ok {
		return nil, fmt.Errorf("shipment %s: %w", id, model.ErrNotFound)
	}
	return &s, nil
}

// LockShipment в памяти эквивалентен GetShipment: InTx уже сериализует доступ.
func (m *MemoryRepository) LockShipment(ctx context.Context, id uuid.UUID) (*model.Shipment, error) {
	return m.GetShipment(ctx, id)
}

// AssignCarrier назначает перевозчика, только если он ещё не назначен.
func (m *MemoryRepository) AssignCarrier(ctx context.Context, id uuid.UUID, carrier model.BidderIdentity) (bool, error) {
	defer m.lock(ctx)()

	s, ok := m.state.shipments[id]
	if !ok || s.Carrier != nil || s.Status != model.ShipmentStatusPending {
		return false, nil
	}
	s.Carrier = &carrier
	s.Status = model.ShipmentStatusAssigned
	s.UpdatedAt = m.now()
	m.state.shipments[id] = s
	return true, nil
}

// UpdateShipmentStatus устанавливает статус и возвращает прежний.
func (m *MemoryRepository) UpdateShipmentStatus(ctx context.Context, id uuid.UUID, status model.ShipmentStatus) (model.StatusChange, error) {
	defer m.lock(ctx)()

	s, ok := m.state.shipments[id]
	if !ok {
		return model.StatusChange{}, fmt.Errorf("shipment %s: %w", id, model.ErrNotFound)
	}
	change := model.StatusChange{Previous: s.Status, Current: status}
	s.Status = status
	s.UpdatedAt = m.now()
	m.state.shipments[id] = s
	return change, nil
}

// CreateBid сохраняет ставку, соблюдая уникальность ожидающей ставки участника.
func (m *MemoryRepository) CreateBid(ctx context.Context, b *model.Bid) error {
	defer m.lock(ctx)()

	if err := b.Bidder.Validate(); err != nil {
		return err
	}
	if _, ok := m.state.shipments[b.ShipmentID]; !ok {
		return fmt.Errorf("shipment %s: %w", b.ShipmentID, model.ErrNotFound)
	}
	for _, other := range m.state.bids {
		if other.ShipmentID == b.ShipmentID && other.Status == model.BidStatusPending &&
			other.Bidder.Key() == b.Bidder.Key() {
			return fmt.Errorf("%w: %s", model.ErrDuplicateBid, b.Bidder)
		}
	}
	b.CreatedAt = m.now()
	m.state.bids[b.ID] = *b
	return nil
}

// GetBid возвращает ставку по идентификатору.
func (m *MemoryRepository) GetBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	defer m.lock(ctx)()

	b, ok := m.state.bids[id]
	if !ok {
		return nil, fmt.Errorf("bid %s: %w", id, model.ErrNotFound)
	}
	return &b, nil
}

// LockBid в памяти эквивалентен GetBid.
func (m *MemoryRepository) LockBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	return m.GetBid(ctx, id)
}

// ListBids возвращает ставки по отправке, от ранних к поздним.
func (m *MemoryRepository) ListBids(ctx context.Context, shipmentID uuid.UUID) ([]model.Bid, error) {
	defer m.lock(ctx)()

	var res []model.Bid
	for _, b := range m.state.bids {
		if b.ShipmentID == shipmentID {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID.String() < res[j].ID.String()
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// GetAcceptedBid возвращает принятую ставку по отправке.
func (m *MemoryRepository) GetAcceptedBid(ctx context.Context, shipmentID uuid.UUID) (*model.Bid, error) {
	defer m.lock(ctx)()

	for _, b := range m.state.bids {
		if b.ShipmentID == shipmentID && b.Status == model.BidStatusAccepted {
			return &b, nil
		}
	}
	return nil, fmt.Errorf("accepted bid for %s: %w", shipmentID, model.ErrNotFound)
}

// MarkBidAccepted переводит ставку из pending в accepted.
func (m *MemoryRepository) MarkBidAccepted(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer m.lock(ctx)()

	b, ok := m.state.bids[id]
	if !ok || b.Status != model.BidStatusPending {
		return fmt.Errorf("bid %s: %w", id, model.ErrBidNotPending)
	}
	for _, other := range m.state.bids {
		if other.ShipmentID == b.ShipmentID && other.Status == model.BidStatusAccepted {
			return fmt.Errorf("%w: another bid already accepted", model.ErrShipmentNotBiddable)
		}
	}
	b.Status = model.BidStatusAccepted
	b.AcceptedAt = &at
	m.state.bids[id] = b
	return nil
}

// RejectPendingBids отклоняет ожидающие ставки по отправке, кроме exceptID.
func (m *MemoryRepository) RejectPendingBids(ctx context.Context, shipmentID, exceptID uuid.UUID) (int64, error) {
	defer m.lock(ctx)()

	var n int64
	for id, b := range m.state.bids {
		if b.ShipmentID == shipmentID && id != exceptID && b.Status == model.BidStatusPending {
			b.Status = model.BidStatusRejected
			m.state.bids[id] = b
			n++
		}
	}
	return n, nil
}

// DeletePendingBid удаляет ожидающую ставку владельца.
func (m *MemoryRepository) DeletePendingBid(ctx context.Context, id uuid.UUID, kind model.BidderKind, owner uuid.UUID) (bool, error) {
	defer m.lock(ctx)()

	b, ok := m.state.bids[id]
	if !ok || b.Status != model.BidStatusPending || b.Bidder.Kind() != kind || b.Bidder.Payee() != owner {
		return false, nil
	}
	delete(m.state.bids, id)
	return true, nil
}

// LockAccount в памяти не нужен: InTx уже держит общую блокировку.
func (m *MemoryRepository) LockAccount(context.Context, uuid.UUID) error { return nil }

// AccountBalance возвращает сумму успешных проводок по счёту в копейках.
func (m *MemoryRepository) AccountBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	defer m.lock(ctx)()

	var total int64
	for _, t := range m.state.wallet {
		if t.AccountID == accountID && t.Status == model.TransactionSuccess {
			total += model.ToCents(t.Amount)
		}
	}
	return total, nil
}

// InsertWalletTransaction добавляет запись в журнал с теми же ограничениями уникальности,
// что и схема PostgreSQL.
func (m *MemoryRepository) InsertWalletTransaction(ctx context.Context, t *model.WalletTransaction) error {
	defer m.lock(ctx)()

	if (t.Type == model.TransactionCredit && !t.Amount.IsPositive()) ||
		(t.Type == model.TransactionDebit && !t.Amount.IsNegative()) {
		return fmt.Errorf("insert wallet transaction: amount sign does not match type %s", t.Type)
	}

	stage := t.Metadata.PaymentStage
	for _, other := range m.state.wallet {
		if other.AccountID == t.AccountID && other.Reference == t.Reference {
			return fmt.Errorf("%w: %s", model.ErrDuplicateReference, t.Reference)
		}
		if stage != "" && t.Status == model.TransactionSuccess && other.Status == model.TransactionSuccess &&
			other.Metadata.PaymentStage == stage && sameID(other.Metadata.ShipmentID, t.Metadata.ShipmentID) &&
			sameID(other.Metadata.BidID, t.Metadata.BidID) {
			return fmt.Errorf("%w: %s", model.ErrStageAlreadySettled, stage)
		}
	}
	t.CreatedAt = m.now()
	m.state.wallet = append(m.state.wallet, *t)
	return nil
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// FindStageTransaction возвращает успешную проводку этапа оплаты.
func (m *MemoryRepository) FindStageTransaction(ctx context.Context, shipmentID, bidID uuid.UUID, stage model.PaymentStage) (*model.WalletTransaction, error) {
	defer m.lock(ctx)()

	for _, t := range m.state.wallet {
		if t.Status == model.TransactionSuccess && t.Metadata.PaymentStage == stage &&
			sameID(t.Metadata.ShipmentID, &shipmentID) && sameID(t.Metadata.BidID, &bidID) {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("stage %s: %w", stage, model.ErrNotFound)
}

// ListWalletTransactions возвращает историю проводок по счёту, начиная с последних.
func (m *MemoryRepository) ListWalletTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]model.WalletTransaction, error) {
	defer m.lock(ctx)()

	var res []model.WalletTransaction
	for i := len(m.state.wallet) - 1; i >= 0 && len(res) < limit; i-- {
		if t := m.state.wallet[i]; t.AccountID == accountID {
			res = append(res, t)
		}
	}
	return res, nil
}

// EnqueueWalletEvent ставит событие в исходящую очередь.
func (m *MemoryRepository) EnqueueWalletEvent(ctx context.Context, e *model.WalletEvent) error {
	defer m.lock(ctx)()

	e.CreatedAt = m.now()
	m.state.events = append(m.state.events, memoryEvent{event: *e})
	return nil
}

// ClaimWalletEvents захватывает неотправленные события на время lease в порядке постановки.
func (m *MemoryRepository) ClaimWalletEvents(ctx context.Context, limit int, lease time.Duration) ([]model.WalletEvent, error) {
	defer m.lock(ctx)()

	now := m.now()
	var res []model.WalletEvent
	for i := range m.state.events {
		if len(res) >= limit {
			break
		}
		e := &m.state.events[i]
		if e.published || e.claimedUntil.After(now) {
			continue
		}
		e.claimedUntil = now.Add(lease)
		res = append(res, e.event)
	}
	return res, nil
}

// MarkWalletEventPublished отмечает событие доставленным.
func (m *MemoryRepository) MarkWalletEventPublished(ctx context.Context, id uuid.UUID) error {
	defer m.lock(ctx)()

	for i := range m.state.events {
		if m.state.events[i].event.ID == id {
			m.state.events[i].published = true
			m.state.events[i].event.Attempts++
			m.state.events[i].lastError = ""
		}
	}
	return nil
}

// MarkWalletEventFailed увеличивает счётчик попыток события.
func (m *MemoryRepository) MarkWalletEventFailed(ctx context.Context, id uuid.UUID, reason string) error {
	defer m.lock(ctx)()

	for i := range m.state.events {
		if m.state.events[i].event.ID == id {
			m.state.events[i].event.Attempts++
			m.state.events[i].lastError = reason
			m.state.events[i].claimedUntil = time.Time{}
		}
	}
	return nil
}
