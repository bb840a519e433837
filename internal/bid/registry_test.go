package bid

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/repository"
)

func newShipment(t *testing.T, repo *repository.MemoryRepository, estimate string) *model.Shipment {
	t.Helper()

	s := &model.Shipment{
		ID:            uuid.New(),
		ShipperID:     uuid.New(),
		EstimatedCost: decimal.RequireFromString(estimate),
		Origin:        "Moscow",
		Destination:   "Kazan",
		Status:        model.ShipmentStatusPending,
	}
	require.NoError(t, repo.CreateShipment(context.Background(), s))
	return s
}

func TestSubmit_AmountWindow(t *testing.T) {
	repo := repository.NewMemoryRepository()
	r := NewRegistry(repo)
	s := newShipment(t, repo, "50000")

	tests := []struct {
		name    string
		amount  string
		wantErr error
	}{
		{name: "below estimate", amount: "49999", wantErr: model.ErrInvalidAmount},
		{name: "above window", amount: "250001", wantErr: model.ErrInvalidAmount},
		{name: "lower bound", amount: "50000"},
		{name: "upper bound", amount: "250000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Submit(context.Background(), s.ID, model.Trucker(uuid.New()),
				decimal.RequireFromString(tt.amount), "")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSubmit_DuplicatePendingBid(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	r := NewRegistry(repo)
	s := newShipment(t, repo, "1000")

	trucker := model.Trucker(uuid.New())
	_, err := r.Submit(ctx, s.ID, trucker, decimal.NewFromInt(1000), "first")
	require.NoError(t, err)

	_, err = r.Submit(ctx, s.ID, trucker, decimal.NewFromInt(1100), "second")
	require.ErrorIs(t, err, model.ErrDuplicateBid)

	// Тот же менеджер автопарка может ставить за разных водителей.
	fm := uuid.New()
	_, err = r.Submit(ctx, s.ID, model.FleetManagerDriver(fm, uuid.New()), decimal.NewFromInt(1000), "")
	require.NoError(t, err)
	_, err = r.Submit(ctx, s.ID, model.FleetManagerDriver(fm, uuid.New()), decimal.NewFromInt(1000), "")
	require.NoError(t, err)
}

func TestSubmit_InvalidBidderAndUnknownShipment(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	r := NewRegistry(repo)
	s := newShipment(t, repo, "1000")

	_, err := r.Submit(ctx, s.ID, model.BidderIdentity{}, decimal.NewFromInt(1000), "")
	require.ErrorIs(t, err, model.ErrInvalidBidder)

	_, err = r.Submit(ctx, s.ID, model.FleetManagerDriver(uuid.New(), uuid.Nil), decimal.NewFromInt(1000), "")
	require.ErrorIs(t, err, model.ErrInvalidBidder)

	_, err = r.Submit(ctx, uuid.New(), model.Trucker(uuid.New()), decimal.NewFromInt(1000), "")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestAccept_RejectsOtherPendingBids(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	r := NewRegistry(repo)
	s := newShipment(t, repo, "1000")

	winner, err := r.Submit(ctx, s.ID, model.Trucker(uuid.New()), decimal.NewFromInt(1100), "")
	require.NoError(t, err)
	loser1, err := r.Submit(ctx, s.ID, model.Trucker(uuid.New()), decimal.NewFromInt(1200), "")
	require.NoError(t, err)
	loser2, err := r.Submit(ctx, s.ID, model.FleetManagerDriver(uuid.New(), uuid.New()), decimal.NewFromInt(1300), "")
	require.NoError(t, err)

	res, err := r.Accept(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BidStatusAccepted, res.Bid.Status)
	assert.NotNil(t, res.Bid.AcceptedAt)
	assert.EqualValues(t, 2, res.Rejected)

	for _, id := range []uuid.UUID{loser1.ID, loser2.ID} {
		b, err := r.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.BidStatusRejected, b.Status)
	}

	accepted, ok, err := r.AcceptedFor(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, winner.ID, accepted.ID)

	_, err = r.Accept(ctx, winner.ID)
	require.ErrorIs(t, err, model.ErrBidNotPending)
	_, err = r.Accept(ctx, loser1.ID)
	require.ErrorIs(t, err, model.ErrBidNotPending)
}

func TestAccept_ConcurrentAcceptsProduceSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	r := NewRegistry(repo)
	s := newShipment(t, repo, "1000")

	var ids []uuid.UUID
	for i := 0; i < 10; i++ {
		b, err := r.Submit(ctx, s.ID, model.Trucker(uuid.New()), decimal.NewFromInt(1000), "")
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := r.Accept(ctx, id); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)

	bids, err := r.ListForShipment(ctx, s.ID)
	require.NoError(t, err)
	accepted := 0
	for _, b := range bids {
		if b.Status == model.BidStatusAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	r := NewRegistry(repo)
	s := newShipment(t, repo, "1000")

	truckerID := uuid.New()
	own, err := r.Submit(ctx, s.ID, model.Trucker(truckerID), decimal.NewFromInt(1000), "")
	require.NoError(t, err)

	err = r.Delete(ctx, own.ID, model.BidderTrucker, uuid.New())
	require.ErrorIs(t, err, model.ErrNotDeletable)

	err = r.Delete(ctx, own.ID, model.BidderFleetManagerDriver, truckerID)
	require.ErrorIs(t, err, model.ErrNotDeletable)

	require.NoError(t, r.Delete(ctx, own.ID, model.BidderTrucker, truckerID))

	_, err = r.Get(ctx, own.ID)
	require.ErrorIs(t, err, model.ErrNotFound)

	err = r.Delete(ctx, own.ID, model.BidderTrucker, truckerID)
	require.ErrorIs(t, err, model.ErrNotDeletable)
}

func TestDelete_AcceptedBidIsNotDeletable(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	r := NewRegistry(repo)
	s := newShipment(t, repo, "1000")

	fm, driver := uuid.New(), uuid.New()
	b, err := r.Submit(ctx, s.ID, model.FleetManagerDriver(fm, driver), decimal.NewFromInt(1000), "")
	require.NoError(t, err)

	_, err = r.Accept(ctx, b.ID)
	require.NoError(t, err)

	err = r.Delete(ctx, b.ID, model.BidderFleetManagerDriver, fm)
	require.ErrorIs(t, err, model.ErrNotDeletable)
}
