package shipment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mmeshcher/freight-settlement/internal/model"
	"github.com/mmeshcher/freight-settlement/internal/pricing"
	"github.com/mmeshcher/freight-settlement/internal/repository"
)

func TestLifecycle_Create(t *testing.T) {
	shipper := uuid.New()

	tests := []struct {
		name      string
		params    CreateParams
		setupMock func(m *MockPricer)
		wantCost  string
		wantErr   error
	}{
		{
			name:   "estimate from pricing service",
			params: CreateParams{ShipperID: shipper, Origin: "Moscow", Destination: "Kazan", WeightKg: 1200},
			setupMock: func(m *MockPricer) {
				m.EXPECT().
					Estimate(gomock.Any(), pricing.Route{Origin: "Moscow", Destination: "Kazan", WeightKg: 1200}).
					Return(decimal.NewFromInt(50000), nil)
			},
			wantCost: "50000",
		},
		{
			name:   "pricing service overrides client estimate",
			params: CreateParams{ShipperID: shipper, Origin: "A", Destination: "B", EstimatedCost: decimal.NewFromInt(1)},
			setupMock: func(m *MockPricer) {
				m.EXPECT().Estimate(gomock.Any(), gomock.Any()).Return(decimal.NewFromInt(700), nil)
			},
			wantCost: "700",
		},
		{
			name:   "pricing service failure",
			params: CreateParams{ShipperID: shipper, Origin: "A", Destination: "B"},
			setupMock: func(m *MockPricer) {
				m.EXPECT().Estimate(gomock.Any(), gomock.Any()).Return(decimal.Zero, errors.New("unavailable"))
			},
			wantErr: errors.New("estimate cost"),
		},
		{
			name:   "missing route",
			params:  CreateParams{ShipperID: shipper, Origin: " ", Destination: "B"},
			wantErr: errors.New("required"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			pricer := NewMockPricer(ctrl)
			if tt.setupMock != nil {
				tt.setupMock(pricer)
			}

			l := NewLifecycle(repository.NewMemoryRepository(), pricer)
			got, err := l.Create(context.Background(), tt.params)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr.Error())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, model.ShipmentStatusPending, got.Status)
			assert.Nil(t, got.Carrier)
			assert.True(t, got.EstimatedCost.Equal(decimal.RequireFromString(tt.wantCost)))
		})
	}
}

func TestLifecycle_CreateWithoutPricer(t *testing.T) {
	l := NewLifecycle(repository.NewMemoryRepository(), nil)

	_, err := l.Create(context.Background(), CreateParams{ShipperID: uuid.New(), Origin: "A", Destination: "B"})
	require.ErrorIs(t, err, model.ErrInvalidAmount)

	s, err := l.Create(context.Background(), CreateParams{
		ShipperID:     uuid.New(),
		Origin:        "A",
		Destination:   "B",
		EstimatedCost: decimal.RequireFromString("999.99"),
	})
	require.NoError(t, err)
	assert.True(t, s.EstimatedCost.Equal(decimal.RequireFromString("999.99")))
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to model.ShipmentStatus
		ok       bool
	}{
		{model.ShipmentStatusPending, model.ShipmentStatusAssigned, true},
		{model.ShipmentStatusAssigned, model.ShipmentStatusPickingUp, true},
		{model.ShipmentStatusAssigned, model.ShipmentStatusInTransit, true},
		{model.ShipmentStatusPickedUp, model.ShipmentStatusDelivered, true},
		{model.ShipmentStatusInTransit, model.ShipmentStatusInTransit, true},
		{model.ShipmentStatusDelivered, model.ShipmentStatusDelivered, true},
		{model.ShipmentStatusPending, model.ShipmentStatusCancelled, true},
		{model.ShipmentStatusInTransit, model.ShipmentStatusPickedUp, false},
		{model.ShipmentStatusDelivered, model.ShipmentStatusInTransit, false},
		{model.ShipmentStatusAssigned, model.ShipmentStatusCancelled, false},
		{model.ShipmentStatusCancelled, model.ShipmentStatusAssigned, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CheckTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, model.ErrInvalidTransition)
		})
	}
}

func TestLifecycle_TransitionReturnsPreviousStatus(t *testing.T) {
	ctx := context.Background()
	l := NewLifecycle(repository.NewMemoryRepository(), nil)

	s, err := l.Create(ctx, CreateParams{ShipperID: uuid.New(), Origin: "A", Destination: "B", EstimatedCost: decimal.NewFromInt(10)})
	require.NoError(t, err)

	ok, err := l.AssignCarrier(ctx, s.ID, model.Trucker(uuid.New()))
	require.NoError(t, err)
	require.True(t, ok)

	change, err := l.Transition(ctx, s.ID, model.ShipmentStatusInTransit)
	require.NoError(t, err)
	assert.Equal(t, model.ShipmentStatusAssigned, change.Previous)
	assert.Equal(t, model.ShipmentStatusInTransit, change.Current)
	assert.True(t, change.Changed())

	change, err = l.Transition(ctx, s.ID, model.ShipmentStatusInTransit)
	require.NoError(t, err)
	assert.False(t, change.Changed())

	_, err = l.Transition(ctx, s.ID, model.ShipmentStatusPending)
	require.ErrorIs(t, err, model.ErrInvalidStatus)

	_, err = l.Transition(ctx, s.ID, model.ShipmentStatus("lost"))
	require.ErrorIs(t, err, model.ErrInvalidStatus)

	_, err = l.Transition(ctx, uuid.New(), model.ShipmentStatusDelivered)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestLifecycle_AssignCarrierOnlyOnce(t *testing.T) {
	ctx := context.Background()
	l := NewLifecycle(repository.NewMemoryRepository(), nil)

	s, err := l.Create(ctx, CreateParams{ShipperID: uuid.New(), Origin: "A", Destination: "B", EstimatedCost: decimal.NewFromInt(10)})
	require.NoError(t, err)

	ok, err := l.AssignCarrier(ctx, s.ID, model.FleetManagerDriver(uuid.New(), uuid.New()))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.AssignCarrier(ctx, s.ID, model.Trucker(uuid.New()))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := l.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ShipmentStatusAssigned, got.Status)
	require.NotNil(t, got.Carrier)
	assert.Equal(t, model.BidderFleetManagerDriver, got.Carrier.Kind())

	_, err = l.AssignCarrier(ctx, s.ID, model.BidderIdentity{})
	require.ErrorIs(t, err, model.ErrInvalidBidder)
}

func TestLifecycle_Cancel(t *testing.T) {
	ctx := context.Background()
	l := NewLifecycle(repository.NewMemoryRepository(), nil)

	s, err := l.Create(ctx, CreateParams{ShipperID: uuid.New(), Origin: "A", Destination: "B", EstimatedCost: decimal.NewFromInt(10)})
	require.NoError(t, err)

	change, err := l.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ShipmentStatusCancelled, change.Current)

	_, err = l.Transition(ctx, s.ID, model.ShipmentStatusAssigned)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}
