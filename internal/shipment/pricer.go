package shipment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freight-settlement/internal/pricing"
)

//go:generate mockgen -source=pricer.go -destination=pricer_mock.go -package=shipment

// Pricer оценивает стоимость перевозки по маршруту.
type Pricer interface {
	Estimate(ctx context.Context, route pricing.Route) (decimal.Decimal, error)
}
