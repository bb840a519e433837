// Package validation содержит функции валидации входных данных.
package validation

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freight-settlement/internal/model"
)

// IsValidMoney проверяет, что сумма положительна и содержит не больше двух знаков после запятой.
func IsValidMoney(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return amount.Equal(amount.Round(2))
}

// IsValidBidAmount проверяет, что ставка попадает в окно
// [estimatedCost, estimatedCost + model.MaxBidOverEstimate].
func IsValidBidAmount(estimatedCost, amount decimal.Decimal) bool {
	if !IsValidMoney(amount) {
		return false
	}
	if amount.LessThan(estimatedCost) {
		return false
	}
	return !amount.GreaterThan(estimatedCost.Add(model.MaxBidOverEstimate))
}

// IsValidTargetStatus проверяет, что статус можно установить явно:
// это любой известный статус, кроме начального pending.
func IsValidTargetStatus(status model.ShipmentStatus) bool {
	return status.Valid() && status != model.ShipmentStatusPending
}
