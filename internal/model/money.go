package model

import "github.com/shopspring/decimal"

// MaxBidOverEstimate задаёт наибольшее превышение ставки над оценкой стоимости.
var MaxBidOverEstimate = decimal.NewFromInt(200_000)

// ToCents переводит сумму в минимальные единицы с округлением до копеек.
func ToCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

// FromCents переводит минимальные единицы в сумму.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// Percent возвращает p% от суммы, округлённые до копеек.
func Percent(amount decimal.Decimal, p int) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(p))).Div(decimal.NewFromInt(100)).Round(2)
}
