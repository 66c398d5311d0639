package decision

import (
	"math"

	"github.com/shopspring/decimal"
)

// QuantityPlaces 是下单数量保留的小数位。
const QuantityPlaces = 8

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// Quantity 按金额与价格计算数量，向下截断到 QuantityPlaces 位。
func Quantity(amountUSD, price float64) float64 {
	if amountUSD <= 0 || price <= 0 {
		return 0
	}
	return decToFloat(decFromFloat(amountUSD).Div(decFromFloat(price)).Truncate(QuantityPlaces))
}

// Cents 向下截断到分。
func Cents(v float64) float64 {
	return decToFloat(decFromFloat(v).Truncate(2))
}

// MinFloat 返回较小值。
func MinFloat(a, b float64) float64 {
	return decToFloat(decimal.Min(decFromFloat(a), decFromFloat(b)))
}
