package models

import "math"

// IsOnSale reports whether a discount price applies.
func IsOnSale(price, discountPrice float64) bool {
	return discountPrice > 0 && discountPrice < price
}

// EffectivePrice is the unit price a customer pays.
func EffectivePrice(price, discountPrice float64) float64 {
	if IsOnSale(price, discountPrice) {
		return discountPrice
	}
	return price
}

// RoundMoney rounds to two decimal places, half away from zero.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
