package fpmath

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	PriceConfig    = DecimalConfig{DecimalPrecision: 2, Scale: 100}         // 0.01 per tick
	QuantityConfig = DecimalConfig{DecimalPrecision: 0, Scale: 1}           // whole lots
	QuoteConfig    = DecimalConfig{DecimalPrecision: 2, Scale: 100}         // 0.01 (PnL, margin)
	FractionConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}   // margin fractions, ratios
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// ComputeAvgEntryPrice calculates weighted average entry price
func ComputeAvgEntryPrice(oldQty, oldAvgEntry, fillQty, fillPrice int64) int64 {
	if oldQty == 0 {
		return fillPrice
	}

	// numerator = oldQty * oldAvgEntry + fillQty * fillPrice
	term1 := MultiplyInt128(oldQty, oldAvgEntry)
	term2 := MultiplyInt128(fillQty, fillPrice)
	numerator := getInt128()
	numerator.Add(term1, term2)

	denominator := oldQty + fillQty

	result := DivideInt128(numerator, denominator, RoundHalfEven)

	putInt128(term1)
	putInt128(term2)
	putInt128(numerator)

	return result
}

// ComputeRealizedPnL calculates PnL for closing closeQty lots against the
// average entry price. sideSign is +1 for long, -1 for short. contractSize
// scales one lot of price movement into quote units.
func ComputeRealizedPnL(sideSign, exitPrice, avgEntryPrice, closeQty, contractSize int64) int64 {
	priceDiff := exitPrice - avgEntryPrice

	// raw = sideSign * priceDiff * closeQty * contractSize (price scale)
	temp := MultiplyInt128(sideSign*priceDiff, closeQty)
	temp.Mul(temp, big.NewInt(contractSize))

	// Convert price scale → quote scale
	temp.Mul(temp, big.NewInt(QuoteConfig.Scale))
	denominator := PriceConfig.Scale * QuantityConfig.Scale

	result := DivideInt128(temp, denominator, RoundHalfEven)

	putInt128(temp)

	return result
}

// ComputeNotional calculates gross notional value in quote scale.
// Quantity is taken as magnitude; the sign of a position does not change
// its notional.
func ComputeNotional(quantity, price, contractSize int64) int64 {
	if quantity < 0 {
		quantity = -quantity
	}

	raw := MultiplyInt128(quantity, price)
	raw.Mul(raw, big.NewInt(contractSize))

	raw.Mul(raw, big.NewInt(QuoteConfig.Scale))
	denominator := PriceConfig.Scale * QuantityConfig.Scale

	result := DivideInt128(raw, denominator, RoundHalfEven)

	putInt128(raw)

	return result
}

// ApplyFraction multiplies a quote amount by a fixed-point fraction
// (FractionConfig scale).
func ApplyFraction(amount, fraction int64) int64 {
	raw := MultiplyInt128(amount, fraction)
	result := DivideInt128(raw, FractionConfig.Scale, RoundHalfEven)
	putInt128(raw)
	return result
}

// Ratio returns numerator/denominator as a fixed-point fraction
// (FractionConfig scale). Denominator must be positive.
func Ratio(numerator, denominator int64) int64 {
	raw := MultiplyInt128(numerator, FractionConfig.Scale)
	result := DivideInt128(raw, denominator, RoundHalfEven)
	putInt128(raw)
	return result
}
