package math

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// Scale is the fixed-point denominator for exchange rates: a rate of 1.0 is 10^14.
const Scale int64 = 100_000_000_000_000

// RateDecimals is log10(Scale).
const RateDecimals = 14

type RoundingMode int

const (
	RoundDown     RoundingMode = iota // truncate toward zero
	RoundHalfEven                     // banker's rounding
	RoundUp                           // away from zero
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
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b without int64 overflow. The caller owns the
// returned value and should hand it back with Release.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	x := getInt128().SetInt64(a)
	y := getInt128().SetInt64(b)
	result.Mul(x, y)
	putInt128(x)
	putInt128(y)
	return result
}

// Release returns an intermediate obtained from MultiplyInt128 to the pool.
func Release(v *big.Int) {
	if v != nil {
		putInt128(v)
	}
}

// DivideInt128 performs numerator / denominator with the given rounding.
// Results outside the int64 range saturate.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := getInt128().SetInt64(denominator)
	quotient := getInt128()
	remainder := getInt128()
	defer func() {
		putInt128(denom)
		putInt128(quotient)
		putInt128(remainder)
	}()

	// QuoRem truncates toward zero
	quotient.QuoRem(numerator, denom, remainder)

	if remainder.Sign() != 0 {
		negative := numerator.Sign()*denom.Sign() < 0
		switch roundingMode {
		case RoundUp:
			bumpAwayFromZero(quotient, negative)
		case RoundHalfEven:
			twice := getInt128().Abs(remainder)
			twice.Lsh(twice, 1)
			absDenom := getInt128().Abs(denom)
			cmp := twice.Cmp(absDenom)
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				bumpAwayFromZero(quotient, negative)
			}
			putInt128(twice)
			putInt128(absDenom)
		}
	}

	return saturate(quotient)
}

func bumpAwayFromZero(q *big.Int, negative bool) {
	if negative {
		q.Sub(q, big.NewInt(1))
	} else {
		q.Add(q, big.NewInt(1))
	}
}

func saturate(v *big.Int) int64 {
	if v.IsInt64() {
		return v.Int64()
	}
	if v.Sign() < 0 {
		return -1 << 63
	}
	return 1<<63 - 1
}

// MulDiv computes a * b / c with an int128 intermediate.
func MulDiv(a, b, c int64, roundingMode RoundingMode) int64 {
	product := MultiplyInt128(a, b)
	result := DivideInt128(product, c, roundingMode)
	putInt128(product)
	return result
}

// ConvertAToB converts an Asset A amount into Asset B units: amount * rate / Scale.
func ConvertAToB(amount, rate int64) int64 {
	return MulDiv(amount, rate, Scale, RoundDown)
}

// ConvertBToA converts an Asset B amount into Asset A units: amount * Scale / rate.
// A non-positive rate converts to 0.
func ConvertBToA(amount, rate int64) int64 {
	if rate <= 0 {
		return 0
	}
	return MulDiv(amount, Scale, rate, RoundDown)
}

// Percentage returns amount * pct / 100, truncated.
func Percentage(amount, pct int64) int64 {
	return MulDiv(amount, pct, 100, RoundDown)
}

// ParseRate parses a human-readable rate such as "0.91" into a Scale-based integer.
func ParseRate(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse rate %q: %w", s, err)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("rate %q must be positive", s)
	}
	shifted := d.Shift(RateDecimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("rate %q has more than %d decimal places", s, RateDecimals)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("rate %q out of range", s)
	}
	return shifted.IntPart(), nil
}

// FormatRate renders a Scale-based rate as a decimal string ("0.91").
func FormatRate(rate int64) string {
	return decimal.New(rate, -RateDecimals).String()
}
