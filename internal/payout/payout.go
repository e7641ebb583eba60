// Package payout computes the demand-responsive payout: the longer the faucet
// has gone without a successful claim, the larger the next one.
package payout

import (
	"math"
	"strconv"
	"strings"
)

const (
	PeriodSec uint64 = 24 * 60 * 60
	StepSec   uint64 = 60 * 60
	Steps            = PeriodSec / StepSec
)

// Coefficient grows by adjustment for every full step elapsed since the last
// system-wide successful claim, up to Steps*adjustment. A last claim in the
// future counts as zero elapsed time.
func Coefficient(now, lastSuccessfulClaim uint64, adjustment float64) float64 {
	var elapsed uint64
	if now > lastSuccessfulClaim {
		elapsed = now - lastSuccessfulClaim
	}
	steps := min(elapsed/StepSec, Steps)
	return float64(steps) * adjustment
}

// MaxCoefficient is the coefficient once a full period has passed.
func MaxCoefficient(adjustment float64) float64 {
	return float64(Steps) * adjustment
}

// Amount is base plus floor(base*coefficient), saturating at MaxUint64.
func Amount(base uint64, coefficient float64) uint64 {
	bonus := math.Floor(float64(base) * coefficient)
	if bonus <= 0 || math.IsNaN(bonus) {
		return base
	}
	if bonus >= float64(math.MaxUint64-base) {
		return math.MaxUint64
	}
	return base + uint64(bonus)
}

// Range is the payout span shown to requesters.
type Range struct {
	Min     uint64
	Current uint64
	Max     uint64
}

// Schedule binds the configured base amount and adjustment factor.
type Schedule struct {
	Base       uint64
	Adjustment float64
}

func (s Schedule) Coefficient(now, lastSuccessfulClaim uint64) float64 {
	return Coefficient(now, lastSuccessfulClaim, s.Adjustment)
}

func (s Schedule) Amount(coefficient float64) uint64 {
	return Amount(s.Base, coefficient)
}

// Range returns the minimum, current and maximum payout for the live coefficient.
func (s Schedule) Range(current float64) Range {
	return Range{
		Min:     Amount(s.Base, 0),
		Current: Amount(s.Base, current),
		Max:     Amount(s.Base, MaxCoefficient(s.Adjustment)),
	}
}

// FormatUnits renders amount, given in the smallest unit, as a decimal with
// the given number of fractional digits. Trailing zeros are trimmed but one
// fractional digit is always kept: FormatUnits(1e16, 18) == "0.01".
func FormatUnits(amount uint64, decimals int) string {
	digits := strconv.FormatUint(amount, 10)
	if decimals <= 0 {
		return digits
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-decimals], digits[len(digits)-decimals:]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}
	return whole + "." + frac
}
