// Package fixed implements the deterministic fixed-point substrate used
// everywhere in the simulation path: Q16.16 for local quantities and rates,
// Q32.32 for world positions and balances. No floating point is used; every
// conversion saturates at the target type's bounds instead of wrapping.
package fixed

import "math"

// Q16 is a signed Q16.16 fixed-point number backed by an int32.
type Q16 int32

// Q32 is a signed Q32.32 fixed-point number backed by an int64.
type Q32 int64

const (
	fracQ16 = 16
	fracQ32 = 32

	// shift between the two fractional widths; Q32 has 16 more fractional
	// bits than Q16.
	fracShift = fracQ32 - fracQ16
)

// FromInt builds a Q16 from a plain integer, saturating on overflow.
func Q16FromInt(v int32) Q16 {
	hi := int64(v) << fracQ16
	return Q16(saturate32(hi))
}

// FromInt builds a Q32 from a plain integer; a 32-bit integer always fits.
func Q32FromInt(v int64) Q32 {
	return Q32(saturateMul64(v, 1<<fracQ32))
}

// ToInt truncates toward zero, discarding the fractional part.
func (a Q16) ToInt() int32 { return int32(int64(a) / (1 << fracQ16)) }

// ToInt truncates toward zero, discarding the fractional part.
func (a Q32) ToInt() int64 { return int64(a) / (1 << fracQ32) }

// Frac returns the raw fractional bits, always non-negative.
func (a Q16) Frac() int32 {
	f := int32(a) & ((1 << fracQ16) - 1)
	return f
}

// Add saturates on overflow.
func (a Q16) Add(b Q16) Q16 { return Q16(saturate32(int64(a) + int64(b))) }

// Sub saturates on overflow.
func (a Q16) Sub(b Q16) Q16 { return Q16(saturate32(int64(a) - int64(b))) }

// Mul multiplies two Q16.16 values using a 64-bit intermediate, shifting
// right by the fractional width, and saturates the 32-bit result.
func (a Q16) Mul(b Q16) Q16 {
	prod := int64(a) * int64(b)
	return Q16(saturate32(prod >> fracQ16))
}

// Div divides two Q16.16 values: the dividend is shifted left by the
// fractional width before the integer divide so the result keeps its
// fractional precision. Division by zero saturates to the sign-correct
// extreme rather than panicking.
func (a Q16) Div(b Q16) Q16 {
	if b == 0 {
		if a >= 0 {
			return math.MaxInt32
		}
		return math.MinInt32
	}
	num := int64(a) << fracQ16
	return Q16(saturate32(num / int64(b)))
}

// Neg negates, saturating (only relevant at MinInt32).
func (a Q16) Neg() Q16 { return Q16(saturate32(-int64(a))) }

// Add saturates on overflow.
func (a Q32) Add(b Q32) Q32 { return Q32(saturateAdd64(int64(a), int64(b))) }

// Sub saturates on overflow.
func (a Q32) Sub(b Q32) Q32 { return Q32(saturateSub64(int64(a), int64(b))) }

// Mul multiplies two Q32.32 values. The true product needs 128 bits; we
// stage it as hi/lo 64-bit halves rather than reaching for a big-int type,
// since the sim path must stay allocation-free and branch-predictable.
func (a Q32) Mul(b Q32) Q32 {
	hi, lo := mul64(int64(a), int64(b))
	return Q32(saturateFromWide(hi, lo))
}

// Div divides two Q32.32 values, shifting the dividend left by the
// fractional width before dividing.
func (a Q32) Div(b Q32) Q32 {
	if b == 0 {
		if a >= 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	// a << 32 would overflow int64 for most values of a, so stage the
	// division through the 128-bit product helper: (a << 32) / b.
	hi, lo := mul64(int64(a), 1<<fracQ32)
	return Q32(divWide(hi, lo, int64(b)))
}

// Neg negates, saturating.
func (a Q32) Neg() Q32 { return Q32(saturateSub64(0, int64(a))) }

// Q16ToQ32 widens a Q16.16 value into Q32.32 by shifting the fractional
// width difference.
func Q16ToQ32(v Q16) Q32 { return Q32(int64(v) << fracShift) }

// Q32ToQ16 narrows a Q32.32 value into Q16.16, saturating at the Q16
// bounds if the integer part doesn't fit.
func Q32ToQ16(v Q32) Q16 {
	shifted := int64(v) >> fracShift
	return Q16(saturate32(shifted))
}

func saturate32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

func saturateAdd64(a, b int64) int64 {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s > 0) {
		if a > 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return s
}

func saturateSub64(a, b int64) int64 {
	return saturateAdd64(a, -b)
}

func saturateMul64(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/a != b {
		if (a > 0) == (b > 0) {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return p
}

// mul64 returns the signed 128-bit product of a and b as (hi, lo), with lo
// treated as the unsigned low 64 bits.
func mul64(a, b int64) (hi, lo int64) {
	neg := false
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
		neg = !neg
	}
	if b < 0 {
		ub = uint64(-b)
		neg = !neg
	}
	hiU, loU := bitsMul64(ua, ub)
	if neg {
		// two's complement negate of the 128-bit (hiU, loU) pair
		loU = ^loU + 1
		hiU = ^hiU
		if loU == 0 {
			hiU++
		}
	}
	return int64(hiU), int64(loU)
}

func bitsMul64(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xffffffff
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	hi = aHi*bHi + w2 + k
	lo = (t << 32) | w0
	return hi, lo
}

func saturateFromWide(hi, lo int64) int64 {
	// After shifting right by fracQ32, the result fits int64 only when hi
	// lies in [-2^31, 2^31); anything else overflows int64.
	if hi >= 1<<(63-fracQ32) {
		return math.MaxInt64
	}
	if hi < -(1 << (63 - fracQ32)) {
		return math.MinInt64
	}
	return (hi << (64 - fracQ32)) | int64(uint64(lo)>>fracQ32)
}

func divWide(hi, lo int64, divisor int64) int64 {
	if hi == 0 && lo >= 0 {
		return saturateDiv(lo, divisor)
	}
	// Otherwise (a negative dividend, or one of 2^63 or more) run a
	// shift-and-subtract long division on the 128-bit magnitude.
	neg := false
	uhi, ulo := uint64(hi), uint64(lo)
	if hi < 0 {
		ulo = ^ulo + 1
		uhi = ^uhi
		if ulo == 0 {
			uhi++
		}
		neg = !neg
	}
	d := divisor
	if d < 0 {
		d = -d
		neg = !neg
	}
	q := longDiv128By64(uhi, ulo, uint64(d))
	if neg {
		if q > math.MaxInt64 {
			return math.MinInt64
		}
		return -int64(q)
	}
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

func longDiv128By64(hi, lo, d uint64) uint64 {
	if hi >= d {
		return math.MaxUint64
	}
	var q uint64
	rem := hi
	for i := 63; i >= 0; i-- {
		carry := rem >> 63
		rem = (rem << 1) | (lo >> 63)
		lo <<= 1
		if carry != 0 || rem >= d {
			rem -= d
			q |= 1 << uint(i)
		}
	}
	return q
}

func saturateDiv(a, b int64) int64 {
	if b == 0 {
		if a >= 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	if a == math.MinInt64 && b == -1 {
		return math.MaxInt64
	}
	return a / b
}
