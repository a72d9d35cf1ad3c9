package grant

import "math"

// HibernationAmount returns the hibernation-breaking amount for a gap of
// intervalSec seconds, or 0 when the gap does not exceed minIntervalSec.
//
// The hours beyond the threshold follow a piecewise-linear curve: half a
// point per hour up to 12h, then 5/8 per hour up to 20h (from 6), then one
// per hour. The result is floored and clamped to [1, cap].
func HibernationAmount(intervalSec, minIntervalSec, cap int64) int64 {
	if intervalSec <= minIntervalSec {
		return 0
	}
	h := float64(intervalSec-minIntervalSec) / 3600

	var pt float64
	switch {
	case h <= 12:
		pt = h / 2
	case h <= 20:
		pt = (h-12)*5/8 + 6
	default:
		pt = h - 9
	}

	amount := int64(math.Floor(pt))
	if amount < 1 {
		amount = 1
	}
	if amount > cap {
		amount = cap
	}
	return amount
}

// NicePassAmount returns ceil(maxAmount × (maxIntervalSec − intervalSec) /
// maxIntervalSec) clamped to [0, maxAmount].
func NicePassAmount(intervalSec, maxIntervalSec, maxAmount int64) int64 {
	if maxIntervalSec <= 0 || intervalSec >= maxIntervalSec {
		return 0
	}
	if intervalSec <= 0 {
		return maxAmount
	}
	num := maxAmount * (maxIntervalSec - intervalSec)
	amount := (num + maxIntervalSec - 1) / maxIntervalSec
	if amount > maxAmount {
		amount = maxAmount
	}
	return amount
}
