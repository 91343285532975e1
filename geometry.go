package caracal

import "math"

// webMaxDimension is the second cap applied to web-optimized output.
const webMaxDimension = 1920

// PlanGeometry returns the output dimensions for a width x height source
// under p. The larger side is capped by the mode (and by the web cap for
// web-optimized profiles) with the aspect ratio preserved. Dimensions are
// rounded to even values without ever exceeding the source; a side of 1
// stays 1. Non-positive input is the caller's responsibility.
func PlanGeometry(p Profile, width, height int) (int, int) {
	w, h := fitWithin(width, height, width, height, p.Mode.maxDimension())
	if p.webOptimized() {
		w, h = fitWithin(w, h, width, height, min(p.Mode.maxDimension(), webMaxDimension))
	}
	return evenWithin(float64(w), width), evenWithin(float64(h), height)
}

// fitWithin scales w x h so its larger side is at most limit. srcW and
// srcH bound the result.
func fitWithin(w, h, srcW, srcH, limit int) (int, int) {
	if max(w, h) <= limit {
		return w, h
	}
	scale := float64(limit) / float64(max(w, h))
	return evenWithin(float64(w)*scale, srcW), evenWithin(float64(h)*scale, srcH)
}

// evenWithin rounds v to the nearest even integer, stepping down when that
// would exceed limit.
func evenWithin(v float64, limit int) int {
	if limit <= 1 {
		return limit
	}
	e := int(math.Round(v/2)) * 2
	if e > limit {
		e -= 2
	}
	if e < 2 {
		e = 2
	}
	return e
}
