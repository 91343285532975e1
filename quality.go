package caracal

import "image"

// Quality fraction bounds handed to the encoder.
const (
	MinQuality = 0.05
	MaxQuality = 0.98
)

// Pixel-count thresholds for the complexity adjustment.
const (
	largeOutputPixels = 2_000_000
	smallOutputPixels = 500_000
)

// DeriveQuality turns the profile's nominal quality into the fraction
// passed to the encoder. It applies a mode factor, a resize-ratio factor
// (heavily downsized output tolerates less quality, barely resized output
// gets a little more) and a pixel-count factor, then clamps the result to
// [MinQuality, MaxQuality].
func DeriveQuality(p Profile, orig, out image.Point) float64 {
	q := float64(p.Quality) / 100

	switch p.Mode {
	case ModeAggressive:
		q *= 0.75
	case ModeGentle:
		q = min(q*1.15, MaxQuality)
	default:
		q *= 0.9
	}

	if origArea := orig.X * orig.Y; origArea > 0 {
		ratio := float64(out.X*out.Y) / float64(origArea)
		switch {
		case ratio < 0.5:
			q *= 0.95
		case ratio > 0.9:
			q *= 1.05
		}
	}

	switch pixels := out.X * out.Y; {
	case pixels > largeOutputPixels:
		q *= 0.95
	case pixels < smallOutputPixels:
		q *= 1.05
	}

	return max(MinQuality, min(q, MaxQuality))
}
