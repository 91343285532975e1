package caracal

import (
	"math"
	"runtime"
	"sync"

	"github.com/corona10/goimagehash"
	"github.com/pkg/errors"
)

// diffAmplification scales the difference map for visibility.
const diffAmplification = 3

// Histogram holds per-channel value counts.
type Histogram struct {
	R [256]int `json:"r"`
	G [256]int `json:"g"`
	B [256]int `json:"b"`
}

// DiffMap visualises where two rasters differ.
type DiffMap struct {
	// Image is a grey raster of the amplified per-pixel difference.
	Image *Raster `json:"-"`
	// Max is the largest raw (unamplified) per-pixel difference.
	Max float64 `json:"max"`
	// Mean is the average raw per-pixel difference.
	Mean float64 `json:"mean"`
}

// VisualComparison bundles the side-by-side diagnostics for two rasters.
type VisualComparison struct {
	Original   Histogram `json:"original"`
	Compressed Histogram `json:"compressed"`
	Diff       DiffMap   `json:"diff"`

	// WindowedSSIM is the 8x8 Gaussian-window SSIM. Informational only;
	// the overall score uses the global SSIM.
	WindowedSSIM float64 `json:"windowedSsim"`

	// PerceptualDistance is the Hamming distance between perceptual
	// hashes, 0 for visually identical images.
	PerceptualDistance int `json:"perceptualDistance"`
}

// CompareVisual computes histograms, the difference map and the
// supplementary similarity measures for two equal-sized rasters.
func CompareVisual(original, compressed *Raster) (*VisualComparison, error) {
	if err := checkPair("compare visual", original, compressed); err != nil {
		return nil, err
	}
	diff, err := NewDiffMap(original, compressed)
	if err != nil {
		return nil, err
	}
	dist, err := perceptualDistance(original, compressed)
	if err != nil {
		return nil, err
	}
	return &VisualComparison{
		Original:           NewHistogram(original),
		Compressed:         NewHistogram(compressed),
		Diff:               *diff,
		WindowedSSIM:       windowedSSIM(luminance(original), luminance(compressed), original.Width, original.Height),
		PerceptualDistance: dist,
	}, nil
}

// NewHistogram counts R, G and B values over all pixels.
func NewHistogram(r *Raster) Histogram {
	var h Histogram
	for i := 0; i < len(r.Pix); i += 4 {
		h.R[r.Pix[i]]++
		h.G[r.Pix[i+1]]++
		h.B[r.Pix[i+2]]++
	}
	return h
}

// NewDiffMap computes the mean absolute R, G, B difference per pixel.
func NewDiffMap(a, b *Raster) (*DiffMap, error) {
	if err := checkPair("diff map", a, b); err != nil {
		return nil, err
	}
	img := &Raster{Width: a.Width, Height: a.Height, Pix: make([]uint8, len(a.Pix))}
	var maxDiff, sum float64
	for i := 0; i < len(a.Pix); i += 4 {
		d := (absDiff(a.Pix[i], b.Pix[i]) + absDiff(a.Pix[i+1], b.Pix[i+1]) + absDiff(a.Pix[i+2], b.Pix[i+2])) / 3
		maxDiff = max(maxDiff, d)
		sum += d
		v := clampF(min(d*diffAmplification, 255))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 0xff
	}
	return &DiffMap{
		Image: img,
		Max:   maxDiff,
		Mean:  sum / float64(a.Width*a.Height),
	}, nil
}

func absDiff(x, y uint8) float64 {
	return math.Abs(float64(x) - float64(y))
}

// WindowedSSIM computes the reference-style SSIM: an 8x8 sliding window
// with Gaussian weighting (sigma 1.5) on BT.601 luma, averaged over all
// window positions. Rasters smaller than the window fall back to the
// global form.
func WindowedSSIM(a, b *Raster) (float64, error) {
	if err := checkPair("windowed ssim", a, b); err != nil {
		return 0, err
	}
	return windowedSSIM(luminance(a), luminance(b), a.Width, a.Height), nil
}

func perceptualDistance(a, b *Raster) (int, error) {
	ha, err := goimagehash.PerceptionHash(a.NRGBA())
	if err != nil {
		return 0, errors.Wrap(err, "perception hash")
	}
	hb, err := goimagehash.PerceptionHash(b.NRGBA())
	if err != nil {
		return 0, errors.Wrap(err, "perception hash")
	}
	return ha.Distance(hb)
}

const ssimWindow = 8

func windowedSSIM(lumA, lumB []float64, w, h int) float64 {
	if w < ssimWindow || h < ssimWindow {
		return globalSSIM(lumA, lumB)
	}
	half := ssimWindow / 2
	kernel := gaussianKernel(ssimWindow, 1.5)

	type partial struct {
		sum   float64
		count int
	}

	rows := h - ssimWindow + 1
	procs := max(1, min(runtime.GOMAXPROCS(0), rows))
	results := make([]partial, procs)
	rowsPerProc := (rows + procs - 1) / procs

	var wg sync.WaitGroup
	for p := 0; p < procs; p++ {
		wg.Add(1)
		go func(proc int) {
			defer wg.Done()
			startY := half + proc*rowsPerProc
			endY := min(startY+rowsPerProc, h-half+1)

			var local partial
			for y := startY; y < endY; y++ {
				for x := half; x <= w-half; x++ {
					var muA, muB float64
					ki := 0
					for wy := -half; wy < half; wy++ {
						for wx := -half; wx < half; wx++ {
							idx := (y+wy)*w + x + wx
							muA += lumA[idx] * kernel[ki]
							muB += lumB[idx] * kernel[ki]
							ki++
						}
					}

					var sigAA, sigBB, sigAB float64
					ki = 0
					for wy := -half; wy < half; wy++ {
						for wx := -half; wx < half; wx++ {
							idx := (y+wy)*w + x + wx
							da := lumA[idx] - muA
							db := lumB[idx] - muB
							sigAA += da * da * kernel[ki]
							sigBB += db * db * kernel[ki]
							sigAB += da * db * kernel[ki]
							ki++
						}
					}

					num := (2*muA*muB + ssimC1) * (2*sigAB + ssimC2)
					den := (muA*muA + muB*muB + ssimC1) * (sigAA + sigBB + ssimC2)
					local.sum += num / den
					local.count++
				}
			}
			results[proc] = local
		}(p)
	}
	wg.Wait()

	var total partial
	for _, r := range results {
		total.sum += r.sum
		total.count += r.count
	}
	if total.count == 0 {
		return 1.0
	}
	return total.sum / float64(total.count)
}

// gaussianKernel creates a normalized 2D Gaussian kernel.
func gaussianKernel(size int, sigma float64) []float64 {
	kernel := make([]float64, size*size)
	half := size / 2
	var sum float64

	idx := 0
	for y := -half; y < half; y++ {
		for x := -half; x < half; x++ {
			val := math.Exp(-float64(x*x+y*y) / (2 * sigma * sigma))
			kernel[idx] = val
			sum += val
			idx++
		}
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}
