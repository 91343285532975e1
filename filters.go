package caracal

import (
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Filter constants.
const (
	webContrast   = 1.05
	webBrightness = 1.02

	sharpenAmount    = 0.3
	sharpenThreshold = 3.0

	// denoiseMargin is the border width left untouched by ReduceNoise.
	denoiseMargin = 2
)

// denoiseKernel holds the 3x3 weights 1/(1+|dx|+|dy|), row-major.
var denoiseKernel, denoiseWeightSum = func() ([9]float64, float64) {
	var k [9]float64
	var sum float64
	i := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			k[i] = 1 / (1 + math.Abs(float64(dx)) + math.Abs(float64(dy)))
			sum += k[i]
			i++
		}
	}
	return k, sum
}()

// ApplyFilters runs the profile's active stages in order (web
// optimization, sharpen, noise reduction) and returns a new raster along
// with the stages that ran. The input is never modified.
func ApplyFilters(r *Raster, p Profile) (*Raster, FilterSet) {
	set := p.Filters()
	out := r
	if set.WebOptimized {
		out = WebOptimize(out)
	}
	if set.Sharpen {
		out = Sharpen(out)
	}
	if set.NoiseReduction {
		out = ReduceNoise(out)
	}
	if out == r {
		out = r.Clone()
	}
	return out, set
}

// WebOptimize applies the mild contrast (x1.05) and brightness (+2%)
// boost used for web delivery: v' = clamp(v*1.05 + (1.02-1)*128).
// Alpha is preserved.
func WebOptimize(r *Raster) *Raster {
	shift := (webBrightness - 1) * 128
	adjusted := imaging.AdjustFunc(r.NRGBA(), func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clampF(float64(c.R)*webContrast + shift),
			G: clampF(float64(c.G)*webContrast + shift),
			B: clampF(float64(c.B)*webContrast + shift),
			A: c.A,
		}
	})
	return &Raster{Width: r.Width, Height: r.Height, Pix: adjusted.Pix}
}

// Sharpen applies a thresholded Laplacian unsharp mask. For each interior
// pixel the luma is the plain mean of R, G and B; where the 4-neighbour
// Laplacian exceeds the threshold, amount*Laplacian is added to every
// colour channel. The 1-pixel border is copied unchanged.
func Sharpen(r *Raster) *Raster {
	dst := r.Clone()
	w, h := r.Width, r.Height
	if w < 3 || h < 3 {
		return dst
	}
	stride := w * 4
	luma := func(off int) float64 {
		return (float64(r.Pix[off]) + float64(r.Pix[off+1]) + float64(r.Pix[off+2])) / 3
	}

	parallelDo(1, h-1, func(y int) {
		for x := 1; x < w-1; x++ {
			off := y*stride + x*4
			lap := 4*luma(off) - luma(off-4) - luma(off+4) - luma(off-stride) - luma(off+stride)
			if math.Abs(lap) > sharpenThreshold {
				delta := sharpenAmount * lap
				dst.Pix[off] = clampF(float64(r.Pix[off]) + delta)
				dst.Pix[off+1] = clampF(float64(r.Pix[off+1]) + delta)
				dst.Pix[off+2] = clampF(float64(r.Pix[off+2]) + delta)
			}
			dst.Pix[off+3] = 0xff
		}
	})
	return dst
}

// ReduceNoise smooths each pixel at least two pixels away from every edge
// with a distance-weighted 3x3 mean. There is no intensity weighting, so
// this is not a true bilateral filter. The border is copied unchanged.
func ReduceNoise(r *Raster) *Raster {
	dst := r.Clone()
	w, h := r.Width, r.Height
	if w <= 2*denoiseMargin || h <= 2*denoiseMargin {
		return dst
	}
	stride := w * 4

	parallelDo(denoiseMargin, h-denoiseMargin, func(y int) {
		for x := denoiseMargin; x < w-denoiseMargin; x++ {
			var sr, sg, sb float64
			k := 0
			for dy := -1; dy <= 1; dy++ {
				row := (y + dy) * stride
				for dx := -1; dx <= 1; dx++ {
					off := row + (x+dx)*4
					wt := denoiseKernel[k]
					sr += float64(r.Pix[off]) * wt
					sg += float64(r.Pix[off+1]) * wt
					sb += float64(r.Pix[off+2]) * wt
					k++
				}
			}
			off := y*stride + x*4
			dst.Pix[off] = clampF(sr / denoiseWeightSum)
			dst.Pix[off+1] = clampF(sg / denoiseWeightSum)
			dst.Pix[off+2] = clampF(sb / denoiseWeightSum)
			dst.Pix[off+3] = 0xff
		}
	})
	return dst
}
