package caracal

import (
	"math"

	"github.com/pkg/errors"
)

// SSIM stabilising constants: (0.01*255)² and (0.03*255)².
const (
	ssimC1 = 6.5025
	ssimC2 = 58.5225
)

// identicalPSNR is reported instead of +Inf when two rasters match exactly.
const identicalPSNR = 100.0

// QualityReport scores a compressed raster against its original.
type QualityReport struct {
	PSNR             float64 `json:"psnr"`
	SSIM             float64 `json:"ssim"`
	MSE              float64 `json:"mse"`
	Sharpness        float64 `json:"sharpness"`
	Contrast         float64 `json:"contrast"`
	Brightness       float64 `json:"brightness"`
	Colorfulness     float64 `json:"colorfulness"`
	NoiseLevel       float64 `json:"noiseLevel"`
	FileEfficiency   float64 `json:"fileEfficiency"`
	CompressionRatio float64 `json:"compressionRatio"`
	OverallQuality   int     `json:"overallQuality"`
	Grade            Grade   `json:"grade"`
}

// AssessQuality computes the full report for compressed against original.
// Both rasters must have the same dimensions; resample first if they do
// not. The single-image metrics describe the compressed raster.
func AssessQuality(original, compressed *Raster, compressionRatio float64) (*QualityReport, error) {
	if err := checkPair("assess quality", original, compressed); err != nil {
		return nil, err
	}
	if compressionRatio <= 0 || math.IsInf(compressionRatio, 0) || math.IsNaN(compressionRatio) {
		return nil, preconditionf("assess quality", "invalid compression ratio %v", compressionRatio)
	}

	meanSq := mse(original, compressed)
	lumA := luminance(original)
	lumB := luminance(compressed)

	rep := &QualityReport{
		MSE:              meanSq,
		PSNR:             PSNR(meanSq),
		SSIM:             globalSSIM(lumA, lumB),
		Sharpness:        sobelMean(lumB, compressed.Width, compressed.Height) / 255,
		Brightness:       mean(lumB) / 255,
		Contrast:         stddev(lumB) / 255,
		Colorfulness:     Colorfulness(compressed),
		NoiseLevel:       laplacianMean(lumB, compressed.Width, compressed.Height) / 255,
		CompressionRatio: compressionRatio,
	}
	rep.FileEfficiency = FileEfficiency(compressionRatio, rep.PSNR)
	rep.OverallQuality = OverallQuality(rep)
	rep.Grade = GradeFor(rep.OverallQuality)
	return rep, nil
}

// MSE returns the mean squared error over the R, G and B channels.
func MSE(a, b *Raster) (float64, error) {
	if err := checkPair("mse", a, b); err != nil {
		return 0, err
	}
	return mse(a, b), nil
}

func mse(a, b *Raster) float64 {
	var sum float64
	for i := 0; i < len(a.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			d := float64(a.Pix[i+c]) - float64(b.Pix[i+c])
			sum += d * d
		}
	}
	return sum / float64(a.Width*a.Height*3)
}

// PSNR converts an MSE to peak signal-to-noise ratio in dB. Zero error
// yields 100 rather than +Inf.
func PSNR(mse float64) float64 {
	if mse <= 0 {
		return identicalPSNR
	}
	return 20 * math.Log10(255/math.Sqrt(mse))
}

// SSIM computes a whole-image structural similarity from global luma
// means, variances and covariance. It is not the windowed reference
// algorithm (see WindowedSSIM) and can exceed 1 slightly on odd inputs.
func SSIM(a, b *Raster) (float64, error) {
	if err := checkPair("ssim", a, b); err != nil {
		return 0, err
	}
	return globalSSIM(luminance(a), luminance(b)), nil
}

func globalSSIM(lumA, lumB []float64) float64 {
	n := float64(len(lumA))
	muA, muB := mean(lumA), mean(lumB)

	var sigAA, sigBB, sigAB float64
	for i := range lumA {
		da := lumA[i] - muA
		db := lumB[i] - muB
		sigAA += da * da
		sigBB += db * db
		sigAB += da * db
	}
	sigAA /= n
	sigBB /= n
	sigAB /= n

	num := (2*muA*muB + ssimC1) * (2*sigAB + ssimC2)
	den := (muA*muA + muB*muB + ssimC1) * (sigAA + sigBB + ssimC2)
	return num / den
}

// Sharpness is the mean Sobel gradient magnitude over interior pixels,
// normalised by 255.
func Sharpness(r *Raster) float64 {
	return sobelMean(luminance(r), r.Width, r.Height) / 255
}

// Contrast is the standard deviation of luma, normalised by 255.
func Contrast(r *Raster) float64 {
	return stddev(luminance(r)) / 255
}

// Brightness is the mean luma, normalised by 255.
func Brightness(r *Raster) float64 {
	return mean(luminance(r)) / 255
}

// Colorfulness combines the spread of the red-green and yellow-blue
// opponent channels: sqrt(std(|R-G|)² + std(|(R+G)/2-B|)²) / 255.
func Colorfulness(r *Raster) float64 {
	n := r.Width * r.Height
	rg := make([]float64, n)
	yb := make([]float64, n)
	for i, j := 0, 0; i < len(r.Pix); i, j = i+4, j+1 {
		R, G, B := float64(r.Pix[i]), float64(r.Pix[i+1]), float64(r.Pix[i+2])
		rg[j] = math.Abs(R - G)
		yb[j] = math.Abs((R+G)/2 - B)
	}
	sRG, sYB := stddev(rg), stddev(yb)
	return math.Sqrt(sRG*sRG+sYB*sYB) / 255
}

// NoiseLevel is the mean absolute 8-neighbour Laplacian over interior
// pixels, normalised by 255.
func NoiseLevel(r *Raster) float64 {
	return laplacianMean(luminance(r), r.Width, r.Height) / 255
}

// FileEfficiency rewards compression only as far as fidelity holds up:
// ratio * min(psnr/40, 1) / 10.
func FileEfficiency(compressionRatio, psnr float64) float64 {
	return compressionRatio * min(psnr/40, 1) / 10
}

// OverallQuality folds a report into a 0–100 score: PSNR 30%, SSIM 25%,
// sharpness 20%, contrast 10%, colorfulness 10%, file efficiency 5%.
func OverallQuality(r *QualityReport) int {
	score := 0.30*min(r.PSNR/40, 1) +
		0.25*max(r.SSIM, 0) +
		0.20*min(r.Sharpness*2, 1) +
		0.10*min(r.Contrast*2, 1) +
		0.10*min(r.Colorfulness*2, 1) +
		0.05*min(r.FileEfficiency/2, 1)
	return max(0, min(100, int(math.Round(score*100))))
}

func checkPair(op string, a, b *Raster) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if !a.sameSize(b) {
		return opError(op, ErrDimensionMismatch,
			errors.Errorf("%dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height))
	}
	return nil
}

// luminance converts a raster to BT.601 luma.
func luminance(r *Raster) []float64 {
	lum := make([]float64, r.Width*r.Height)
	for i, j := 0, 0; i < len(r.Pix); i, j = i+4, j+1 {
		lum[j] = 0.299*float64(r.Pix[i]) + 0.587*float64(r.Pix[i+1]) + 0.114*float64(r.Pix[i+2])
	}
	return lum
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// stddev is the population standard deviation.
func stddev(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := mean(v)
	var s float64
	for _, x := range v {
		d := x - m
		s += d * d
	}
	return math.Sqrt(s / float64(len(v)))
}

// sobelMean averages the Sobel magnitude over interior pixels.
func sobelMean(lum []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	var sum float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			at := func(dx, dy int) float64 { return lum[(y+dy)*w+x+dx] }
			// Gx: [-1 0 1; -2 0 2; -1 0 1], Gy: [-1 -2 -1; 0 0 0; 1 2 1]
			gx := at(1, -1) - at(-1, -1) + 2*at(1, 0) - 2*at(-1, 0) + at(1, 1) - at(-1, 1)
			gy := at(-1, 1) - at(-1, -1) + 2*at(0, 1) - 2*at(0, -1) + at(1, 1) - at(1, -1)
			sum += math.Sqrt(gx*gx + gy*gy)
		}
	}
	return sum / float64((w-2)*(h-2))
}

// laplacianMean averages |8c - sum of 8 neighbours| over interior pixels.
func laplacianMean(lum []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	var sum float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := y*w + x
			v := 8 * lum[c]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx != 0 || dy != 0 {
						v -= lum[c+dy*w+dx]
					}
				}
			}
			sum += math.Abs(v)
		}
	}
	return sum / float64((w-2)*(h-2))
}
