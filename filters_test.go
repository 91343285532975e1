package caracal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// borderEqual reports whether every pixel within margin of an edge matches.
func borderEqual(t *testing.T, a, b *Raster, margin int) {
	t.Helper()
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			if x >= margin && x < a.Width-margin && y >= margin && y < a.Height-margin {
				continue
			}
			require.Equal(t, a.at(x, y), b.at(x, y), "pixel (%d,%d)", x, y)
		}
	}
}

func TestWebOptimize(t *testing.T) {
	r := solidRaster(4, 4, 100, 77)
	copy(r.at(1, 1), []uint8{250, 0, 10, 77})

	out := WebOptimize(r)
	// 100*1.05 + 2.56 = 107.56
	assert.Equal(t, []uint8{108, 108, 108, 77}, out.at(0, 0))
	// 250 clamps, 0 shifts by brightness only, 10*1.05+2.56 = 13.06
	assert.Equal(t, []uint8{255, 3, 13, 77}, out.at(1, 1))
	assert.Equal(t, uint8(100), r.at(0, 0)[0], "input modified")
}

func TestSharpenSpike(t *testing.T) {
	r := solidRaster(5, 5, 100, 0xff)
	copy(r.at(2, 2), []uint8{200, 200, 200, 0xff})

	out := Sharpen(r)
	// Laplacian at the spike is 4*200 - 4*100 = 400, +120 clamps.
	assert.Equal(t, []uint8{255, 255, 255, 0xff}, out.at(2, 2))
	// Each 4-neighbour sees 400 - 500 = -100, -30.
	assert.Equal(t, []uint8{70, 70, 70, 0xff}, out.at(1, 2))
	assert.Equal(t, []uint8{70, 70, 70, 0xff}, out.at(2, 1))
	// Diagonal neighbours have a flat 4-neighbourhood.
	assert.Equal(t, []uint8{100, 100, 100, 0xff}, out.at(1, 1))
}

func TestSharpenBelowThreshold(t *testing.T) {
	r := solidRaster(5, 5, 100, 0xff)
	// Mean luma 100.67 gives a Laplacian of 2.67, under the threshold.
	copy(r.at(2, 2), []uint8{102, 100, 100, 0xff})
	out := Sharpen(r)
	assert.Equal(t, r.Pix, out.Pix)
}

func TestSharpenBordersAndAlpha(t *testing.T) {
	r := gradientRaster(17, 11)
	for i := 3; i < len(r.Pix); i += 4 {
		r.Pix[i] = 40
	}
	before := r.Clone()
	out := Sharpen(r)

	borderEqual(t, before, out, 1)
	assert.Equal(t, before.Pix, r.Pix, "input modified")
	for y := 1; y < out.Height-1; y++ {
		for x := 1; x < out.Width-1; x++ {
			require.Equal(t, uint8(0xff), out.at(x, y)[3])
		}
	}
}

func TestReduceNoiseCheckerboard(t *testing.T) {
	r := checkerRaster(6, 6)
	out := ReduceNoise(r)

	// White centre: (255 + 4*255/3) / (1 + 4/2 + 4/3) = 255*7/13 = 137.3
	assert.Equal(t, []uint8{137, 137, 137, 0xff}, out.at(2, 2))
	// Black centre: 4*255/2 / (13/3) = 117.7
	assert.Equal(t, []uint8{118, 118, 118, 0xff}, out.at(3, 2))
	borderEqual(t, r, out, denoiseMargin)
}

func TestReduceNoiseSolidUnchanged(t *testing.T) {
	r := solidRaster(9, 9, 123, 0xff)
	assert.Equal(t, r.Pix, ReduceNoise(r).Pix)
}

func TestReduceNoiseBordersAndAlpha(t *testing.T) {
	r := gradientRaster(23, 14)
	for i := 3; i < len(r.Pix); i += 4 {
		r.Pix[i] = 9
	}
	out := ReduceNoise(r)
	borderEqual(t, r, out, denoiseMargin)
	for y := denoiseMargin; y < out.Height-denoiseMargin; y++ {
		for x := denoiseMargin; x < out.Width-denoiseMargin; x++ {
			require.Equal(t, uint8(0xff), out.at(x, y)[3])
		}
	}
}

func TestFiltersTinyRasters(t *testing.T) {
	for _, sz := range [][2]int{{1, 1}, {2, 5}, {4, 4}} {
		r := gradientRaster(sz[0], sz[1])
		assert.Equal(t, r.Pix, ReduceNoise(r).Pix)
		if sz[0] < 3 || sz[1] < 3 {
			assert.Equal(t, r.Pix, Sharpen(r).Pix)
		}
	}
}

func TestApplyFilters(t *testing.T) {
	r := gradientRaster(32, 32)

	out, set := ApplyFilters(r, Profile{Quality: 50, Mode: ModeGentle})
	assert.Equal(t, FilterSet{Sharpen: true}, set)
	assert.Equal(t, Sharpen(r).Pix, out.Pix)

	none := Profile{Quality: 50, Mode: ModeBalanced, WebOptimized: Bool(false)}
	out, set = ApplyFilters(r, none)
	assert.Equal(t, FilterSet{}, set)
	assert.Equal(t, r.Pix, out.Pix)
	assert.NotSame(t, r, out)

	all := Profile{Quality: 90, Mode: ModeAggressive}
	out, set = ApplyFilters(r, all)
	assert.Equal(t, FilterSet{WebOptimized: true, Sharpen: true, NoiseReduction: true}, set)
	assert.Equal(t, ReduceNoise(Sharpen(WebOptimize(r))).Pix, out.Pix)
}
