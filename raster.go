package caracal

import (
	"image"
	"math"

	"github.com/dustin/go-humanize"
)

// Raster is a decoded image: Width*Height pixels of non-premultiplied
// R, G, B, A samples stored row by row without padding.
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewRaster allocates a zeroed raster.
func NewRaster(width, height int) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, preconditionf("new raster", "invalid dimensions %dx%d", width, height)
	}
	return &Raster{Width: width, Height: height, Pix: make([]uint8, width*height*4)}, nil
}

// RasterFromImage copies any image.Image into a new Raster.
func RasterFromImage(img image.Image) *Raster {
	if img == nil {
		return nil
	}
	n := toNRGBA(img)
	return &Raster{Width: n.Rect.Dx(), Height: n.Rect.Dy(), Pix: n.Pix}
}

// Validate checks the dimensions and the sample buffer length.
func (r *Raster) Validate() error {
	if r == nil {
		return preconditionf("validate raster", "nil raster")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return preconditionf("validate raster", "invalid dimensions %dx%d", r.Width, r.Height)
	}
	if len(r.Pix) != r.Width*r.Height*4 {
		return preconditionf("validate raster", "buffer holds %d samples, want %d", len(r.Pix), r.Width*r.Height*4)
	}
	return nil
}

// Bounds returns the raster rectangle anchored at the origin.
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// Size returns the dimensions as a point.
func (r *Raster) Size() image.Point {
	return image.Pt(r.Width, r.Height)
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	dst := &Raster{Width: r.Width, Height: r.Height, Pix: make([]uint8, len(r.Pix))}
	copy(dst.Pix, r.Pix)
	return dst
}

// NRGBA wraps the samples as an *image.NRGBA without copying.
// Callers must not retain the result past the raster's lifetime if
// they mutate it.
func (r *Raster) NRGBA() *image.NRGBA {
	return &image.NRGBA{Pix: r.Pix, Stride: r.Width * 4, Rect: r.Bounds()}
}

func (r *Raster) sameSize(o *Raster) bool {
	return r.Width == o.Width && r.Height == o.Height
}

// toNRGBA converts any image.Image to a tightly packed *image.NRGBA,
// always returning a new copy anchored at the origin.
func toNRGBA(img image.Image) *image.NRGBA {
	if src, ok := img.(*image.NRGBA); ok {
		b := src.Bounds()
		dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			from := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[from:from+b.Dx()*4])
		}
		return dst
	}
	return convertToNRGBA(img)
}

// convertToNRGBA does the pixel-by-pixel conversion from any image
// format to NRGBA, un-premultiplying alpha.
func convertToNRGBA(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			off := (y-bounds.Min.Y)*dst.Stride + (x-bounds.Min.X)*4
			switch a {
			case 0:
				// Fully transparent.
			case 0xffff:
				dst.Pix[off] = uint8(r >> 8)
				dst.Pix[off+1] = uint8(g >> 8)
				dst.Pix[off+2] = uint8(b >> 8)
				dst.Pix[off+3] = 0xff
			default:
				dst.Pix[off] = uint8(((r * 0xffff) / a) >> 8)
				dst.Pix[off+1] = uint8(((g * 0xffff) / a) >> 8)
				dst.Pix[off+2] = uint8(((b * 0xffff) / a) >> 8)
				dst.Pix[off+3] = uint8(a >> 8)
			}
		}
	}
	return dst
}

// isOpaque checks if all pixels have full alpha.
func isOpaque(pix []uint8) bool {
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0xff {
			return false
		}
	}
	return true
}

// clampF rounds and clamps a float64 to the uint8 range [0, 255].
func clampF(x float64) uint8 {
	v := int64(math.Round(x))
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// humanBytes formats a byte count for human reading.
func humanBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}
