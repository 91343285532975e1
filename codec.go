package caracal

import (
	"bytes"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// WebP input support; imaging registers JPEG, PNG, GIF, BMP and TIFF.
	_ "golang.org/x/image/webp"
)

// Decoder turns encoded bytes into a raster.
type Decoder interface {
	Decode(data []byte) (*Raster, error)
}

// Encoder turns a raster into bytes at a quality fraction in (0, 1].
type Encoder interface {
	Encode(r *Raster, quality float64) ([]byte, error)
}

// Codec is the platform's decode/encode capability.
type Codec interface {
	Decoder
	Encoder
}

// ImagingCodec decodes any registered format with EXIF auto-orientation
// and encodes baseline JPEG.
type ImagingCodec struct{}

var _ Codec = ImagingCodec{}

// Decode implements Decoder.
func (ImagingCodec) Decode(data []byte) (*Raster, error) {
	if len(data) == 0 {
		return nil, opError("decode", ErrDecode, errors.New("empty input"))
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, opError("decode", ErrDecode, errors.Wrap(err, "imaging"))
	}
	r := RasterFromImage(img)
	if err := r.Validate(); err != nil {
		return nil, opError("decode", ErrDecode, err)
	}
	return r, nil
}

// Encode implements Encoder.
func (ImagingCodec) Encode(r *Raster, quality float64) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, opError("encode", ErrEncode, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, jpegSource(r), imaging.JPEG, imaging.JPEGQuality(jpegQuality(quality))); err != nil {
		return nil, opError("encode", ErrEncode, errors.Wrap(err, "imaging"))
	}
	return buf.Bytes(), nil
}

// jpegQuality maps a quality fraction to the 1–100 JPEG scale.
func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// jpegSource exposes opaque rasters as RGBA, which skips the alpha
// conversion on the encoder's fast path.
func jpegSource(r *Raster) image.Image {
	if isOpaque(r.Pix) {
		return &image.RGBA{Pix: r.Pix, Stride: r.Width * 4, Rect: r.Bounds()}
	}
	return r.NRGBA()
}
