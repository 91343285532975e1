// Package caracal re-encodes decoded images under a lossy compression
// policy and scores the result against the original.
//
// A compression runs in fixed stages:
//
//   - Geometry planning: cap the larger side by mode (and the web cap), even dimensions
//   - Resampling: Lanczos-3 down to the planned size
//   - Filters: web contrast boost, Laplacian unsharp mask, weighted 3x3 smoothing
//   - Quality derivation: mode, resize-ratio and pixel-count adjustments
//   - Encoding: the Codec's encoder at the derived quality fraction
//
// Assessment decodes the output, resamples it back to the source size and
// reports MSE, PSNR, a global SSIM, sharpness, contrast, brightness,
// colorfulness, noise, file efficiency and an overall 0–100 score.
package caracal

import (
	"context"
	"time"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Compressor runs the encode and assess pipeline against a Codec.
// It holds no per-image state and is safe for concurrent use.
type Compressor struct {
	codec  Codec
	logger *zap.Logger
}

// CompressorOption configures a Compressor.
type CompressorOption func(*Compressor)

// WithCodec replaces the default ImagingCodec.
func WithCodec(c Codec) CompressorOption {
	return func(cp *Compressor) { cp.codec = c }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) CompressorOption {
	return func(cp *Compressor) {
		if l != nil {
			cp.logger = l
		}
	}
}

// NewCompressor returns a Compressor using ImagingCodec unless overridden.
func NewCompressor(opts ...CompressorOption) *Compressor {
	c := &Compressor{codec: ImagingCodec{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("compressor")
	return c
}

// Outcome is the result of Process: the encoded output and its report.
type Outcome struct {
	Result *EncodedResult `json:"result"`
	Report *QualityReport `json:"report"`
	// Decoded is the encoded output decoded and resampled back to the
	// source dimensions, as scored by Report.
	Decoded *Raster `json:"-"`
	// Original is the decoded source.
	Original *Raster `json:"-"`
}

// Encode plans the geometry, resamples, filters and encodes src under p.
// originalBytes is the source file size used for the compression ratio;
// zero or less uses the raw raster size. src is not modified.
func (c *Compressor) Encode(ctx context.Context, src *Raster, originalBytes int64, p Profile) (*EncodedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if originalBytes <= 0 {
		originalBytes = int64(len(src.Pix))
	}

	start := time.Now()
	w, h := PlanGeometry(p, src.Width, src.Height)
	working := Resample(src, w, h)
	filtered, filters := ApplyFilters(working, p)
	q := DeriveQuality(p, src.Size(), filtered.Size())

	data, err := c.codec.Encode(filtered, q)
	if err != nil {
		return nil, asKind("encode", ErrEncode, err)
	}
	if len(data) == 0 {
		return nil, opError("encode", ErrEncode, errors.New("encoder returned no data"))
	}

	res := &EncodedResult{
		Data:               data,
		Size:               int64(len(data)),
		OriginalSize:       originalBytes,
		OriginalDimensions: src.Size(),
		OutputDimensions:   filtered.Size(),
		Quality:            q,
		CompressionRatio:   float64(originalBytes) / float64(len(data)),
		Filters:            filters,
	}
	c.logger.Debug("encoded",
		zap.String("profile", p.String()),
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Float64("quality", q),
		zap.Int64("bytes", res.Size),
		zap.Float64("ratio", res.CompressionRatio),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// Process decodes data, encodes it under p, decodes the output, resamples
// it to the source dimensions and assesses it against the source.
func (c *Compressor) Process(ctx context.Context, data []byte, p Profile) (*Outcome, error) {
	src, err := c.codec.Decode(data)
	if err != nil {
		return nil, asKind("process", ErrDecode, err)
	}
	res, err := c.Encode(ctx, src, int64(len(data)), p)
	if err != nil {
		return nil, err
	}
	out, err := c.codec.Decode(res.Data)
	if err != nil {
		return nil, asKind("process: decode output", ErrDecode, err)
	}
	out = Resample(out, src.Width, src.Height)

	report, err := AssessQuality(src, out, res.CompressionRatio)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: res, Report: report, Decoded: out, Original: src}, nil
}

// Decode exposes the compressor's decoder.
func (c *Compressor) Decode(data []byte) (*Raster, error) {
	return c.codec.Decode(data)
}

// Resample scales r to width x height with Lanczos-3. A raster that
// already has those dimensions is returned as is, not copied.
func Resample(r *Raster, width, height int) *Raster {
	if r.Width == width && r.Height == height {
		return r
	}
	img := resize.Resize(uint(width), uint(height), r.NRGBA(), resize.Lanczos3)
	return RasterFromImage(img)
}
