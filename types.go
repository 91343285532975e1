package caracal

import (
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Version is the library version.
const Version = "1.0.0"

// Mode is a named compression strategy. It controls the resize cap, the
// quality derivation and which filters run by default.
type Mode string

const (
	// ModeAggressive caps output at 1200px and trades quality for size.
	ModeAggressive Mode = "aggressive"
	// ModeBalanced caps output at 1920px (default).
	ModeBalanced Mode = "balanced"
	// ModeGentle caps output at 2560px and keeps the most detail.
	ModeGentle Mode = "gentle"
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAggressive:
		return ModeAggressive, nil
	case ModeBalanced, "":
		return ModeBalanced, nil
	case ModeGentle:
		return ModeGentle, nil
	default:
		return "", preconditionf("parse mode", "unknown mode %q", s)
	}
}

func (m Mode) maxDimension() int {
	switch m {
	case ModeAggressive:
		return 1200
	case ModeGentle:
		return 2560
	default:
		return 1920
	}
}

// Profile configures one compression. It is treated as immutable once
// handed to the pipeline.
type Profile struct {
	// Quality is the nominal quality, 10–95.
	Quality int `mapstructure:"quality" json:"quality" yaml:"quality" default:"80" validate:"min=10,max=95"`

	// Mode selects the compression strategy.
	Mode Mode `mapstructure:"mode" json:"mode" yaml:"mode" default:"balanced" validate:"oneof=aggressive balanced gentle"`

	// WebOptimized forces the web pre-filter and the 1920px web cap on or
	// off. Nil derives it from Mode (on for balanced and aggressive).
	WebOptimized *bool `mapstructure:"web_optimized" json:"webOptimized,omitempty" yaml:"web_optimized"`

	// SharpenFilter forces the unsharp mask on or off. Nil enables it for
	// gentle mode or Quality above 80.
	SharpenFilter *bool `mapstructure:"sharpen_filter" json:"sharpenFilter,omitempty" yaml:"sharpen_filter"`

	// NoiseReduction forces the smoothing filter on or off. Nil enables it
	// for aggressive mode.
	NoiseReduction *bool `mapstructure:"noise_reduction" json:"noiseReduction,omitempty" yaml:"noise_reduction"`
}

// DefaultProfile returns quality 80 in balanced mode.
func DefaultProfile() Profile {
	var p Profile
	_ = defaults.Set(&p)
	return p
}

// Bool returns a pointer to v, for the optional Profile flags.
func Bool(v bool) *bool { return &v }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports ErrPrecondition for an out-of-range quality or an
// unknown mode.
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return opError("validate profile", ErrPrecondition, err)
	}
	return nil
}

func (p Profile) webOptimized() bool {
	if p.WebOptimized != nil {
		return *p.WebOptimized
	}
	return p.Mode == ModeBalanced || p.Mode == ModeAggressive
}

func (p Profile) sharpen() bool {
	if p.SharpenFilter != nil {
		return *p.SharpenFilter
	}
	return p.Mode == ModeGentle || p.Quality > 80
}

func (p Profile) denoise() bool {
	if p.NoiseReduction != nil {
		return *p.NoiseReduction
	}
	return p.Mode == ModeAggressive
}

// Filters resolves which filter stages the profile enables.
func (p Profile) Filters() FilterSet {
	return FilterSet{
		WebOptimized:   p.webOptimized(),
		Sharpen:        p.sharpen(),
		NoiseReduction: p.denoise(),
	}
}

// String returns a compact description such as "balanced@80".
func (p Profile) String() string {
	return fmt.Sprintf("%s@%d", p.Mode, p.Quality)
}

// FilterSet records which filter stages ran.
type FilterSet struct {
	WebOptimized   bool `json:"webOptimized"`
	Sharpen        bool `json:"sharpen"`
	NoiseReduction bool `json:"noiseReduction"`
}

// EncodedResult is the output of one encode.
type EncodedResult struct {
	// Data holds the encoded bytes.
	Data []byte `json:"-"`

	// Size is len(Data).
	Size int64 `json:"size"`

	// OriginalSize is the input size in bytes used for the ratio.
	OriginalSize int64 `json:"originalSize"`

	// OriginalDimensions is the source width x height.
	OriginalDimensions image.Point `json:"originalDimensions"`

	// OutputDimensions is the encoded width x height.
	OutputDimensions image.Point `json:"outputDimensions"`

	// Quality is the quality fraction handed to the encoder, 0.05–0.98.
	Quality float64 `json:"quality"`

	// CompressionRatio is OriginalSize / Size.
	CompressionRatio float64 `json:"compressionRatio"`

	// Filters lists the filter stages that ran.
	Filters FilterSet `json:"filters"`
}

// WriteTo writes the encoded bytes to w.
func (r *EncodedResult) WriteTo(w io.Writer) (int64, error) {
	if len(r.Data) == 0 {
		return 0, opError("write result", ErrEncode, nil)
	}
	n, err := w.Write(r.Data)
	return int64(n), err
}

// SavingsPercent is the share of bytes saved, in percent.
func (r *EncodedResult) SavingsPercent() float64 {
	if r.OriginalSize <= 0 {
		return 0
	}
	return (1 - float64(r.Size)/float64(r.OriginalSize)) * 100
}

// String returns a human-readable summary.
func (r *EncodedResult) String() string {
	return fmt.Sprintf(
		"%dx%d → %dx%d | %s → %s | q=%.3f | ratio %.2f | saved %.1f%%",
		r.OriginalDimensions.X, r.OriginalDimensions.Y,
		r.OutputDimensions.X, r.OutputDimensions.Y,
		humanBytes(r.OriginalSize), humanBytes(r.Size),
		r.Quality, r.CompressionRatio, r.SavingsPercent(),
	)
}
