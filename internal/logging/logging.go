// Package logging builds the zap logger used by the caracal command.
package logging

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the console and file outputs.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `mapstructure:"level" json:"level" yaml:"level" default:"info" validate:"oneof=debug info warn error"`

	// Format selects the console encoder, console or json.
	Format string `mapstructure:"format" json:"format" yaml:"format" default:"console" validate:"oneof=console json"`

	// File, when set, adds a JSON log file rotated by size.
	File string `mapstructure:"file" json:"file" yaml:"file"`

	// MaxSize is the file size in megabytes that triggers rotation.
	MaxSize int `mapstructure:"max_size" json:"maxSize" yaml:"max_size" default:"50" validate:"min=1"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `mapstructure:"max_backups" json:"maxBackups" yaml:"max_backups" default:"3" validate:"min=0"`

	// MaxAge is the number of days to keep rotated files.
	MaxAge int `mapstructure:"max_age" json:"maxAge" yaml:"max_age" default:"28" validate:"min=0"`

	// Compress gzips rotated files.
	Compress bool `mapstructure:"compress" json:"compress" yaml:"compress"`
}

// ParseLevel maps a level name to a zapcore.Level. Unknown names are an error.
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel, errors.Wrapf(err, "log level %q", s)
	}
	return lvl, nil
}

// New builds a logger that writes to stderr and, if cfg.File is set, to a
// rotated JSON file as well.
func New(cfg Config) (*zap.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var console zapcore.Encoder
	if cfg.Format == "json" {
		console = zapcore.NewJSONEncoder(encCfg)
	} else {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		console = zapcore.NewConsoleEncoder(consoleCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), level),
	}
	if cfg.File != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(newRotator(cfg)),
			level,
		))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func newRotator(cfg Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
}
