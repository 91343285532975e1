package main

import (
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shamspias/caracal"
	"github.com/shamspias/caracal/internal/config"
	"github.com/shamspias/caracal/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// app carries state shared by all subcommands.
type app struct {
	cfgFile  string
	logLevel string
	logFile  string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "caracal",
		Short:        "Compress images and score the result",
		Version:      caracal.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./caracal.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&a.logFile, "log-file", "", "also write JSON logs to this rotated file")

	root.AddCommand(
		newCompressCmd(a),
		newAssessCmd(a),
		newCompareCmd(a),
		newPlanCmd(a),
		newBatchCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFile != "" {
		cfg.Log.File = a.logFile
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	logger.Debug("config loaded", zap.String("command", cmd.Name()), zap.String("profile", cfg.Profile.String()))
	return nil
}

func (a *app) compressor() *caracal.Compressor {
	return caracal.NewCompressor(caracal.WithLogger(a.logger))
}

// addProfileFlags registers the per-image profile flags on cmd.
func addProfileFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("quality", 80, "nominal quality, 10-95")
	f.String("mode", "balanced", "aggressive|balanced|gentle")
	f.Bool("web", false, "force the web pre-filter and 1920px cap on or off")
	f.Bool("sharpen", false, "force the unsharp mask on or off")
	f.Bool("denoise", false, "force noise reduction on or off")
}

// profileFromFlags overlays flags the user set on base. Unset filter flags
// stay nil so the mode decides.
func profileFromFlags(cmd *cobra.Command, base caracal.Profile) (caracal.Profile, error) {
	p := base
	f := cmd.Flags()
	if f.Changed("quality") {
		q, err := f.GetInt("quality")
		if err != nil {
			return p, err
		}
		p.Quality = q
	}
	if f.Changed("mode") {
		s, err := f.GetString("mode")
		if err != nil {
			return p, err
		}
		m, err := caracal.ParseMode(s)
		if err != nil {
			return p, err
		}
		p.Mode = m
	}
	for name, dst := range map[string]**bool{
		"web":     &p.WebOptimized,
		"sharpen": &p.SharpenFilter,
		"denoise": &p.NoiseReduction,
	} {
		if !f.Changed(name) {
			continue
		}
		v, err := f.GetBool(name)
		if err != nil {
			return p, err
		}
		*dst = caracal.Bool(v)
	}
	return p, p.Validate()
}

// defaultOutput derives "<base>_caracal.jpg" next to the input.
func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_caracal.jpg"
}

func readImage(c *caracal.Compressor, path string) (*caracal.Raster, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s", path)
	}
	r, err := c.Decode(data)
	if err != nil {
		return nil, nil, errors.Wrap(err, path)
	}
	return r, data, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode json")
	}
	_, err = cmd.OutOrStdout().Write(append(out, '\n'))
	return err
}
