package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shamspias/caracal"
)

type compressOutput struct {
	Output string                 `json:"output"`
	Result *caracal.EncodedResult `json:"result"`
	Report *caracal.QualityReport `json:"report"`
}

func newCompressCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "compress <input> [output]",
		Short: "Compress one image and report its quality",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profileFromFlags(cmd, a.cfg.Profile)
			if err != nil {
				return err
			}
			input := args[0]
			output := defaultOutput(input)
			if len(args) == 2 {
				output = args[1]
			}

			data, err := os.ReadFile(input)
			if err != nil {
				return errors.Wrapf(err, "read %s", input)
			}
			out, err := a.compressor().Process(cmd.Context(), data, p)
			if err != nil {
				return errors.Wrap(err, input)
			}
			if err := os.WriteFile(output, out.Result.Data, 0o644); err != nil {
				return errors.Wrapf(err, "write %s", output)
			}
			a.logger.Info("compressed",
				zap.String("input", input),
				zap.String("output", output),
				zap.Int("score", out.Report.OverallQuality))

			if asJSON {
				return writeJSON(cmd, compressOutput{Output: output, Result: out.Result, Report: out.Report})
			}
			w := cmd.OutOrStdout()
			if err := renderTable(w, resultRows(out.Result)); err != nil {
				return err
			}
			return renderTable(w, reportRows(out.Report))
		},
	}
	addProfileFlags(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of tables")
	return cmd
}
