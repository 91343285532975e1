package main

import (
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/shamspias/caracal"
)

func newCompareCmd(a *app) *cobra.Command {
	var (
		diffPath string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "compare <original> <compressed>",
		Short: "Compare histograms and per-pixel differences",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.compressor()
			orig, _, err := readImage(c, args[0])
			if err != nil {
				return err
			}
			comp, _, err := readImage(c, args[1])
			if err != nil {
				return err
			}
			comp = caracal.Resample(comp, orig.Width, orig.Height)

			vc, err := caracal.CompareVisual(orig, comp)
			if err != nil {
				return err
			}
			if diffPath != "" {
				if err := imaging.Save(vc.Diff.Image.NRGBA(), diffPath); err != nil {
					return errors.Wrapf(err, "write %s", diffPath)
				}
			}
			if asJSON {
				return writeJSON(cmd, vc)
			}

			rows := [][]string{
				{"Measure", "Original", "Compressed"},
				{"Mean R", fmt.Sprintf("%.1f", channelMean(vc.Original.R)), fmt.Sprintf("%.1f", channelMean(vc.Compressed.R))},
				{"Mean G", fmt.Sprintf("%.1f", channelMean(vc.Original.G)), fmt.Sprintf("%.1f", channelMean(vc.Compressed.G))},
				{"Mean B", fmt.Sprintf("%.1f", channelMean(vc.Original.B)), fmt.Sprintf("%.1f", channelMean(vc.Compressed.B))},
				{"Max diff", "", fmt.Sprintf("%.2f", vc.Diff.Max)},
				{"Mean diff", "", fmt.Sprintf("%.2f", vc.Diff.Mean)},
				{"Windowed SSIM", "", fmt.Sprintf("%.4f", vc.WindowedSSIM)},
				{"pHash distance", "", fmt.Sprintf("%d", vc.PerceptualDistance)},
			}
			return renderTable(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&diffPath, "diff", "", "write the amplified difference map to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
