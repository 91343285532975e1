package main

import (
	"github.com/spf13/cobra"

	"github.com/shamspias/caracal"
)

func newAssessCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "assess <original> <compressed>",
		Short: "Score a compressed image against its original",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.compressor()
			orig, origData, err := readImage(c, args[0])
			if err != nil {
				return err
			}
			comp, compData, err := readImage(c, args[1])
			if err != nil {
				return err
			}
			comp = caracal.Resample(comp, orig.Width, orig.Height)

			ratio := float64(len(origData)) / float64(len(compData))
			report, err := caracal.AssessQuality(orig, comp, ratio)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}
			return renderTable(cmd.OutOrStdout(), reportRows(report))
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
