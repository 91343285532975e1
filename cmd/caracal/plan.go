package main

import (
	"fmt"
	"image"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/shamspias/caracal"
)

type planOutput struct {
	Profile string            `json:"profile"`
	Source  image.Point       `json:"source"`
	Output  image.Point       `json:"output"`
	Quality float64           `json:"quality"`
	Filters caracal.FilterSet `json:"filters"`
}

func newPlanCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan <width> <height>",
		Short: "Show the output geometry and encoder quality for a source size",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profileFromFlags(cmd, a.cfg.Profile)
			if err != nil {
				return err
			}
			w, err := parseDimension(args[0])
			if err != nil {
				return err
			}
			h, err := parseDimension(args[1])
			if err != nil {
				return err
			}

			ow, oh := caracal.PlanGeometry(p, w, h)
			plan := planOutput{
				Profile: p.String(),
				Source:  image.Pt(w, h),
				Output:  image.Pt(ow, oh),
				Quality: caracal.DeriveQuality(p, image.Pt(w, h), image.Pt(ow, oh)),
				Filters: p.Filters(),
			}
			if asJSON {
				return writeJSON(cmd, plan)
			}
			return renderTable(cmd.OutOrStdout(), [][]string{
				{"Field", "Value"},
				{"Profile", plan.Profile},
				{"Output", fmt.Sprintf("%dx%d → %dx%d", w, h, ow, oh)},
				{"Quality", fmt.Sprintf("%.4f", plan.Quality)},
				{"Filters", filterLabel(plan.Filters)},
			})
		},
	}
	addProfileFlags(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func parseDimension(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, errors.Errorf("invalid dimension %q", s)
	}
	return v, nil
}
