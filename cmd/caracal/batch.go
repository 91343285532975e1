package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shamspias/caracal"
)

type batchItemOutput struct {
	Input  string                 `json:"input"`
	Output string                 `json:"output,omitempty"`
	State  caracal.ItemState      `json:"state"`
	Error  string                 `json:"error,omitempty"`
	Report *caracal.QualityReport `json:"report,omitempty"`
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		outDir      string
		concurrency int
		priority    string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "batch <inputs...>",
		Short: "Compress many images concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profileFromFlags(cmd, a.cfg.Profile)
			if err != nil {
				return err
			}
			prio, err := caracal.ParsePriority(priority)
			if err != nil {
				return err
			}
			opts := a.cfg.Batch
			if cmd.Flags().Changed("concurrency") {
				opts.MaxConcurrency = concurrency
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return errors.Wrapf(err, "create %s", outDir)
			}

			jobs := make([]caracal.Job, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return errors.Wrapf(err, "read %s", path)
				}
				jobs = append(jobs, caracal.Job{Name: path, Data: data, Profile: p, Priority: prio})
			}

			coord, err := caracal.NewCoordinator(a.compressor(), opts, a.logger)
			if err != nil {
				return err
			}
			defer coord.Close()

			updates, unsubscribe := coord.Subscribe()
			defer unsubscribe()
			if _, err := coord.Add(jobs...); err != nil {
				return err
			}

			var barDone chan struct{}
			if !asJSON {
				barDone = make(chan struct{})
				go func() {
					defer close(barDone)
					showProgress(updates, len(jobs))
				}()
			}
			err = coord.Wait(cmd.Context())
			unsubscribe()
			if barDone != nil {
				<-barDone
			}
			if err != nil {
				return err
			}

			results := make([]batchItemOutput, 0, len(jobs))
			for _, item := range coord.Items() {
				res := batchItemOutput{Input: item.Name, State: item.State, Error: item.Err}
				if item.State == caracal.ItemCompleted && item.Outcome != nil {
					res.Output = filepath.Join(outDir, filepath.Base(defaultOutput(item.Name)))
					if err := os.WriteFile(res.Output, item.Outcome.Result.Data, 0o644); err != nil {
						return errors.Wrapf(err, "write %s", res.Output)
					}
					res.Report = item.Outcome.Report
				}
				results = append(results, res)
			}

			prog := coord.Progress()
			a.logger.Info("batch finished",
				zap.Int("completed", prog.Completed),
				zap.Int("failed", prog.Failed))

			if asJSON {
				return writeJSON(cmd, results)
			}
			return renderBatch(cmd, results, prog)
		},
	}
	addProfileFlags(cmd)
	f := cmd.Flags()
	f.StringVarP(&outDir, "out", "o", ".", "output directory")
	f.IntVarP(&concurrency, "concurrency", "c", 3, "images processed at once")
	f.StringVar(&priority, "priority", "normal", "queue priority: low|normal|high")
	f.BoolVar(&asJSON, "json", false, "print JSON instead of tables")
	return cmd
}

// showProgress drives a progress bar until updates is closed.
func showProgress(updates <-chan caracal.Progress, total int) {
	bar, err := pterm.DefaultProgressbar.WithTotal(total).WithTitle("Compressing").Start()
	if err != nil {
		return
	}
	done := 0
	for p := range updates {
		if d := p.Done(); d > done {
			bar.Add(d - done)
			done = d
		}
		if done >= total {
			break
		}
	}
	_, _ = bar.Stop()
}

func renderBatch(cmd *cobra.Command, results []batchItemOutput, prog caracal.Progress) error {
	rows := [][]string{{"Input", "State", "Score", "Detail"}}
	for _, r := range results {
		score, detail := "-", r.Error
		if r.Report != nil {
			score = fmt.Sprintf("%d (%s)", r.Report.OverallQuality, r.Report.Grade)
			detail = r.Output
		}
		rows = append(rows, []string{r.Input, string(r.State), score, detail})
	}
	w := cmd.OutOrStdout()
	if err := renderTable(w, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d completed, %d failed, %s → %s\n",
		prog.Completed, prog.Failed,
		humanize.IBytes(uint64(prog.OriginalBytes)), humanize.IBytes(uint64(prog.CompressedBytes)))
	return err
}
