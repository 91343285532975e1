package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/shamspias/caracal"
)

func renderTable(w io.Writer, rows [][]string) error {
	s, err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData(rows)).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, s)
	return err
}

func reportRows(r *caracal.QualityReport) [][]string {
	return [][]string{
		{"Metric", "Value"},
		{"PSNR", fmt.Sprintf("%.2f dB", r.PSNR)},
		{"SSIM", fmt.Sprintf("%.4f", r.SSIM)},
		{"MSE", fmt.Sprintf("%.3f", r.MSE)},
		{"Sharpness", fmt.Sprintf("%.4f", r.Sharpness)},
		{"Contrast", fmt.Sprintf("%.4f", r.Contrast)},
		{"Brightness", fmt.Sprintf("%.4f", r.Brightness)},
		{"Colorfulness", fmt.Sprintf("%.4f", r.Colorfulness)},
		{"Noise", fmt.Sprintf("%.4f", r.NoiseLevel)},
		{"File efficiency", fmt.Sprintf("%.3f", r.FileEfficiency)},
		{"Compression ratio", fmt.Sprintf("%.2fx", r.CompressionRatio)},
		{"Overall", fmt.Sprintf("%d (%s)", r.OverallQuality, r.Grade)},
	}
}

func resultRows(r *caracal.EncodedResult) [][]string {
	return [][]string{
		{"Field", "Value"},
		{"Dimensions", fmt.Sprintf("%dx%d → %dx%d",
			r.OriginalDimensions.X, r.OriginalDimensions.Y, r.OutputDimensions.X, r.OutputDimensions.Y)},
		{"Size", fmt.Sprintf("%s → %s (%.1f%% saved)",
			humanize.IBytes(uint64(r.OriginalSize)), humanize.IBytes(uint64(r.Size)), r.SavingsPercent())},
		{"Quality", fmt.Sprintf("%.3f", r.Quality)},
		{"Filters", filterLabel(r.Filters)},
	}
}

func filterLabel(f caracal.FilterSet) string {
	s := ""
	add := func(on bool, name string) {
		if !on {
			return
		}
		if s != "" {
			s += ", "
		}
		s += name
	}
	add(f.WebOptimized, "web")
	add(f.Sharpen, "sharpen")
	add(f.NoiseReduction, "denoise")
	if s == "" {
		return "none"
	}
	return s
}

// channelMean is the average value recorded in a histogram channel.
func channelMean(h [256]int) float64 {
	var n, sum int
	for v, c := range h {
		n += c
		sum += v * c
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
