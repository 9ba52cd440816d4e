// SPDX-License-Identifier: MIT
//
// Package station turns sequencer runs into operator-facing results: reports
// with per-band curve statistics, the text summary printed by the CLI and the
// HTTP control surface used by line controllers and dashboards.
package station

import (
	"fmt"
	"io"
	"math"
	"time"

	"headset/internal/analysis"
	"headset/internal/sequencer"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Report bundles a run result with the transfer functions it produced.
type Report struct {
	Result *sequencer.Result `json:"result"`
	BinHz  float64           `json:"bin_hz"`
	Curves []CurveReport     `json:"curves,omitempty"`
}

// CurveReport is one transfer function and its band statistics.
type CurveReport struct {
	Curve            string                     `json:"curve"`
	TransferFunction *analysis.TransferFunction `json:"transfer_function"`
	Bands            []BandReport               `json:"bands"`
}

// BandReport is analysis.BandSummary with empty bands encoded as null.
type BandReport struct {
	Name   string   `json:"name"`
	LowHz  float64  `json:"low_hz"`
	HighHz float64  `json:"high_hz"`
	Bins   int      `json:"bins"`
	MeanDB *float64 `json:"mean_db"`
	StdDB  *float64 `json:"std_db"`
	MinDB  *float64 `json:"min_db"`
	MaxDB  *float64 `json:"max_db"`
}

// BuildReport attaches band statistics to the curves a run produced.
func BuildReport(res *sequencer.Result, curves []*analysis.TransferFunction, binHz float64, bands []analysis.FrequencyBand) *Report {
	r := &Report{Result: res, BinHz: binHz}
	for _, tf := range curves {
		r.Curves = append(r.Curves, CurveReport{
			Curve:            tf.Curve.String(),
			TransferFunction: tf,
			Bands:            bandReports(analysis.Summarize(tf, binHz, bands)),
		})
	}
	return r
}

func bandReports(summaries []analysis.BandSummary) []BandReport {
	out := make([]BandReport, len(summaries))
	for i, s := range summaries {
		out[i] = BandReport{
			Name:   s.Band.Name,
			LowHz:  s.Band.LowHz,
			HighHz: s.Band.HighHz,
			Bins:   s.Bins,
			MeanDB: finite(s.MeanDB),
			StdDB:  finite(s.StdDB),
			MinDB:  finite(s.MinDB),
			MaxDB:  finite(s.MaxDB),
		}
	}
	return out
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// WriteText prints the outcome of every position followed by a mean-dB table
// with one row per curve and one column per band.
func WriteText(w io.Writer, r *Report) error {
	res := r.Result
	if _, err := fmt.Fprintf(w, "%s: %d windows in %s\n", res.Name, res.Windows, res.Elapsed.Round(time.Millisecond)); err != nil {
		return err
	}
	for _, po := range res.Outcomes {
		fmt.Fprintf(w, "  %-6s %s\n", po.Position, po.Outcome)
	}
	if len(r.Curves) == 0 {
		return nil
	}

	headers := []string{"curve"}
	for _, b := range r.Curves[0].Bands {
		headers = append(headers, fmt.Sprintf("%s %.0f-%.0f Hz", b.Name, b.LowHz, b.HighHz))
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, c := range r.Curves {
		row := []string{c.Curve}
		for _, b := range c.Bands {
			row = append(row, formatDB(b.MeanDB, b.StdDB))
		}
		t.Row(row...)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func formatDB(mean, std *float64) string {
	if mean == nil {
		return "n/a"
	}
	if std == nil {
		return fmt.Sprintf("%.1f dB", *mean)
	}
	return fmt.Sprintf("%.1f ±%.1f dB", *mean, *std)
}
