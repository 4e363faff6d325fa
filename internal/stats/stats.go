// Package stats contains cast statistics and reporting.
package stats

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/verte-zerg/skillcast/internal/model"
)

const sparkChars = " .:-=+*#%@"

// RunMetrics computes the duration of a run and its casts per minute. Open
// runs are measured up to now.
func RunMetrics(run model.RunAggregate, now time.Time) (duration time.Duration, perMinute float64) {
	end := run.EndedAt
	if end.IsZero() {
		end = now
	}
	duration = end.Sub(run.StartedAt)
	if duration <= 0 {
		return 0, 0
	}
	return duration, float64(run.Casts) / duration.Minutes()
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

// RenderSummary prints a summary of runs.
func RenderSummary(w io.Writer, runs []model.RunAggregate, now time.Time) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs found.")
		return err
	}
	var totalCasts int
	var totalDuration time.Duration
	bestRate := 0.0
	for _, r := range runs {
		d, rate := RunMetrics(r, now)
		totalCasts += r.Casts
		totalDuration += d
		if rate > bestRate {
			bestRate = rate
		}
	}
	avgRate := 0.0
	if totalDuration > 0 {
		avgRate = float64(totalCasts) / totalDuration.Minutes()
	}
	if _, err := fmt.Fprintln(w, "Summary"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Runs: %d\n", len(runs)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Casts: %d\n", totalCasts); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Time running: %s\n", totalDuration.Round(time.Second)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Avg casts/min: %.2f\n", avgRate); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Best casts/min: %.2f\n", bestRate); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}
	return nil
}
