package stats

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"golang.org/x/term"

	"github.com/verte-zerg/skillcast/internal/model"
)

const (
	terminalWidthBackup = 80
	sparkLabel          = "Casts/min per run: "
)

// RenderReport prints the summary, the per-skill table and a sparkline of
// cast rate per run, fitted to width.
func RenderReport(w io.Writer, report Report, width int, now time.Time) error {
	if err := RenderSummary(w, report.Runs, now); err != nil {
		return err
	}
	if len(report.Runs) == 0 {
		return nil
	}
	if err := RenderSkillTable(w, report.Skills); err != nil {
		return err
	}
	rates := make([]float64, 0, len(report.Runs))
	for _, r := range report.Runs {
		_, rate := RunMetrics(r, now)
		rates = append(rates, rate)
	}
	maxPoints := width - len(sparkLabel)
	if maxPoints < 1 {
		maxPoints = 1
	}
	if len(rates) > maxPoints {
		rates = rates[len(rates)-maxPoints:]
	}
	_, err := fmt.Fprintf(w, "\n%s%s\n", sparkLabel, Sparkline(rates))
	return err
}

// RenderSkillTable prints cast counts per skill, most cast first.
func RenderSkillTable(w io.Writer, skills []model.SkillAggregate) error {
	if len(skills) == 0 {
		_, err := fmt.Fprintln(w, "No casts recorded.")
		return err
	}
	sorted := TopSkillsByCasts(skills, len(skills))
	rows := make([][]string, 0, len(sorted))
	for _, s := range sorted {
		rows = append(rows, []string{
			s.Profile,
			s.Skill,
			s.Key,
			strconv.Itoa(s.Casts),
			s.Last.Local().Format("2006-01-02 15:04"),
		})
	}
	lines := formatTable([]string{"Profile", "Skill", "Key", "Casts", "Last cast"}, rows, map[int]bool{3: true})
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// TerminalWidth returns the width of stdout, or a fallback when stdout is not
// a terminal.
func TerminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return terminalWidthBackup
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}
