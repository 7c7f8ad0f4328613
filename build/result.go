package build

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// StepResult describes one executed command.
type StepResult struct {
	Index   int
	Command string
	// Output is the repository the step wrote to.
	Output string
	// Image is the output's HEAD after the step.
	Image    string
	Cached   bool
	Duration time.Duration
	Err      error
}

type Result struct {
	RunID string
	Steps []StepResult
	// Outputs maps every output repository of the run to its final HEAD.
	Outputs          map[string]string
	ExecutionTimeSec float64
}

// CachedSteps counts steps that reused an existing image.
func (r Result) CachedSteps() int {
	n := 0
	for _, s := range r.Steps {
		if s.Cached {
			n++
		}
	}
	return n
}

func (r Result) ExecutionTime() string {
	return formatDuration(r.ExecutionTimeSec)
}

// Display renders the steps as a table followed by a summary line.
func (r Result) Display(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Command", "Output", "Image", "Status", "Time"})
	for _, s := range r.Steps {
		status := "built"
		switch {
		case s.Err != nil:
			status = "failed"
		case s.Cached:
			status = "cached"
		}
		t.AppendRow(table.Row{s.Index, s.Command, s.Output, short(s.Image), status, formatDuration(s.Duration.Seconds())})
	}
	t.Render()

	fmt.Fprintf(w, "%d step(s), %d cached (%s)\n", len(r.Steps), r.CachedSteps(), r.ExecutionTime())
	for _, name := range slices.Sorted(maps.Keys(r.Outputs)) {
		fmt.Fprintf(w, "%s -> %s\n", name, short(r.Outputs[name]))
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// formatDuration formats a duration in human-readable form
func formatDuration(secs float64) string {
	switch {
	case secs < 0.001:
		return "<1ms"
	case secs < 1:
		return fmt.Sprintf("%dms", int(secs*1000))
	case secs < 10:
		return fmt.Sprintf("%.1fs", secs)
	case secs < 60:
		return fmt.Sprintf("%ds", int(secs))
	}
	mins := int(secs / 60)
	if rem := int(secs) % 60; rem != 0 {
		return fmt.Sprintf("%dm%ds", mins, rem)
	}
	return fmt.Sprintf("%dm", mins)
}
