// Package report renders run results for the terminal and as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/FocuswithJustin/eafsr/core/correlate"
	"github.com/FocuswithJustin/eafsr/core/errors"
	"github.com/FocuswithJustin/eafsr/core/mutate"
	"github.com/FocuswithJustin/eafsr/internal/batch"
)

// Rule separates matched groups.
const Rule = "----------------------"

// Printer writes human-readable reports to w. Colour follows fatih/color's
// terminal detection and the NO_COLOR environment variable.
type Printer struct {
	w      io.Writer
	title  *color.Color
	green  *color.Color
	yellow *color.Color
	red    *color.Color
}

// New creates a Printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{
		w:      w,
		title:  color.New(color.FgCyan, color.Bold),
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed, color.Bold),
	}
}

// File prints the heading for one input file.
func (p *Printer) File(path string) {
	p.title.Fprintf(p.w, "\n  %s\n\n", path)
}

// Groups prints each matched group as "tier: value" lines followed by a rule.
func (p *Printer) Groups(groups []correlate.Group) {
	for _, g := range groups {
		for _, a := range g {
			fmt.Fprintf(p.w, "  %s: %s\n", a.Tier, a.Value)
		}
		fmt.Fprintln(p.w, Rule)
	}
}

// Changes prints one line per rewritten record: tier id old --> new.
func (p *Printer) Changes(changes []mutate.Change) {
	for _, c := range changes {
		arrow := p.green.Sprint("-->")
		if !c.Modified() {
			arrow = "==="
		}
		fmt.Fprintf(p.w, "    :: %s %s %s %s %s\n", c.Tier, c.ID, c.Old, arrow, c.New)
	}
}

// Failure prints a per-file error.
func (p *Printer) Failure(fr *batch.FileResult) {
	p.red.Fprintf(p.w, "  failed: %s\n", filepath.Base(fr.Input))
	fmt.Fprintf(p.w, "  %v\n", fr.Err)
}

// Summary prints the closing line of a run.
func (p *Printer) Summary(s *batch.Summary) {
	line := fmt.Sprintf("%d file(s), %d value(s) rewritten, %d failed (run %s)\n",
		len(s.Files), s.Modified(), s.Failed, s.RunID)
	switch {
	case s.Failed > 0:
		p.yellow.Fprint(p.w, line)
	default:
		p.green.Fprint(p.w, line)
	}
	if s.Aborted {
		p.yellow.Fprintln(p.w, "run stopped after the first failure")
	}
}

// FileResult prints the outcome of one file in find or replace mode.
func (p *Printer) FileResult(fr *batch.FileResult) {
	p.File(fr.Input)
	if fr.Failed() {
		p.Failure(fr)
		return
	}
	if len(fr.Changes) > 0 {
		p.Changes(fr.Changes)
		return
	}
	if fr.Result != nil {
		p.Groups(fr.Result.Groups)
	}
}

// WriteJSON writes the run summary to path as indented JSON.
func WriteJSON(path string, s *batch.Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.NewSerialize(path, err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.NewSerialize(path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.NewSerialize(path, err)
	}
	return nil
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
