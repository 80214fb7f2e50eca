// Command eafsr searches and rewrites annotation values across a directory
// of ELAN (.eaf) files, correlating matches through the annotation tree.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/FocuswithJustin/eafsr/core/correlate"
	"github.com/FocuswithJustin/eafsr/core/eaf"
	"github.com/FocuswithJustin/eafsr/internal/batch"
	"github.com/FocuswithJustin/eafsr/internal/config"
	"github.com/FocuswithJustin/eafsr/internal/logging"
	"github.com/FocuswithJustin/eafsr/internal/report"
)

const version = "0.1.0"

// stdout receives report output; tests replace it.
var stdout io.Writer = os.Stdout

// CLI defines the command-line interface for eafsr.
var CLI struct {
	// Global flags
	Config    kong.ConfigFlag `help:"JSON file with flag defaults"`
	LogLevel  string          `name:"log-level" help:"Log level" enum:"debug,info,warn,error" default:"info"`
	LogFormat string          `name:"log-format" help:"Log format" enum:"text,json" default:"text"`

	Find    FindCmd    `cmd:"" help:"Print matched annotation groups"`
	Replace ReplaceCmd `cmd:"" help:"Rewrite matched values and write the results"`
	Search  SearchCmd  `cmd:"" help:"Search one tier pattern and print statistics"`
	Tiers   TiersCmd   `cmd:"" help:"List the linguistic types of each file"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// SlotFlags are the three filter slots. Slot 3 selects the records to
// change; slots 1 and 2 narrow them through the annotation tree.
type SlotFlags struct {
	Job    string  `help:"TOML job file with slots and replacement" type:"existingfile"`
	Tier1  *string `name:"tier1" help:"Slot 1 tier pattern" group:"slots"`
	Value1 *string `name:"value1" help:"Slot 1 value pattern" group:"slots"`
	Tier2  *string `name:"tier2" help:"Slot 2 tier pattern" group:"slots"`
	Value2 *string `name:"value2" help:"Slot 2 value pattern" group:"slots"`
	Tier3  *string `name:"tier3" help:"Slot 3 (target) tier pattern" group:"slots"`
	Value3 *string `name:"value3" help:"Slot 3 (target) value pattern" group:"slots"`
}

func (s *SlotFlags) override() config.Override {
	return config.Override{
		Tiers:  [config.MaxSlots]*string{s.Tier1, s.Tier2, s.Tier3},
		Values: [config.MaxSlots]*string{s.Value1, s.Value2, s.Value3},
	}
}

// InputFlags select the documents to read.
type InputFlags struct {
	In               string `help:"Directory of .eaf files" required:"" type:"existingdir"`
	IncludeAlignable bool   `name:"include-alignable" help:"Also read time-aligned annotations"`
}

func (f *InputFlags) eafOptions() eaf.Options {
	return eaf.Options{IncludeAlignable: f.IncludeAlignable}
}

// FindCmd prints every matched group.
type FindCmd struct {
	InputFlags
	SlotFlags
	FailFast bool `name:"fail-fast" help:"Stop at the first file that fails"`
}

func (c *FindCmd) Run() error {
	job, err := config.Resolve(c.Job, c.override())
	if err != nil {
		return err
	}
	p := report.New(stdout)
	return run(batch.Options{
		InDir:    c.In,
		Job:      job,
		Mode:     batch.ModeFind,
		FailFast: c.FailFast,
		EAF:      c.eafOptions(),
		OnFile:   p.FileResult,
	}, p, "")
}

// ReplaceCmd rewrites the change set of every file.
type ReplaceCmd struct {
	InputFlags
	SlotFlags
	Out      string  `help:"Output directory" required:"" type:"path"`
	With     *string `help:"Replacement value"`
	Backup   string  `help:"Directory for xz backups of the inputs" type:"path"`
	Report   string  `help:"Write a JSON run report to this file" type:"path"`
	FailFast bool    `name:"fail-fast" help:"Stop at the first file that fails"`
}

func (c *ReplaceCmd) Run() error {
	o := c.override()
	o.Replacement = c.With
	job, err := config.Resolve(c.Job, o)
	if err != nil {
		return err
	}
	p := report.New(stdout)
	return run(batch.Options{
		InDir:     c.In,
		OutDir:    c.Out,
		Job:       job,
		Mode:      batch.ModeReplace,
		BackupDir: c.Backup,
		FailFast:  c.FailFast,
		EAF:       c.eafOptions(),
		OnFile:    p.FileResult,
	}, p, c.Report)
}

// SearchCmd matches a single tier/value filter and tabulates the results.
type SearchCmd struct {
	InputFlags
	Tier  string `help:"Tier pattern (default any tier)"`
	Value string `arg:"" help:"Value pattern"`
}

func (c *SearchCmd) Run() error {
	p := report.New(stdout)
	stats := report.NewStats()
	var tableErr error

	job := config.Job{}
	job.Slots[config.MaxSlots-1] = correlate.Slot{Tier: c.Tier, Value: c.Value}

	err := run(batch.Options{
		InDir: c.In,
		Job:   job,
		Mode:  batch.ModeSearch,
		EAF:   c.eafOptions(),
		OnFile: func(fr *batch.FileResult) {
			p.File(fr.Input)
			if fr.Failed() {
				p.Failure(fr)
				return
			}
			rows := report.SearchRows(fr.Store, fr.Matches, stats)
			if err := report.SearchTable(stdout, rows); err != nil && tableErr == nil {
				tableErr = err
			}
		},
	}, nil, "")
	if tableErr != nil {
		return tableErr
	}
	if serr := report.StatsTable(stdout, stats); serr != nil {
		return serr
	}
	return err
}

// TiersCmd lists the linguistic types found in each file.
type TiersCmd struct {
	InputFlags
}

func (c *TiersCmd) Run() error {
	files, err := batch.Files(c.In)
	if err != nil {
		return err
	}
	p := report.New(stdout)
	for _, path := range files {
		doc, err := eaf.ReadFile(path, c.eafOptions())
		if err != nil {
			return err
		}
		p.File(path)
		for _, t := range doc.TierTypes() {
			fmt.Fprintf(stdout, "  %s\n", t)
		}
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Fprintf(stdout, "eafsr version %s\n", version)
	return nil
}

// run executes a batch, prints the summary when p is set and writes the
// JSON report when reportPath is set.
func run(opts batch.Options, p *report.Printer, reportPath string) error {
	r, err := batch.New(opts)
	if err != nil {
		return err
	}
	sum, err := r.Run(context.Background())
	if err != nil {
		return err
	}
	if p != nil {
		p.Summary(sum)
	}
	if reportPath != "" {
		if err := report.WriteJSON(reportPath, sum); err != nil {
			return err
		}
		logging.Info("report_written", "path", reportPath, "run_id", sum.RunID)
	}
	return sum.Err()
}

func setupLogging() error {
	level, err := logging.ParseLevel(CLI.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(CLI.LogFormat)
	if err != nil {
		return err
	}
	logging.InitLogger(level, format)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("eafsr"),
		kong.Description("Tier-correlated search and replace for ELAN annotation files"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Configuration(kong.JSON),
	)
	ctx.FatalIfErrorf(setupLogging())
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
