// Package batch runs one job over every ELAN document in a directory.
//
// Each file is processed on its own: load, correlate, and in replace mode
// mutate and write. A file that cannot be read, parsed or written is
// recorded in its FileResult and the run moves on to the next file unless
// FailFast is set. Invalid patterns are rejected before any file is read.
package batch

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/eafsr/core/annotation"
	"github.com/FocuswithJustin/eafsr/core/cas"
	"github.com/FocuswithJustin/eafsr/core/correlate"
	"github.com/FocuswithJustin/eafsr/core/eaf"
	"github.com/FocuswithJustin/eafsr/core/errors"
	"github.com/FocuswithJustin/eafsr/core/match"
	"github.com/FocuswithJustin/eafsr/core/mutate"
	"github.com/FocuswithJustin/eafsr/internal/backup"
	"github.com/FocuswithJustin/eafsr/internal/config"
	"github.com/FocuswithJustin/eafsr/internal/logging"
	"github.com/FocuswithJustin/eafsr/internal/validation"
)

// Mode selects what the runner does with each file.
type Mode string

const (
	// ModeFind correlates and reports groups without writing.
	ModeFind Mode = "find"
	// ModeReplace rewrites the change set and writes the output file.
	ModeReplace Mode = "replace"
	// ModeSearch matches the target slot alone and reports its records.
	ModeSearch Mode = "search"
)

// ErrFilesFailed is returned by Summary.Err when at least one file failed.
var ErrFilesFailed = stderrors.New("one or more files failed")

// Options configures a Runner.
type Options struct {
	InDir     string
	OutDir    string
	Job       config.Job
	Mode      Mode
	BackupDir string
	FailFast  bool
	EAF       eaf.Options
	// OnFile, if set, is called after each file in processing order.
	OnFile func(*FileResult)
}

// FileResult is the outcome for one input file.
type FileResult struct {
	Input      string          `json:"input"`
	Output     string          `json:"output,omitempty"`
	Records    int             `json:"records"`
	Strategy   string          `json:"strategy,omitempty"`
	Candidates [3]int          `json:"candidates"`
	Groups     int             `json:"groups"`
	Changes    []mutate.Change `json:"changes,omitempty"`
	Modified   int             `json:"modified"`
	InputHash  *cas.HashResult `json:"input_hash,omitempty"`
	OutputHash *cas.HashResult `json:"output_hash,omitempty"`
	Backup     string          `json:"backup,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`

	Err     error                    `json:"-"`
	Store   *annotation.Store        `json:"-"`
	Result  *correlate.Result        `json:"-"`
	Matches []*annotation.Annotation `json:"-"`
}

// Failed reports whether the file could not be processed.
func (f *FileResult) Failed() bool {
	return f.Err != nil
}

// Summary is the outcome of a run.
type Summary struct {
	RunID       string            `json:"run_id"`
	Mode        Mode              `json:"mode"`
	StartedAt   time.Time         `json:"started_at"`
	Query       [3]correlate.Slot `json:"query"`
	Replacement string            `json:"replacement,omitempty"`
	Files       []*FileResult     `json:"files"`
	Failed      int               `json:"failed"`
	Aborted     bool              `json:"aborted,omitempty"`
}

// Err returns ErrFilesFailed wrapping the first failure, or nil.
func (s *Summary) Err() error {
	for _, f := range s.Files {
		if f.Err != nil {
			return fmt.Errorf("%w (%d of %d): %v", ErrFilesFailed, s.Failed, len(s.Files), f.Err)
		}
	}
	return nil
}

// Modified returns the total number of values rewritten.
func (s *Summary) Modified() int {
	n := 0
	for _, f := range s.Files {
		n += f.Modified
	}
	return n
}

// Runner processes a directory of documents.
type Runner struct {
	opts   Options
	target *match.Filter
}

// New validates the options and compiles every slot pattern.
func New(opts Options) (*Runner, error) {
	if opts.Mode == "" {
		opts.Mode = ModeFind
	}
	switch opts.Mode {
	case ModeFind, ModeReplace, ModeSearch:
	default:
		return nil, errors.NewValidation("mode", fmt.Sprintf("unknown mode %q", opts.Mode))
	}

	if err := validation.ValidateDir(opts.InDir); err != nil {
		return nil, &errors.ValidationError{Field: "in", Value: opts.InDir, Message: err.Error(), Err: err}
	}
	if opts.Mode == ModeReplace {
		if err := validation.ValidatePath(opts.OutDir); err != nil {
			return nil, &errors.ValidationError{Field: "out", Value: opts.OutDir, Message: err.Error(), Err: err}
		}
		if !opts.Job.HasReplacement {
			return nil, errors.NewValidation("replacement", "replace mode needs a replacement value")
		}
	}

	r := &Runner{opts: opts}
	for i, slot := range opts.Job.Slots {
		f, err := match.Compile(fmt.Sprintf("slot%d", i+1), slot.Tier, slot.Value)
		if err != nil {
			return nil, err
		}
		if i == len(opts.Job.Slots)-1 {
			r.target = f
		}
	}
	return r, nil
}

// Files returns the .eaf files directly inside dir, sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewIO("read", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !eaf.IsEAF(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// OutputPath maps an input file to its output file under outDir.
func OutputPath(outDir, input string) string {
	base := filepath.Base(input)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".eaf")
}

// Run processes every file. The returned error is non-nil only when the run
// could not start or was cancelled; per-file failures are in the Summary.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		RunID:     uuid.NewString(),
		Mode:      r.opts.Mode,
		StartedAt: time.Now().UTC(),
		Query:     r.opts.Job.Slots,
	}
	if r.opts.Mode == ModeReplace {
		sum.Replacement = r.opts.Job.Replacement
	}
	ctx = logging.WithRunID(ctx, sum.RunID)

	files, err := Files(r.opts.InDir)
	if err != nil {
		return nil, err
	}

	if r.opts.Mode == ModeReplace {
		if validation.SameDir(r.opts.InDir, r.opts.OutDir) {
			logging.SafetyEvent(ctx, "overwrite_inputs", "dir", r.opts.InDir)
		}
		if err := os.MkdirAll(r.opts.OutDir, 0755); err != nil {
			return nil, errors.NewIO("mkdir", r.opts.OutDir, err)
		}
	}

	logging.InfoContext(ctx, "run_started",
		"mode", string(r.opts.Mode),
		"in", r.opts.InDir,
		"files", len(files),
		"target_tier", r.target.TierPattern(),
		"target_value", r.target.ValuePattern(),
	)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		fr := r.processFile(ctx, path)
		sum.Files = append(sum.Files, fr)
		if fr.Failed() {
			sum.Failed++
		}
		if r.opts.OnFile != nil {
			r.opts.OnFile(fr)
		}
		if fr.Failed() && r.opts.FailFast {
			sum.Aborted = true
			break
		}
	}

	logging.InfoContext(ctx, "run_finished",
		"files", len(sum.Files),
		"failed", sum.Failed,
		"modified", sum.Modified(),
	)
	return sum, nil
}

func (r *Runner) processFile(ctx context.Context, path string) *FileResult {
	start := time.Now()
	fr := &FileResult{Input: path}
	defer func() {
		fr.DurationMS = time.Since(start).Milliseconds()
		if fr.Err != nil {
			fr.Error = fr.Err.Error()
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		fr.Err = errors.NewIO("read", path, err)
		logging.FileError(ctx, path, "read", fr.Err)
		return fr
	}
	sum := cas.Sum(data)
	fr.InputHash = &sum

	doc, err := eaf.Parse(data, r.opts.EAF)
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		fr.Err = err
		logging.FileError(ctx, path, "parse", err)
		return fr
	}

	store := annotation.Load(doc.Records())
	fr.Store = store
	fr.Records = store.Len()

	if r.opts.Mode == ModeSearch {
		fr.Matches = r.target.Select(store.Annotations())
		logging.FileProcessed(ctx, path, string(r.opts.Mode), fr.Records, len(fr.Matches), 0, time.Since(start))
		return fr
	}

	res, err := correlate.Find(store, r.opts.Job.Query())
	if err != nil {
		fr.Err = errors.Wrap(err, "correlate")
		logging.FileError(ctx, path, "correlate", err)
		return fr
	}
	fr.Result = res
	fr.Strategy = res.Strategy.String()
	fr.Candidates = res.Candidates
	fr.Groups = len(res.Groups)

	if r.opts.Mode == ModeReplace {
		if err := r.replace(ctx, fr, doc, data); err != nil {
			fr.Err = err
			logging.FileError(ctx, path, "write", err)
			return fr
		}
	}

	logging.FileProcessed(ctx, path, string(r.opts.Mode), fr.Records, len(res.Groups), fr.Modified, time.Since(start),
		"strategy", fr.Strategy,
		"change_set", res.Changes.Len(),
	)
	return fr
}

func (r *Runner) replace(ctx context.Context, fr *FileResult, doc *eaf.Document, original []byte) error {
	changes := mutate.Apply(fr.Store, fr.Result.Changes, r.opts.Job.Replacement)
	fr.Changes = changes
	fr.Modified = mutate.Modified(changes)
	for _, c := range changes {
		if c.Modified() {
			logging.ValueReplaced(ctx, fr.Input, c.ID, c.Tier, c.Old, c.New)
		}
	}

	doc.Apply(fr.Store.Serialize())
	fr.Output = OutputPath(r.opts.OutDir, fr.Input)
	if err := validation.ValidateFilename(filepath.Base(fr.Output)); err != nil {
		return &errors.ValidationError{Field: "output", Value: fr.Output, Message: err.Error(), Err: err}
	}

	if r.opts.BackupDir != "" {
		path, created, err := backup.Write(r.opts.BackupDir, fr.Input, original)
		if err != nil {
			return errors.Wrapf(err, "backup of %s", filepath.Base(fr.Input))
		}
		fr.Backup = path
		if created {
			logging.DebugContext(ctx, "backup_written", "path", path)
		}
	}

	out := doc.Bytes()
	if err := eaf.WriteBytes(fr.Output, out); err != nil {
		return err
	}
	sum := cas.Sum(out)
	fr.OutputHash = &sum
	return nil
}
