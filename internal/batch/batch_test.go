package batch

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FocuswithJustin/eafsr/core/cas"
	"github.com/FocuswithJustin/eafsr/core/correlate"
	"github.com/FocuswithJustin/eafsr/core/eaf"
	"github.com/FocuswithJustin/eafsr/core/errors"
	"github.com/FocuswithJustin/eafsr/internal/backup"
	"github.com/FocuswithJustin/eafsr/internal/config"
	"github.com/FocuswithJustin/eafsr/internal/logging"
)

const chainDoc = `<?xml version="1.0" encoding="UTF-8"?>
<ANNOTATION_DOCUMENT>
    <TIER LINGUISTIC_TYPE_REF="words" TIER_ID="words@A">
        <ANNOTATION>
            <REF_ANNOTATION ANNOTATION_ID="a1" ANNOTATION_REF="a0">
                <ANNOTATION_VALUE>Ngau</ANNOTATION_VALUE>
            </REF_ANNOTATION>
        </ANNOTATION>
    </TIER>
    <TIER LINGUISTIC_TYPE_REF="lexical-unit" TIER_ID="lu@A" PARENT_REF="words@A">
        <ANNOTATION>
            <REF_ANNOTATION ANNOTATION_ID="a2" ANNOTATION_REF="a1">
                <ANNOTATION_VALUE>ngau</ANNOTATION_VALUE>
            </REF_ANNOTATION>
        </ANNOTATION>
    </TIER>
    <TIER LINGUISTIC_TYPE_REF="POS" TIER_ID="pos@A" PARENT_REF="lu@A">
        <ANNOTATION>
            <REF_ANNOTATION ANNOTATION_ID="a3" ANNOTATION_REF="a2">
                <ANNOTATION_VALUE>Pronoun</ANNOTATION_VALUE>
            </REF_ANNOTATION>
        </ANNOTATION>
    </TIER>
</ANNOTATION_DOCUMENT>
`

func quietLogs(t *testing.T) {
	t.Helper()
	var buf bytes.Buffer
	logging.InitLoggerTo(&buf, logging.LevelError, logging.FormatText)
	t.Cleanup(func() { logging.InitLoggerTo(os.Stderr, logging.LevelInfo, logging.FormatText) })
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func pronounJob(replacement string) config.Job {
	return config.Job{
		Slots: [config.MaxSlots]correlate.Slot{
			{Tier: "words", Value: "Ngau"},
			{Tier: "lexical-unit", Value: "ngau"},
			{Tier: "POS", Value: "Pronoun"},
		},
		Replacement:    replacement,
		HasReplacement: true,
	}
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"b.eaf":     chainDoc,
		"a.eaf":     chainDoc,
		"notes.txt": "x",
	})
	if err := os.Mkdir(filepath.Join(dir, "sub.eaf"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := Files(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.eaf"), filepath.Join(dir, "b.eaf")}
	if len(files) != len(want) || files[0] != want[0] || files[1] != want[1] {
		t.Errorf("Files() = %v, want %v", files, want)
	}

	if _, err := Files(filepath.Join(dir, "missing")); err == nil {
		t.Error("Files(missing) should fail")
	}
}

func TestOutputPath(t *testing.T) {
	if got := OutputPath("/out", "/in/s1.eaf"); got != filepath.Join("/out", "s1.eaf") {
		t.Errorf("OutputPath() = %q", got)
	}
}

func TestNewValidation(t *testing.T) {
	in := t.TempDir()

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"missing in", Options{InDir: filepath.Join(in, "nope")}, errors.ErrInvalidInput},
		{"unknown mode", Options{InDir: in, Mode: "delete"}, errors.ErrInvalidInput},
		{"replace without value", Options{InDir: in, OutDir: in, Mode: ModeReplace}, errors.ErrInvalidInput},
		{"bad pattern", Options{InDir: in, Job: config.Job{Slots: [3]correlate.Slot{{}, {}, {Value: "("}}}}, errors.ErrInvalidPattern},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil {
				t.Fatal("New should fail")
			}
			if tt.want == errors.ErrInvalidPattern && !stderrors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var ve *errors.ValidationError
			if tt.want == errors.ErrInvalidInput && !stderrors.As(err, &ve) {
				t.Errorf("error = %v, want *ValidationError", err)
			}
		})
	}
}

func TestRunReplace(t *testing.T) {
	quietLogs(t)
	in, out, bak := t.TempDir(), t.TempDir(), t.TempDir()
	writeFiles(t, in, map[string]string{"s1.eaf": chainDoc})

	var seen []string
	r, err := New(Options{
		InDir:     in,
		OutDir:    out,
		Job:       pronounJob("PRONOUN"),
		Mode:      ModeReplace,
		BackupDir: bak,
		OnFile:    func(fr *FileResult) { seen = append(seen, filepath.Base(fr.Input)) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Err() != nil {
		t.Fatalf("Summary.Err() = %v", sum.Err())
	}
	if sum.RunID == "" || sum.Replacement != "PRONOUN" {
		t.Errorf("summary = %+v", sum)
	}
	if len(seen) != 1 || seen[0] != "s1.eaf" {
		t.Errorf("OnFile saw %v", seen)
	}

	fr := sum.Files[0]
	if fr.Strategy != correlate.StrategyThreeWay.String() || fr.Modified != 1 || sum.Modified() != 1 {
		t.Errorf("file result = %+v", fr)
	}
	if fr.InputHash == nil || fr.OutputHash == nil || fr.InputHash.BLAKE3 == fr.OutputHash.BLAKE3 {
		t.Errorf("hashes = %+v / %+v", fr.InputHash, fr.OutputHash)
	}

	written, err := os.ReadFile(filepath.Join(out, "s1.eaf"))
	if err != nil {
		t.Fatal(err)
	}
	if want := cas.Sum(written); *fr.OutputHash != want {
		t.Errorf("OutputHash = %+v, want hash of the written file %+v", *fr.OutputHash, want)
	}

	doc, err := eaf.ReadFile(filepath.Join(out, "s1.eaf"), eaf.Options{})
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	got := map[string]string{}
	for _, rec := range doc.Records() {
		got[rec.ID] = rec.Value
	}
	if got["a3"] != "PRONOUN" || got["a1"] != "Ngau" || got["a2"] != "ngau" {
		t.Errorf("output values = %v", got)
	}

	original, err := backup.Read(fr.Backup)
	if err != nil {
		t.Fatalf("backup unreadable: %v", err)
	}
	if string(original) != chainDoc {
		t.Error("backup does not hold the original input")
	}
}

func TestRunContinuesAfterParseError(t *testing.T) {
	quietLogs(t)
	in, out := t.TempDir(), t.TempDir()
	writeFiles(t, in, map[string]string{
		"a.eaf": "<ANNOTATION_DOCUMENT><TIER>",
		"b.eaf": chainDoc,
	})

	r, err := New(Options{InDir: in, OutDir: out, Job: pronounJob("X"), Mode: ModeReplace})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(sum.Files) != 2 || sum.Failed != 1 || sum.Aborted {
		t.Fatalf("summary = %+v", sum)
	}
	var pe *errors.ParseError
	if !stderrors.As(sum.Files[0].Err, &pe) || pe.Path != filepath.Join(in, "a.eaf") {
		t.Errorf("first file error = %v, want ParseError with path", sum.Files[0].Err)
	}
	if sum.Files[0].Error == "" {
		t.Error("Error string not recorded")
	}
	if sum.Files[1].Failed() || sum.Files[1].Modified != 1 {
		t.Errorf("second file = %+v", sum.Files[1])
	}
	if !stderrors.Is(sum.Err(), ErrFilesFailed) {
		t.Errorf("Summary.Err() = %v, want ErrFilesFailed", sum.Err())
	}
	if _, err := os.Stat(filepath.Join(out, "a.eaf")); !os.IsNotExist(err) {
		t.Error("failed file should not produce output")
	}
}

func TestRunRejectsUnsafeOutputName(t *testing.T) {
	quietLogs(t)
	in, out := t.TempDir(), t.TempDir()
	writeFiles(t, in, map[string]string{
		"a\x01b.eaf": chainDoc,
		"c.eaf":      chainDoc,
	})

	r, err := New(Options{InDir: in, OutDir: out, Job: pronounJob("X"), Mode: ModeReplace})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Files) != 2 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	var ve *errors.ValidationError
	if !stderrors.As(sum.Files[0].Err, &ve) || ve.Field != "output" {
		t.Errorf("first file error = %v, want ValidationError on output", sum.Files[0].Err)
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "c.eaf" {
		t.Errorf("output dir = %v, want only c.eaf", entries)
	}
}

func TestRunBackupFailureIsWrapped(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	in, out := filepath.Join(dir, "in"), filepath.Join(dir, "out")
	if err := os.Mkdir(in, 0755); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, in, map[string]string{"s1.eaf": chainDoc})
	// a regular file where the backup directory should be
	blocked := filepath.Join(dir, "backup")
	if err := os.WriteFile(blocked, nil, 0644); err != nil {
		t.Fatal(err)
	}

	r, err := New(Options{InDir: in, OutDir: out, Job: pronounJob("X"), Mode: ModeReplace, BackupDir: blocked})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fr := sum.Files[0]
	var ioe *errors.IOError
	if !stderrors.As(fr.Err, &ioe) || !strings.Contains(fr.Error, "backup of s1.eaf") {
		t.Errorf("error = %v, want wrapped IOError naming the input", fr.Err)
	}
	if _, err := os.Stat(filepath.Join(out, "s1.eaf")); !os.IsNotExist(err) {
		t.Error("output written although the backup failed")
	}
}

func TestRunFailFast(t *testing.T) {
	quietLogs(t)
	in, out := t.TempDir(), t.TempDir()
	writeFiles(t, in, map[string]string{
		"a.eaf": "not xml at all <",
		"b.eaf": chainDoc,
	})

	r, err := New(Options{InDir: in, OutDir: out, Job: pronounJob("X"), Mode: ModeReplace, FailFast: true})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Files) != 1 || !sum.Aborted {
		t.Errorf("summary = %+v, want abort after first file", sum)
	}
	if _, err := os.Stat(filepath.Join(out, "b.eaf")); !os.IsNotExist(err) {
		t.Error("second file should not have been processed")
	}
}

func TestRunFindWritesNothing(t *testing.T) {
	quietLogs(t)
	in := t.TempDir()
	writeFiles(t, in, map[string]string{"s1.eaf": chainDoc})

	job := pronounJob("")
	job.Slots[0] = correlate.Slot{}
	r, err := New(Options{InDir: in, Job: job})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fr := sum.Files[0]
	if fr.Strategy != correlate.StrategyMiddleBottom.String() || fr.Groups != 1 || fr.Output != "" {
		t.Errorf("file result = %+v", fr)
	}
	if sum.Replacement != "" {
		t.Error("find mode should not record a replacement")
	}

	entries, _ := os.ReadDir(in)
	if len(entries) != 1 {
		t.Errorf("find mode wrote files: %v", entries)
	}
}

func TestRunSearch(t *testing.T) {
	quietLogs(t)
	in := t.TempDir()
	writeFiles(t, in, map[string]string{"s1.eaf": chainDoc})

	job := config.Job{Slots: [3]correlate.Slot{{}, {}, {Value: "(?i)ngau"}}}
	r, err := New(Options{InDir: in, Job: job, Mode: ModeSearch})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fr := sum.Files[0]
	if len(fr.Matches) != 2 || fr.Matches[0].ID != "a1" || fr.Matches[1].ID != "a2" {
		t.Errorf("matches = %v", fr.Matches)
	}
	if fr.Store == nil || fr.Records != 3 {
		t.Errorf("store not attached: %+v", fr)
	}
}

func TestRunSameDirWarns(t *testing.T) {
	var buf bytes.Buffer
	logging.InitLoggerTo(&buf, logging.LevelWarn, logging.FormatText)
	defer logging.InitLoggerTo(os.Stderr, logging.LevelInfo, logging.FormatText)

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"s1.eaf": chainDoc})

	r, err := New(Options{InDir: dir, OutDir: dir, Job: pronounJob("X"), Mode: ModeReplace})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "overwrite_inputs") {
		t.Errorf("no overwrite warning logged: %q", buf.String())
	}
}

func TestRunCancelled(t *testing.T) {
	quietLogs(t)
	in := t.TempDir()
	writeFiles(t, in, map[string]string{"s1.eaf": chainDoc})

	r, err := New(Options{InDir: in, Job: pronounJob("")})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx); !stderrors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
