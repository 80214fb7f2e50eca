// Package config loads search/replace jobs.
//
// A job is the immutable description of one run: three filter slots and a
// replacement value. Jobs can be read from a TOML file and overridden by
// command-line flags:
//
//	replacement = "PRONOUN"
//
//	[[slot]]
//	tier = "words"
//	value = "Ngau"
//
//	[[slot]]
//	tier = "lexical-unit"
//	value = "ngau"
//
//	[[slot]]
//	tier = "POS"
//	value = "Pronoun"
//
// Slots are positional; fewer than three leaves the rest empty.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/FocuswithJustin/eafsr/core/correlate"
	"github.com/FocuswithJustin/eafsr/core/errors"
)

// MaxSlots is the number of filter slots in a job.
const MaxSlots = 3

// Job is one search/replace configuration.
type Job struct {
	Slots       [MaxSlots]correlate.Slot
	Replacement string
	// HasReplacement distinguishes an explicit empty replacement from none.
	HasReplacement bool
}

type jobFile struct {
	Slots       []correlate.Slot `toml:"slot"`
	Replacement *string          `toml:"replacement"`
}

// Load reads a TOML job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}

	job, err := Parse(data)
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return job, nil
}

// Parse decodes a TOML job.
func Parse(data []byte) (*Job, error) {
	var f jobFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, &errors.ParseError{Format: "TOML", Message: err.Error(), Err: err}
	}
	if len(f.Slots) > MaxSlots {
		return nil, errors.NewValidation("slot", fmt.Sprintf("at most %d slots allowed, got %d", MaxSlots, len(f.Slots)))
	}

	job := &Job{}
	copy(job.Slots[:], f.Slots)
	if f.Replacement != nil {
		job.Replacement = *f.Replacement
		job.HasReplacement = true
	}
	return job, nil
}

// Query returns the correlate query for the job.
func (j Job) Query() correlate.Query {
	return correlate.Query{Slots: j.Slots}
}

// Override describes flag values layered over a job. Nil pointers leave the
// job's value in place.
type Override struct {
	Tiers       [MaxSlots]*string
	Values      [MaxSlots]*string
	Replacement *string
}

// Apply returns a copy of j with the override applied.
func (o Override) Apply(j Job) Job {
	for i := 0; i < MaxSlots; i++ {
		if o.Tiers[i] != nil {
			j.Slots[i].Tier = *o.Tiers[i]
		}
		if o.Values[i] != nil {
			j.Slots[i].Value = *o.Values[i]
		}
	}
	if o.Replacement != nil {
		j.Replacement = *o.Replacement
		j.HasReplacement = true
	}
	return j
}

// Resolve loads path (if non-empty) and applies the override.
func Resolve(path string, o Override) (Job, error) {
	var base Job
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return Job{}, err
		}
		base = *loaded
	}
	return o.Apply(base), nil
}
