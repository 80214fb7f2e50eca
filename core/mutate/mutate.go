// Package mutate applies a replacement value to the records of a change set.
package mutate

import (
	"github.com/FocuswithJustin/eafsr/core/annotation"
	"github.com/FocuswithJustin/eafsr/core/correlate"
)

// Change is one audit entry.
type Change struct {
	ID   string `json:"id"`
	Tier string `json:"tier"`
	Old  string `json:"old"`
	New  string `json:"new"`
}

// Modified reports whether the value actually differs.
func (c Change) Modified() bool {
	return c.Old != c.New
}

// Apply sets the value of every record in changes to newValue, in place and
// in change-set order, and returns one audit entry per record. Ids missing
// from the store are skipped. Applying the same arguments again leaves the
// store unchanged.
func Apply(store *annotation.Store, changes *correlate.ChangeSet, newValue string) []Change {
	var log []Change
	for _, id := range changes.IDs() {
		a, ok := store.Get(id)
		if !ok {
			continue
		}
		old, _ := store.SetValue(id, newValue)
		log = append(log, Change{
			ID:   id,
			Tier: a.Tier,
			Old:  old,
			New:  newValue,
		})
	}
	return log
}

// Modified counts the entries whose value changed.
func Modified(log []Change) int {
	n := 0
	for _, c := range log {
		if c.Modified() {
			n++
		}
	}
	return n
}
