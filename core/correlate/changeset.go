package correlate

// ChangeSet is a deduplicated set of record ids that keeps first-insertion order.
type ChangeSet struct {
	ids  []string
	seen map[string]struct{}
}

// NewChangeSet creates a change set holding ids.
func NewChangeSet(ids ...string) *ChangeSet {
	cs := &ChangeSet{seen: make(map[string]struct{})}
	for _, id := range ids {
		cs.Add(id)
	}
	return cs
}

// Add inserts id and reports whether it was new.
func (cs *ChangeSet) Add(id string) bool {
	if cs.Has(id) {
		return false
	}
	cs.seen[id] = struct{}{}
	cs.ids = append(cs.ids, id)
	return true
}

// Has reports whether id is in the set.
func (cs *ChangeSet) Has(id string) bool {
	if cs == nil {
		return false
	}
	_, ok := cs.seen[id]
	return ok
}

// IDs returns the ids in insertion order.
func (cs *ChangeSet) IDs() []string {
	if cs == nil {
		return nil
	}
	out := make([]string, len(cs.ids))
	copy(out, cs.ids)
	return out
}

// Len returns the number of ids.
func (cs *ChangeSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.ids)
}
