// Package annotation holds the per-file graph of ELAN annotation records.
//
// A Store is an id-indexed arena of Annotation values plus the derived
// parent→children backlinks. Backlinks are only ever written by LinkChildren.
// The parent relation is assumed to be a forest; cycles are not detected.
// Nothing in this module walks more than one level of the relation, so a
// cycle in malformed input cannot cause non-termination.
package annotation

// Record is one flat annotation tuple as supplied by the file codec.
type Record struct {
	ID        string
	ParentRef string
	Tier      string
	TierID    string
	Value     string
	Ordinal   int
}

// Annotation is one record in a Store.
type Annotation struct {
	ID        string
	ParentRef string // empty for roots; may not resolve (orphan)
	Tier      string // linguistic type of the owning tier
	TierID    string
	Value     string // empty when the file has no value node
	Ordinal   int    // position within the owning tier, informational only

	// Children holds ids whose ParentRef equals ID. Computed by LinkChildren.
	Children []string
}

// IsRoot reports whether the annotation has no parent reference.
func (a *Annotation) IsRoot() bool {
	return a.ParentRef == ""
}

// Store is the id → Annotation map for a single file.
type Store struct {
	byID  map[string]*Annotation
	order []string // first-insertion order
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID: make(map[string]*Annotation),
	}
}

// Load builds a store from flat records and links children.
// Duplicate ids overwrite the earlier record but keep its position.
func Load(records []Record) *Store {
	s := NewStore()
	for _, r := range records {
		s.put(r)
	}
	s.LinkChildren()
	return s
}

func (s *Store) put(r Record) {
	if _, exists := s.byID[r.ID]; !exists {
		s.order = append(s.order, r.ID)
	}
	s.byID[r.ID] = &Annotation{
		ID:        r.ID,
		ParentRef: r.ParentRef,
		Tier:      r.Tier,
		TierID:    r.TierID,
		Value:     r.Value,
		Ordinal:   r.Ordinal,
		Children:  []string{},
	}
}

// LinkChildren recomputes every Children list in a single pass over all
// parent references. Children appear in store order.
func (s *Store) LinkChildren() {
	for _, a := range s.byID {
		a.Children = a.Children[:0]
	}
	for _, id := range s.order {
		a := s.byID[id]
		if a.ParentRef == "" {
			continue
		}
		if parent, ok := s.byID[a.ParentRef]; ok {
			parent.Children = append(parent.Children, a.ID)
		}
	}
}

// Get returns the annotation with the given id.
func (s *Store) Get(id string) (*Annotation, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// Parent returns the resolved parent of a, if any.
func (s *Store) Parent(a *Annotation) (*Annotation, bool) {
	if a.IsRoot() {
		return nil, false
	}
	return s.Get(a.ParentRef)
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.order)
}

// Annotations returns all records in store order.
func (s *Store) Annotations() []*Annotation {
	out := make([]*Annotation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// SetValue replaces the value of a record. It returns the previous value and
// false if the id is unknown.
func (s *Store) SetValue(id, value string) (string, bool) {
	a, ok := s.byID[id]
	if !ok {
		return "", false
	}
	old := a.Value
	a.Value = value
	return old, true
}

// Serialize flattens the store back into records for the file codec.
func (s *Store) Serialize() []Record {
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		a := s.byID[id]
		out = append(out, Record{
			ID:        a.ID,
			ParentRef: a.ParentRef,
			Tier:      a.Tier,
			TierID:    a.TierID,
			Value:     a.Value,
			Ordinal:   a.Ordinal,
		})
	}
	return out
}
