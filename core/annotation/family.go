package annotation

// FamilySet is the unit of correlation between records: a record's own id,
// its raw parent reference and its children's ids.
//
// The parent reference is included even when it is empty or does not
// resolve, so two root records share the "" member and are related.
type FamilySet map[string]struct{}

// Family computes the family set of a.
func Family(a *Annotation) FamilySet {
	fs := make(FamilySet, len(a.Children)+2)
	fs[a.ID] = struct{}{}
	fs[a.ParentRef] = struct{}{}
	for _, c := range a.Children {
		fs[c] = struct{}{}
	}
	return fs
}

// Has reports whether id is a member.
func (fs FamilySet) Has(id string) bool {
	_, ok := fs[id]
	return ok
}

// Intersects reports whether fs and all others share at least one member.
func (fs FamilySet) Intersects(others ...FamilySet) bool {
	// iterate the smallest set
	smallest := fs
	for _, o := range others {
		if len(o) < len(smallest) {
			smallest = o
		}
	}
	all := append([]FamilySet{fs}, others...)
	for id := range smallest {
		shared := true
		for _, set := range all {
			if !set.Has(id) {
				shared = false
				break
			}
		}
		if shared {
			return true
		}
	}
	return false
}
