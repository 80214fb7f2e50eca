// Package correlate joins the candidate sets of three filter slots into
// matched groups and a change set.
//
// Slot 3 selects the records to change. Slots 1 and 2 narrow those to
// records whose family set intersects a slot 1 and/or slot 2 candidate.
// The join strategy is chosen by a fixed cascade over which slots are
// active:
//
//  1. slots 1 and 2 active: three-way join over C1 × C2 × C3
//  2. slot 2 active:        C2 × C3
//  3. slot 1 active:        C1 × C3
//  4. otherwise:            every C3 candidate on its own
//
// Slot 3 being active never raises the join level by itself. The three-way
// join costs |C1|·|C2|·|C3| intersection tests.
package correlate

import (
	"fmt"

	"github.com/FocuswithJustin/eafsr/core/annotation"
	"github.com/FocuswithJustin/eafsr/core/match"
)

// Slot is one (tier-pattern, value-pattern) filter.
type Slot struct {
	Tier  string `toml:"tier" json:"tier"`
	Value string `toml:"value" json:"value"`
}

// Active reports whether anything was supplied in either field.
func (s Slot) Active() bool {
	return len(s.Tier+s.Value) > 0
}

// Query holds the three slots. Slots[2] is the target slot.
type Query struct {
	Slots [3]Slot
}

// NewQuery builds a query from the three slots.
func NewQuery(top, middle, bottom Slot) Query {
	return Query{Slots: [3]Slot{top, middle, bottom}}
}

// Strategy identifies the join used for a query.
type Strategy int

const (
	// StrategyBottomOnly emits every slot 3 candidate as its own group.
	StrategyBottomOnly Strategy = iota
	// StrategyTopBottom joins slot 1 with slot 3.
	StrategyTopBottom
	// StrategyMiddleBottom joins slot 2 with slot 3.
	StrategyMiddleBottom
	// StrategyThreeWay joins all three slots.
	StrategyThreeWay
)

func (s Strategy) String() string {
	switch s {
	case StrategyBottomOnly:
		return "bottom-only"
	case StrategyTopBottom:
		return "top-bottom"
	case StrategyMiddleBottom:
		return "middle-bottom"
	case StrategyThreeWay:
		return "three-way"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// SelectStrategy applies the slot cascade.
func SelectStrategy(q Query) Strategy {
	top, middle := q.Slots[0].Active(), q.Slots[1].Active()
	switch {
	case top && middle:
		return StrategyThreeWay
	case middle:
		return StrategyMiddleBottom
	case top:
		return StrategyTopBottom
	default:
		return StrategyBottomOnly
	}
}

// Group is one matched tuple, in slot order.
type Group []*annotation.Annotation

// Target returns the slot 3 member of the group.
func (g Group) Target() *annotation.Annotation {
	if len(g) == 0 {
		return nil
	}
	return g[len(g)-1]
}

// Result is the outcome of Find.
type Result struct {
	Strategy Strategy
	// Groups are in join iteration order. A record may appear in several.
	Groups []Group
	// Changes holds the ids of slot 3 records to mutate.
	Changes *ChangeSet
	// Candidates is the size of C1, C2 and C3.
	Candidates [3]int
}

// Find evaluates the three slots over every record in the store and
// correlates the candidates. All patterns are compiled before any record is
// examined; an invalid one is returned as *errors.InvalidPatternError.
func Find(store *annotation.Store, q Query) (*Result, error) {
	var filters [3]*match.Filter
	for i, slot := range q.Slots {
		f, err := match.Compile(fmt.Sprintf("slot%d", i+1), slot.Tier, slot.Value)
		if err != nil {
			return nil, err
		}
		filters[i] = f
	}

	var buckets [3][]candidate
	for _, a := range store.Annotations() {
		for i, f := range filters {
			if f.Matches(a) {
				buckets[i] = append(buckets[i], candidate{a, annotation.Family(a)})
			}
		}
	}

	res := &Result{
		Strategy: SelectStrategy(q),
		Changes:  NewChangeSet(),
	}
	for i := range buckets {
		res.Candidates[i] = len(buckets[i])
	}

	top, middle, bottom := buckets[0], buckets[1], buckets[2]
	switch res.Strategy {
	case StrategyThreeWay:
		for _, c := range bottom {
			for _, b := range middle {
				for _, a := range top {
					if a.family.Intersects(b.family, c.family) {
						res.add(a.rec, b.rec, c.rec)
					}
				}
			}
		}
	case StrategyMiddleBottom:
		res.pairs(middle, bottom)
	case StrategyTopBottom:
		res.pairs(top, bottom)
	default:
		for _, c := range bottom {
			// a family always holds its own id
			if c.family.Intersects() {
				res.add(c.rec)
			}
		}
	}

	return res, nil
}

type candidate struct {
	rec    *annotation.Annotation
	family annotation.FamilySet
}

func (r *Result) pairs(upper, bottom []candidate) {
	for _, c := range bottom {
		for _, u := range upper {
			if u.family.Intersects(c.family) {
				r.add(u.rec, c.rec)
			}
		}
	}
}

func (r *Result) add(members ...*annotation.Annotation) {
	r.Groups = append(r.Groups, Group(members))
	r.Changes.Add(members[len(members)-1].ID)
}
