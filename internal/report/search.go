package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/FocuswithJustin/eafsr/core/annotation"
)

// SearchRow is one matched record with its parent and children rendered as
// "tier: value".
type SearchRow struct {
	Term     string
	Parent   string
	Children []string
}

// counter counts keys in first-seen order.
type counter struct {
	keys []string
	n    map[string]int
}

func newCounter() *counter {
	return &counter{n: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.n[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.n[key]++
}

func (c *counter) lines() []string {
	out := make([]string, len(c.keys))
	for i, k := range c.keys {
		out[i] = fmt.Sprintf("%s %d", k, c.n[k])
	}
	return out
}

// TermStats aggregates every occurrence of one matched value.
type TermStats struct {
	Value    string
	Count    int
	tiers    *counter
	parents  *counter
	children *counter
}

// Tiers returns "tier count" lines in first-seen order.
func (t *TermStats) Tiers() []string { return t.tiers.lines() }

// Parents returns "tier: value count" lines in first-seen order.
func (t *TermStats) Parents() []string { return t.parents.lines() }

// Children returns "tier: value count" lines in first-seen order.
func (t *TermStats) Children() []string { return t.children.lines() }

// Stats collects search statistics across files, keyed by matched value.
type Stats struct {
	order []string
	terms map[string]*TermStats
}

// NewStats creates empty statistics.
func NewStats() *Stats {
	return &Stats{terms: make(map[string]*TermStats)}
}

// Terms returns the statistics per value in first-seen order.
func (s *Stats) Terms() []*TermStats {
	out := make([]*TermStats, len(s.order))
	for i, v := range s.order {
		out[i] = s.terms[v]
	}
	return out
}

func (s *Stats) term(value string) *TermStats {
	t, ok := s.terms[value]
	if !ok {
		t = &TermStats{
			Value:    value,
			tiers:    newCounter(),
			parents:  newCounter(),
			children: newCounter(),
		}
		s.terms[value] = t
		s.order = append(s.order, value)
	}
	return t
}

// SearchRows builds the per-file rows for matches and adds them to stats.
// A parent is shown only when it is present in the store.
func SearchRows(store *annotation.Store, matches []*annotation.Annotation, stats *Stats) []SearchRow {
	rows := make([]SearchRow, 0, len(matches))
	for _, a := range matches {
		t := stats.term(a.Value)
		t.Count++
		t.tiers.add(a.Tier)

		row := SearchRow{Term: a.Tier + ": " + a.Value}
		if parent, ok := store.Parent(a); ok {
			row.Parent = tierValue(parent)
			t.parents.add(row.Parent)
		}
		for _, id := range a.Children {
			child, ok := store.Get(id)
			if !ok {
				continue
			}
			kid := tierValue(child)
			t.children.add(kid)
			row.Children = append(row.Children, kid)
		}
		rows = append(rows, row)
	}
	return rows
}

// tierValue renders a relative, or a blank cell when either part is empty.
func tierValue(a *annotation.Annotation) string {
	if a.Tier == "" || a.Value == "" {
		return " "
	}
	return a.Tier + ": " + a.Value
}

// SearchTable renders per-file search rows.
func SearchTable(w io.Writer, rows []SearchRow) error {
	table := tablewriter.NewWriter(w)
	table.Header("term", "parent", "children")
	for _, r := range rows {
		if err := table.Append([]string{r.Term, r.Parent, joinLines(r.Children)}); err != nil {
			return err
		}
	}
	return table.Render()
}

// StatsTable renders the cross-file statistics.
func StatsTable(w io.Writer, stats *Stats) error {
	fmt.Fprintln(w, "Statistics for all files:")
	table := tablewriter.NewWriter(w)
	table.Header("term", "tier", "parent", "children")
	for _, t := range stats.Terms() {
		row := []string{
			fmt.Sprintf("%s %d", t.Value, t.Count),
			joinLines(t.Tiers()),
			joinLines(t.Parents()),
			joinLines(t.Children()),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
