// Package colortable holds named label color tables and resolves a
// structure name to its label index and display color.
package colortable

import (
	"log/slog"
	"math"
)

// RGBA is a color with components in [0, 1].
type RGBA struct {
	R, G, B, A float64
}

// Gray is the color reported when a structure has no table entry.
var Gray = RGBA{R: 0.5, G: 0.5, B: 0.5, A: 1}

// DefaultIndex is the label index reported when a structure has no table
// entry. Index 0 is reserved for background.
const DefaultIndex = 1

// ColorEpsilon is the per-channel tolerance when matching a reference color.
const ColorEpsilon = 1e-3

// MatchesRGB reports whether c and o agree on R, G and B within ColorEpsilon.
func (c RGBA) MatchesRGB(o RGBA) bool {
	return math.Abs(c.R-o.R) < ColorEpsilon &&
		math.Abs(c.G-o.G) < ColorEpsilon &&
		math.Abs(c.B-o.B) < ColorEpsilon
}

// Entry is one row of a color table.
type Entry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Color RGBA   `json:"color"`
}

// Table is an ordered list of label entries.
type Table struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// New returns an empty table.
func New(name string) *Table {
	return &Table{Name: name}
}

// Set adds the entry for index, replacing any existing one.
func (t *Table) Set(index int, name string, c RGBA) {
	for i := range t.Entries {
		if t.Entries[i].Index == index {
			t.Entries[i] = Entry{Index: index, Name: name, Color: c}
			return
		}
	}
	t.Entries = append(t.Entries, Entry{Index: index, Name: name, Color: c})
}

// Lookup returns the entry with the given index.
func (t *Table) Lookup(index int) (Entry, bool) {
	for _, e := range t.Entries {
		if e.Index == index {
			return e, true
		}
	}
	return Entry{}, false
}

// NextIndex returns one past the highest index in use, and never less than
// DefaultIndex.
func (t *Table) NextIndex() int {
	next := DefaultIndex
	for _, e := range t.Entries {
		if e.Index >= next {
			next = e.Index + 1
		}
	}
	return next
}

// TableRef pairs a table with the scene identity of the node holding it.
type TableRef struct {
	ID    string
	Table *Table
}

// TableSource yields the ordered color tables associated with a contour
// through its hierarchy. ok is false when the contour has no hierarchy.
type TableSource interface {
	ColorTablesFor(contourID string) (tables []TableRef, ok bool)
}

// Match is the outcome of a color resolution.
type Match struct {
	Index   int
	Color   RGBA
	TableID string // empty when Found is false
	Found   bool
}

// Resolver maps structure names to label indices.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver returns a resolver that reports misses to logger.
// A nil logger uses slog.Default().
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// ResolveColor looks structureName up in the tables of the contour's
// hierarchy. Without a reference color the first name match wins. With
// one, only a name match whose RGB agrees with ref counts. A miss is not an
// error: it yields DefaultIndex and Gray.
func (r *Resolver) ResolveColor(structureName string, source TableSource, contourID string, ref *RGBA) Match {
	miss := Match{Index: DefaultIndex, Color: Gray}
	if source == nil {
		r.logger.Info("no color table source, using default label", "structure", structureName)
		return miss
	}
	tables, ok := source.ColorTablesFor(contourID)
	if !ok {
		r.logger.Info("contour has no hierarchy, using default label",
			"structure", structureName, "contour", contourID)
		return miss
	}

	for _, tr := range tables {
		if tr.Table == nil {
			continue
		}
		for _, e := range tr.Table.Entries {
			if e.Name != structureName {
				continue
			}
			if ref == nil || e.Color.MatchesRGB(*ref) {
				return Match{Index: e.Index, Color: e.Color, TableID: tr.ID, Found: true}
			}
		}
	}
	r.logger.Info("structure not found in color tables, using default label",
		"structure", structureName, "contour", contourID, "tables", len(tables), "reference_color", ref != nil)
	return miss
}
