// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Package mapping translates between abstract STIX object paths and native data source fields.
//
// A [Table] is built once, from Go values or a YAML file, and is read-only afterwards.
// It is safe for concurrent use.
package mapping

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/korrel8r/shifter/pkg/pattern"
)

// Direction restricts a field to one direction of translation.
type Direction string

const (
	Both    Direction = ""        // Both query and results.
	Query   Direction = "query"   // Only used to compile queries.
	Results Direction = "results" // Only used to map results.
)

func (d Direction) query() bool   { return d == Both || d == Query }
func (d Direction) results() bool { return d == Both || d == Results }

// Field is a native field that an abstract path maps to.
type Field struct {
	// Name of the native field. Nested native fields use dotted names: "process.pid".
	Name string `json:"name"`
	// Object is the results object alias, objects with the same alias are merged into one STIX object.
	// Defaults to the object type of the path.
	Object string `json:"object,omitempty"`
	// Ref is set for reference properties (`*_ref`): the alias of the object the reference points to.
	Ref       string    `json:"ref,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

// Entry maps one abstract path to one or more native fields.
type Entry struct {
	Path   pattern.Path `json:"path"`
	Fields []Field      `json:"fields"`
	// Transform is the name of a registered [Transform] applied to values, optional.
	Transform string `json:"transform,omitempty"`
}

// Transformer returns the [Transform] for the entry, nil if there is none.
func (e Entry) Transformer() Transform { return transforms[e.Transform] }

// Target is the result of an inverse lookup: where a native field value goes in a STIX object.
type Target struct {
	Path      pattern.Path
	Object    string
	Ref       string
	Transform Transform
}

// Table maps abstract paths to native fields.
type Table struct {
	name     string
	identity bool
	entries  map[pattern.Path]Entry
	order    []pattern.Path
	inverse  map[string][]Target
}

// New builds a table from entries.
// Returns an error if a path is duplicated or invalid, an entry has no fields, or a transform is unknown.
func New(name string, entries ...Entry) (*Table, error) {
	t := &Table{name: name, entries: map[pattern.Path]Entry{}, inverse: map[string][]Target{}}
	var errs []error
	for _, e := range entries {
		if err := t.add(e); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("mapping %v: %w", name, err)
	}
	return t, nil
}

// Identity returns a table where every path maps to a native field with the same name.
// Inverse lookup maps a native field that is a valid object path back to itself.
func Identity(name string) *Table {
	return &Table{name: name, identity: true}
}

var pathRE = regexp.MustCompile(`^[A-Za-z0-9_-]+:([A-Za-z0-9_-]+|'[^']*')(\.([A-Za-z0-9_-]+|'[^']*')|\[(\d+|\*)\])*$`)

// ValidPath returns true if s is a syntactically valid object path.
func ValidPath(s string) bool { return pathRE.MatchString(s) }

func (t *Table) add(e Entry) error {
	if !ValidPath(string(e.Path)) {
		return fmt.Errorf("invalid object path: %q", e.Path)
	}
	if _, ok := t.entries[e.Path]; ok {
		return fmt.Errorf("duplicate path: %v", e.Path)
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("no fields for path: %v", e.Path)
	}
	if e.Transform != "" && transforms[e.Transform] == nil {
		return fmt.Errorf("unknown transform %q for path: %v", e.Transform, e.Path)
	}
	for _, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("empty field name for path: %v", e.Path)
		}
		switch f.Direction {
		case Both, Query, Results:
		default:
			return fmt.Errorf("invalid direction %q for path: %v", f.Direction, e.Path)
		}
		if f.Direction.results() {
			object := f.Object
			if object == "" {
				object = e.Path.Object()
			}
			t.inverse[f.Name] = append(t.inverse[f.Name], Target{
				Path: e.Path, Object: object, Ref: f.Ref, Transform: e.Transformer()})
		}
	}
	t.entries[e.Path] = e
	t.order = append(t.order, e.Path)
	return nil
}

// Name of the table.
func (t *Table) Name() string { return t.name }

// IsIdentity is true for tables created by [Identity].
func (t *Table) IsIdentity() bool { return t.identity }

var indexRE = regexp.MustCompile(`\[\d+\]`)

// Lookup returns the entry for a path with only the fields used for queries.
// A path with list indices `[n]` falls back to the entry with `[*]` in those positions.
func (t *Table) Lookup(path pattern.Path) (Entry, bool) {
	if t.identity {
		return Entry{Path: path, Fields: []Field{{Name: string(path)}}}, true
	}
	e, ok := t.entries[path]
	if !ok {
		e, ok = t.entries[pattern.Path(indexRE.ReplaceAllString(string(path), "[*]"))]
	}
	if !ok {
		return Entry{}, false
	}
	var fields []Field
	for _, f := range e.Fields {
		if f.Direction.query() {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return Entry{}, false
	}
	e.Fields = fields
	return e, true
}

// Inverse returns the targets of a native field for results mapping, nil if the field is unmapped.
func (t *Table) Inverse(native string) []Target {
	if t.identity {
		if !ValidPath(native) {
			return nil
		}
		p := pattern.Path(native)
		return []Target{{Path: p, Object: p.Object()}}
	}
	return t.inverse[native]
}

// Entries returns the table entries in the order they were added.
func (t *Table) Entries() []Entry {
	entries := make([]Entry, len(t.order))
	for i, p := range t.order {
		entries[i] = t.entries[p]
	}
	return entries
}
