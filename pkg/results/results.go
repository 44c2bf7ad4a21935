// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Package results maps native result rows to STIX observed-data objects.
//
// Mapping is fail-soft: native fields with no mapping, and values that fail a transform,
// are dropped and reported as warnings.
package results

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/korrel8r/shifter/pkg/mapping"
	"github.com/korrel8r/shifter/pkg/unique"
)

// Row is a native result record. Nested records use nested maps.
type Row = map[string]any

// Observation is a STIX observed-data object.
type Observation map[string]any

// ObservedData is the object type for mapping paths that set properties of the
// observed-data object itself: observed-data:first_observed, observed-data:last_observed,
// observed-data:number_observed.
const ObservedData = "observed-data"

// Options for mapping results.
type Options struct {
	// Identity is the STIX identity object of the data source, its "id" is used as created_by_ref.
	Identity map[string]any
	// Validate each observation against the observed-data schema.
	Validate bool
	// Now returns the current time, default [time.Now].
	Now func() time.Time
	// NewID returns a new UUID string, default [uuid.NewString].
	NewID func() string
}

// Results is a lazy sequence of observations mapped from native rows.
type Results struct {
	rows  []Row
	table *mapping.Table
	opts  Options
	used  atomic.Bool

	mu       sync.Mutex
	warnings *unique.List[string]
	report   *ValidationReport
}

// Map returns a lazy sequence of observations for rows.
// Rows are not mapped until the sequence is iterated.
func Map(rows []Row, t *mapping.Table, o Options) *Results {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	r := &Results{rows: rows, table: t, opts: o, warnings: unique.NewList[string]()}
	if o.Validate {
		r.report = &ValidationReport{Valid: true}
	}
	return r
}

// All returns the observations. The sequence can only be consumed once,
// later iterations yield nothing. Call [Map] again to re-derive it.
func (r *Results) All() iter.Seq[Observation] {
	return func(yield func(Observation) bool) {
		if !r.used.CompareAndSwap(false, true) {
			return
		}
		for i, row := range r.rows {
			o := r.observation(row)
			if r.report != nil {
				if errs := Validate(o); errs != nil {
					id, _ := o["id"].(string)
					r.mu.Lock()
					r.report.add(ValidationError{Index: i, ID: id, Errors: errs})
					r.mu.Unlock()
				}
			}
			if !yield(o) {
				return
			}
		}
	}
}

// Warnings returns the unique warnings collected so far.
func (r *Results) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.warnings.List)
}

// Validation returns the validation report collected so far, nil if validation was not requested.
func (r *Results) Validation() *ValidationReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.report == nil {
		return nil
	}
	report := *r.report
	report.Failures = slices.Clone(r.report.Failures)
	return &report
}

// Collect consumes the sequence and returns all observations, warnings and the validation report.
func (r *Results) Collect() ([]Observation, []string, *ValidationReport) {
	observations := []Observation{}
	for o := range r.All() {
		observations = append(observations, o)
	}
	return observations, r.Warnings(), r.Validation()
}

func (r *Results) warn(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings.Add(fmt.Sprintf(format, args...))
}

// value is a native field value with its mapping targets.
type value struct {
	field   string
	value   any
	targets []mapping.Target
}

// object is a STIX object under construction.
type object struct {
	alias string // Alias from the mapping, instances of an expanded array share it.
	props map[string]any
	refs  map[string]string // Reference property -> alias of the referenced object.
}

type builder struct {
	objects []*object
	byName  map[string]*object // Keyed by alias, or alias#index for expanded instances.
	top     map[string]any
}

func (b *builder) object(name, alias, typ string) *object {
	o := b.byName[name]
	if o == nil {
		o = &object{alias: alias, props: map[string]any{"type": typ}, refs: map[string]string{}}
		b.byName[name] = o
		b.objects = append(b.objects, o)
	}
	return o
}

func (r *Results) observation(row Row) Observation {
	var values []value
	r.collect(row, "", &values)
	// Aliases used by more than one native field in this row.
	fieldsByAlias := map[string]unique.Set[string]{}
	for _, v := range values {
		for _, t := range v.targets {
			if fieldsByAlias[t.Object] == nil {
				fieldsByAlias[t.Object] = unique.Set[string]{}
			}
			fieldsByAlias[t.Object].Add(v.field)
		}
	}
	b := &builder{byName: map[string]*object{}, top: map[string]any{}}
	for _, v := range values {
		for _, t := range v.targets {
			r.set(b, v.field, t, v.value, len(fieldsByAlias[t.Object]) == 1)
		}
	}
	return r.assemble(b)
}

// collect native values with their targets, flattening nested maps with no direct mapping.
func (r *Results) collect(m map[string]any, prefix string, values *[]value) {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		name, v := prefix+k, m[k]
		if targets := r.table.Inverse(name); targets != nil {
			*values = append(*values, value{field: name, value: v, targets: targets})
		} else if nested, ok := v.(map[string]any); ok {
			r.collect(nested, name+".", values)
		} else {
			r.warn("unmapped field: %v", name)
		}
	}
}

func (r *Results) set(b *builder, field string, t mapping.Target, v any, uniqueAlias bool) {
	if v == nil {
		return
	}
	if t.Transform != nil {
		var err error
		if v, err = transform(t.Transform, v); err != nil {
			r.warn("field %v: %v", field, err)
			return
		}
	}
	typ, prop := t.Path.Object(), t.Path.Property()
	switch {
	case typ == ObservedData:
		b.top[prop] = v
	case t.Ref != "":
		b.object(t.Object, t.Object, typ).refs[prop] = t.Ref
	default:
		list, isList := v.([]any)
		if isList && uniqueAlias && !strings.Contains(prop, "[") {
			// Each element is a separate object.
			for i, e := range list {
				setPath(b.object(fmt.Sprintf("%v#%v", t.Object, i), t.Object, typ).props, segments(prop), e)
			}
			return
		}
		setPath(b.object(t.Object, t.Object, typ).props, segments(prop), v)
	}
}

func transform(tr mapping.Transform, v any) (any, error) {
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i, e := range list {
			var err error
			if out[i], err = tr.ToSTIX(e); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return tr.ToSTIX(v)
}

// segments splits a property path on '.', respecting quoted keys and removing the quotes.
func segments(prop string) []string {
	var segs []string
	var b strings.Builder
	quoted := false
	for _, c := range prop {
		switch {
		case c == '\'':
			quoted = !quoted
		case c == '.' && !quoted:
			segs = append(segs, b.String())
			b.Reset()
		default:
			b.WriteRune(c)
		}
	}
	return append(segs, b.String())
}

// setPath sets a value at a nested property path. A segment with a list index `name[*]` or `name[n]`
// holds a list, the rest of the path applies to each element.
func setPath(m map[string]any, segs []string, v any) {
	seg, rest := segs[0], segs[1:]
	if name, _, isList := strings.Cut(seg, "["); isList {
		elems, ok := v.([]any)
		if !ok {
			elems = []any{v}
		}
		if len(rest) == 0 {
			m[name] = elems
			return
		}
		list := make([]any, len(elems))
		for i, e := range elems {
			sub := map[string]any{}
			setPath(sub, rest, e)
			list[i] = sub
		}
		m[name] = list
		return
	}
	if len(rest) == 0 {
		m[seg] = v
		return
	}
	sub, ok := m[seg].(map[string]any)
	if !ok {
		sub = map[string]any{}
		m[seg] = sub
	}
	setPath(sub, rest, v)
}

func (r *Results) assemble(b *builder) Observation {
	now := r.opts.Now().UTC().Format(mapping.TimestampFormat)
	objects := map[string]any{}
	keys := map[string][]string{} // Alias -> object keys
	for i, o := range b.objects {
		key := strconv.Itoa(i)
		objects[key] = o.props
		keys[o.alias] = append(keys[o.alias], key)
	}
	for _, o := range b.objects {
		for _, prop := range slices.Sorted(maps.Keys(o.refs)) {
			alias := o.refs[prop]
			refKeys := keys[alias]
			switch {
			case len(refKeys) == 0:
				r.warn("unresolved reference %v to %v", prop, alias)
			case strings.HasSuffix(prop, "_refs"):
				o.props[prop] = slices.Clone(refKeys)
			default:
				o.props[prop] = refKeys[0]
			}
		}
	}
	obs := Observation{
		"id":              "observed-data--" + r.opts.NewID(),
		"type":            ObservedData,
		"created":         now,
		"modified":        now,
		"first_observed":  now,
		"last_observed":   now,
		"number_observed": 1,
		"objects":         objects,
	}
	if id, ok := r.opts.Identity["id"].(string); ok {
		obs["created_by_ref"] = id
	}
	for k, v := range b.top {
		if k == "number_observed" {
			if n, err := mapping.LookupTransform("ToInteger").ToSTIX(v); err == nil {
				v = n
			} else {
				r.warn("number_observed: %v", err)
				continue
			}
		}
		obs[k] = v
	}
	return obs
}
