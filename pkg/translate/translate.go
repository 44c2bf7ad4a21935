// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Package translate is the translation entry point: STIX patterns to native queries,
// and native results to a STIX bundle.
package translate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/korrel8r/shifter/pkg/results"
	"github.com/korrel8r/shifter/pkg/shifter"
)

var log = logging.Log().WithName("translate")

// Operation is a translation operation.
type Operation string

const (
	Query   Operation = "query"
	Results Operation = "results"
)

// DefaultCacheSize is the number of parsed patterns kept by a [Translator].
const DefaultCacheSize = 256

// Request is a translation request with undecoded data, as received from a command line or API.
type Request struct {
	Module    string    `json:"module"`
	Operation Operation `json:"operation"`
	// DataSource is a JSON STIX identity object, used by the results operation. Optional.
	DataSource string `json:"data_source,omitempty"`
	// Data is a STIX pattern for query, or a JSON array of native rows for results.
	Data    string          `json:"data"`
	Options shifter.Options `json:"options,omitzero"`
}

// QueryResponse is the result of a query translation.
type QueryResponse struct {
	Queries []string  `json:"queries"`
	Start   time.Time `json:"start,omitzero"`
	Stop    time.Time `json:"stop,omitzero"`
	Limit   int       `json:"limit,omitempty"`
	Notes   []string  `json:"notes,omitempty"`
}

// Bundle is a STIX bundle.
type Bundle struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Objects []any  `json:"objects"`
}

// ResultsResponse is the result of a results translation: a STIX bundle with the data source identity
// first, followed by one observed-data object per row.
type ResultsResponse struct {
	Bundle
	Warnings   []string                  `json:"warnings,omitempty"`
	Validation *results.ValidationReport `json:"validation,omitempty"`
}

// Translator translates for a set of modules. It is safe for concurrent use.
type Translator struct {
	modules  *shifter.Modules
	patterns *lru.Cache[string, *pattern.Pattern]
	now      func() time.Time
	newID    func() string
}

// New returns a translator that caches up to cacheSize parsed patterns.
func New(modules *shifter.Modules, cacheSize int) (*Translator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *pattern.Pattern](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Translator{modules: modules, patterns: cache, now: time.Now, newID: uuid.NewString}, nil
}

// Modules used by the translator.
func (t *Translator) Modules() *shifter.Modules { return t.modules }

// Translate a request, returns a [*QueryResponse] or a [*ResultsResponse].
func (t *Translator) Translate(ctx context.Context, r Request) (any, error) {
	switch r.Operation {
	case Query:
		return t.Query(ctx, r.Module, r.Data, r.Options)
	case Results:
		var identity map[string]any
		if r.DataSource != "" {
			if err := json.Unmarshal([]byte(r.DataSource), &identity); err != nil {
				return nil, shifter.Errorf(shifter.InvalidParameter, "invalid data source identity: %v", err)
			}
		}
		var rows []shifter.Row
		if err := json.Unmarshal([]byte(r.Data), &rows); err != nil {
			return nil, shifter.Errorf(shifter.InvalidParameter, "invalid results, expecting a JSON array of objects: %v", err)
		}
		return t.Results(ctx, r.Module, identity, rows, r.Options)
	default:
		return nil, shifter.Errorf(shifter.UnknownOperation, "unknown translate operation: %q, expected %q or %q", r.Operation, Query, Results)
	}
}

// Parse a pattern, using the cache.
func (t *Translator) Parse(text string) (*pattern.Pattern, error) {
	if p, ok := t.patterns.Get(text); ok {
		return p, nil
	}
	p, err := pattern.Parse(text)
	if err != nil {
		return nil, err
	}
	t.patterns.Add(text, p)
	return p, nil
}

// Query translates a STIX pattern to a native query for a module.
func (t *Translator) Query(_ context.Context, module, text string, o shifter.Options) (*QueryResponse, error) {
	m, err := t.modules.Get(module)
	if err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	p, err := t.Parse(text)
	if err != nil {
		return nil, err
	}
	table, err := m.Mapping(o.DataMapper)
	if err != nil {
		return nil, err
	}
	n, err := compiler.Compile(p, table, shifter.DialectFor(m, o.DataMapper), o.Compiler())
	if err != nil {
		return nil, err
	}
	log.V(2).Info("Translated query", "module", module, "pattern", text, "query", n.Query)
	return &QueryResponse{Queries: []string{n.Query}, Start: n.Start, Stop: n.Stop, Limit: n.Limit, Notes: n.Notes}, nil
}

// Results translates native rows to a STIX bundle.
// If identity is nil a data source identity is generated with the module name.
func (t *Translator) Results(_ context.Context, module string, identity map[string]any, rows []shifter.Row, o shifter.Options) (*ResultsResponse, error) {
	m, err := t.modules.Get(module)
	if err != nil {
		return nil, err
	}
	table, err := m.Mapping(o.DataMapper)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		identity = map[string]any{
			"type":           "identity",
			"id":             "identity--" + t.newID(),
			"name":           module,
			"identity_class": "events",
		}
	}
	if _, ok := identity["id"].(string); !ok {
		return nil, shifter.Errorf(shifter.InvalidParameter, "data source identity has no id: %v", logging.JSONString(identity))
	}
	observations, warnings, report := results.Map(rows, table, results.Options{
		Identity: identity, Validate: o.StixValidator, Now: t.now, NewID: t.newID,
	}).Collect()
	objects := make([]any, 0, len(observations)+1)
	objects = append(objects, identity)
	for _, obs := range observations {
		objects = append(objects, obs)
	}
	if len(warnings) > 0 {
		log.V(1).Info("Results warnings", "module", module, "warnings", warnings)
	}
	return &ResultsResponse{
		Bundle:     Bundle{Type: "bundle", ID: "bundle--" + t.newID(), Objects: objects},
		Warnings:   warnings,
		Validation: report,
	}, nil
}
