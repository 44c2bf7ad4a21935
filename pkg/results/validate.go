// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package results

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed observed-data.schema.json
var schemaJSON []byte

var schema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// ValidationReport collects schema validation failures for a sequence of observations.
type ValidationReport struct {
	// Valid is true if every observation validated.
	Valid    bool              `json:"valid"`
	Failures []ValidationError `json:"failures,omitempty"`
}

// ValidationError lists the schema errors for one observation.
type ValidationError struct {
	// Index of the observation in the sequence.
	Index  int      `json:"index"`
	ID     string   `json:"id,omitempty"`
	Errors []string `json:"errors"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("observation %v (%v): %v", e.Index, e.ID, e.Errors)
}

func (r *ValidationReport) add(e ValidationError) {
	r.Valid = false
	r.Failures = append(r.Failures, e)
}

// Validate an observation against the STIX observed-data schema.
// Returns nil if valid, the list of schema errors otherwise.
func Validate(o Observation) []string {
	s, err := schema()
	if err != nil { // Embedded schema is broken, a programming error.
		panic(fmt.Errorf("observed-data schema: %w", err))
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(o))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return errs
}
