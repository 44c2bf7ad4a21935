// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package execute

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/unique"
)

// outcomes records which sources of an [Executor.Execute] call failed. Safe for concurrent use.
type outcomes struct {
	m         sync.Mutex
	errs      unique.Errors
	failed    []string
	succeeded int
}

// add the outcome of searching source, err is nil if the search succeeded.
// Failures are logged, a failure with the same message as an earlier one is not logged again.
func (o *outcomes) add(source, module string, err error) {
	o.m.Lock()
	defer o.m.Unlock()
	if err == nil {
		o.succeeded++
		return
	}
	o.failed = append(o.failed, source)
	if o.errs.Add(err) {
		log.Error(err, "Search failed", "source", source, "module", module)
	}
}

// err returns nil if no source failed, a [*PartialError] if some sources succeeded,
// otherwise the joined source errors.
func (o *outcomes) err() error {
	o.m.Lock()
	defer o.m.Unlock()
	switch {
	case len(o.failed) == 0:
		return nil
	case o.succeeded > 0:
		failed := slices.Clone(o.failed)
		slices.Sort(failed)
		return &PartialError{Failed: failed, Sources: len(o.failed) + o.succeeded, Err: o.errs.Err()}
	default:
		return o.errs.Err()
	}
}

// PartialError is returned by [Executor.Execute] when some sources failed and others have results.
// The results of the failed sources have an error set, the others are complete.
type PartialError struct {
	// Failed names the sources that failed, sorted.
	Failed []string
	// Sources is the number of sources searched.
	Sources int
	// Err joins the distinct source errors.
	Err error
}

func (e *PartialError) Error() string {
	return errors.Join(
		fmt.Errorf("results are incomplete, %v of %v sources failed (%v)", len(e.Failed), e.Sources, strings.Join(e.Failed, ", ")),
		e.Err).Error()
}

func (e *PartialError) Unwrap() error { return e.Err }

// IsPartialError returns true if err is or wraps a [*PartialError].
func IsPartialError(err error) bool { return shifter.IsErrorType[*PartialError](err) }
