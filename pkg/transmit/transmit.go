// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Package transmit drives searches through a [shifter.Connector].
//
// A search moves through these states:
//
//	Idle -> Submitted -> {Completed | Failed | TimedOut} -> Retrieving -> Exhausted
//
// and any live search can be Deleted. A synchronous connector goes straight from Idle to Completed.
//
// Every operation returns a [shifter.Envelope]. Connector errors and panics are normalized into
// failed envelopes and never escape the driver. The driver never polls, sleeps or retries:
// callers poll [Driver.Status] on their own schedule.
package transmit

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/shifter"
)

var log = logging.Log().WithName("transmit")

// Operation names a transmission operation.
type Operation string

const (
	Ping    Operation = "ping"
	IsAsync Operation = "is_async"
	Query   Operation = "query"
	Status  Operation = "status"
	Results Operation = "results"
	Delete  Operation = "delete"
)

// Operations lists all operations.
var Operations = []Operation{Ping, IsAsync, Query, Status, Results, Delete}

// Request is an operation request for callers that only keep a search ID, see [Driver.Run].
type Request struct {
	Operation Operation `json:"operation"`
	Query     string    `json:"query,omitempty"`
	SearchID  string    `json:"search_id,omitempty"`
	Offset    int       `json:"offset,omitempty"`
	Length    int       `json:"length,omitempty"`
}

// Driver runs operations against one connector.
// The driver keeps no state between calls and is safe for concurrent use if the connector is.
type Driver struct {
	module  string
	conn    shifter.Connector
	metrics *Metrics
	newID   func() string
}

// New returns a driver for a connector of the named module. metrics may be nil.
func New(module string, c shifter.Connector, metrics *Metrics) *Driver {
	return &Driver{module: module, conn: c, metrics: metrics, newID: uuid.NewString}
}

// Module name of the driver's connector.
func (d *Driver) Module() string { return d.module }

// do runs f, recovers panics and turns the outcome into an envelope.
func (d *Driver) do(op Operation, f func() (any, error)) (e shifter.Envelope) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error(nil, "Connector panic", "module", d.module, "operation", op, "panic", r, "stack", string(debug.Stack()))
			e = shifter.Fail(shifter.Errorf(shifter.Internal, "%v %v: panic: %v", d.module, op, r))
		}
		result := "success"
		if !e.Success {
			result = string(e.Code)
		}
		d.metrics.observe(d.module, op, result, time.Since(start))
		log.V(3).Info("Operation", "module", d.module, "operation", op, "result", result, "duration", time.Since(start))
	}()
	data, err := f()
	if err != nil {
		log.V(1).Info("Operation failed", "module", d.module, "operation", op, "error", err)
		return shifter.Fail(err)
	}
	return shifter.OK(data)
}

// Ping checks the data source.
func (d *Driver) Ping(ctx context.Context) shifter.Envelope {
	return d.do(Ping, func() (any, error) { return nil, d.conn.Ping(ctx) })
}

// IsAsync returns the connector's static async declaration as data.
func (d *Driver) IsAsync() shifter.Envelope {
	return d.do(IsAsync, func() (any, error) { return d.conn.IsAsync(), nil })
}

// Submit a native query. The envelope data is a [shifter.QueryResult].
//
// For an asynchronous connector the session is Submitted and the result has only a search ID.
// For a synchronous connector the session is Completed and the result includes the rows.
// On failure the returned session is nil.
func (d *Driver) Submit(ctx context.Context, query string) (s *Session, e shifter.Envelope) {
	e = d.do(Query, func() (any, error) {
		r, err := d.conn.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		if r == nil {
			r = &shifter.QueryResult{}
		}
		s = &Session{ID: r.SearchID, Module: d.module, Async: d.conn.IsAsync()}
		if s.Async {
			if s.ID == "" {
				s = nil
				return nil, shifter.Errorf(shifter.MalformedResponse, "%v: asynchronous query returned no search ID", d.module)
			}
			s.State, s.Status = Submitted, shifter.Status{Status: shifter.Running}
		} else {
			if s.ID == "" {
				s.ID = d.newID()
			}
			s.State, s.Status, s.Data = Completed, shifter.Status{Status: shifter.Completed, Progress: 100}, r.Rows
		}
		return &shifter.QueryResult{SearchID: s.ID, Rows: r.Rows}, nil
	})
	return s, e
}

// Resume returns a session for a search ID obtained from an earlier [Driver.Submit].
// The state of a resumed asynchronous search is unknown until a status check:
// it is Submitted, and [Driver.Results] checks the status once before fetching.
func (d *Driver) Resume(searchID string) *Session {
	s := &Session{ID: searchID, Module: d.module, Async: d.conn.IsAsync(), resumed: true}
	if s.Async {
		s.State, s.Status = Submitted, shifter.Status{Status: shifter.Running}
	} else {
		s.State, s.Status = Completed, shifter.Status{Status: shifter.Completed, Progress: 100}
	}
	return s
}

// Status of a search. The envelope data is a [shifter.Status].
//
// For a synchronous search the status is always completed and the connector is not called.
// A Submitted session moves to the state reported by the connector.
func (d *Driver) Status(ctx context.Context, s *Session) shifter.Envelope {
	return d.do(Status, func() (any, error) { return d.status(ctx, s) })
}

func (d *Driver) status(ctx context.Context, s *Session) (any, error) {
	if s.State == Idle || s.State == Deleted {
		return nil, shifter.Errorf(shifter.InvalidState, "status: search %v is %v", s.ID, s.State)
	}
	if !s.Async {
		return s.Status, nil
	}
	sc, ok := d.conn.(shifter.StatusConnector)
	if !ok {
		return nil, shifter.Errorf(shifter.CapabilityNotSupported, "%v: asynchronous connector cannot report status", d.module)
	}
	status, err := sc.Status(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	state, err := fromStatus(status.Status)
	if err != nil {
		return nil, err
	}
	s.Status = status
	if s.State == Submitted { // Later states do not go back.
		s.State = state
	}
	return status, nil
}

// Results fetches a page of results. The envelope data is a []shifter.Row.
//
// Offset and length are passed to the connector unchanged.
// Results before the search is Completed is a premature_results error and the connector is not called.
// The session is Exhausted when fewer than length rows are returned.
func (d *Driver) Results(ctx context.Context, s *Session, offset, length int) shifter.Envelope {
	return d.do(Results, func() (any, error) {
		if s.State == Submitted && s.resumed {
			if _, err := d.status(ctx, s); err != nil {
				return nil, err
			}
		}
		switch {
		case s.State == Idle, s.State == Submitted:
			return nil, shifter.Errorf(shifter.PrematureResults, "results: search %v is not complete", s.ID)
		case !s.State.ready():
			return nil, shifter.Errorf(shifter.InvalidState, "results: search %v is %v", s.ID, s.State)
		}
		rows, err := d.conn.Results(ctx, s.ID, offset, length)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []shifter.Row{}
		}
		if length > 0 && len(rows) < length {
			s.State = Exhausted
		} else {
			s.State = Retrieving
		}
		return rows, nil
	})
}

// Delete a search. Valid for a Submitted, Completed, Retrieving or Exhausted search.
// Returns a capability_not_supported error if the connector cannot delete.
func (d *Driver) Delete(ctx context.Context, s *Session) shifter.Envelope {
	return d.do(Delete, func() (any, error) {
		switch s.State {
		case Submitted, Completed, Retrieving, Exhausted:
		default:
			return nil, shifter.Errorf(shifter.InvalidState, "delete: search %v is %v", s.ID, s.State)
		}
		del, ok := d.conn.(shifter.Deleter)
		if !ok {
			return nil, shifter.Errorf(shifter.CapabilityNotSupported, "%v: connector cannot delete searches", d.module)
		}
		if err := del.Delete(ctx, s.ID); err != nil {
			return nil, err
		}
		s.State = Deleted
		s.Status = shifter.Status{Status: shifter.Cancelled}
		return nil, nil
	})
}

// Run an operation for a caller that keeps only a search ID between calls.
// Status, results and delete operate on a [Driver.Resume]d session.
func (d *Driver) Run(ctx context.Context, r Request) shifter.Envelope {
	switch r.Operation {
	case Ping:
		return d.Ping(ctx)
	case IsAsync:
		return d.IsAsync()
	case Query:
		_, e := d.Submit(ctx, r.Query)
		return e
	case Status:
		return d.Status(ctx, d.Resume(r.SearchID))
	case Results:
		return d.Results(ctx, d.Resume(r.SearchID), r.Offset, r.Length)
	case Delete:
		return d.Delete(ctx, d.Resume(r.SearchID))
	default:
		return d.do("unknown", func() (any, error) {
			return nil, shifter.Errorf(shifter.UnknownOperation, "unknown operation: %q, expected one of %v", r.Operation, Operations)
		})
	}
}

func (s *Session) String() string { return fmt.Sprintf("%v/%v(%v)", s.Module, s.ID, s.State) }
