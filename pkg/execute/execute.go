// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Package execute searches data sources for a STIX pattern.
//
// For each source the pattern is translated to native queries, the queries are submitted,
// asynchronous searches are polled until complete, results are fetched page by page and
// mapped to a STIX bundle. Sources are searched concurrently.
//
// A search that does not complete within the timeout is deleted if the connector can delete.
package execute

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/config"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/translate"
	"github.com/korrel8r/shifter/pkg/transmit"
	"golang.org/x/sync/errgroup"
)

var log = logging.Log().WithName("execute")

// deleteTimeout limits the time spent deleting an abandoned search.
const deleteTimeout = 10 * time.Second

// Executor searches data sources. It is safe for concurrent use.
type Executor struct {
	translator *translate.Translator
	settings   config.Execute
	metrics    *transmit.Metrics
}

// New returns an executor. Zero settings are replaced by defaults, metrics may be nil.
func New(t *translate.Translator, settings config.Execute, metrics *transmit.Metrics) *Executor {
	settings.PollInterval.Duration = settings.PollInterval.Or(config.DefaultPollInterval)
	settings.Timeout.Duration = settings.Timeout.Or(config.DefaultTimeout)
	if settings.PageSize <= 0 {
		settings.PageSize = config.DefaultPageSize
	}
	return &Executor{translator: t, settings: settings, metrics: metrics}
}

// Result of searching one source.
type Result struct {
	Source  string                     `json:"source"`
	Module  string                     `json:"module"`
	Queries []string                   `json:"queries,omitempty"`
	Notes   []string                   `json:"notes,omitempty"`
	Results *translate.ResultsResponse `json:"results,omitempty"`
	Error   string                     `json:"error,omitempty"`
	Code    shifter.ErrorKind          `json:"code,omitempty"`
}

// Execute searches all sources for a pattern.
// There is one result per source, in the same order, failed sources have Error set.
// The error is nil if all sources succeed, a [*PartialError] if some succeed.
func (x *Executor) Execute(ctx context.Context, pattern string, sources []config.Source) ([]*Result, error) {
	results := make([]*Result, len(sources))
	o := &outcomes{}
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			var err error
			results[i], err = x.Source(ctx, pattern, src)
			o.add(src.Name, src.Module, err)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, o.err()
}

// Source searches one source. The result is never nil, it has Error set if the search failed.
func (x *Executor) Source(ctx context.Context, pattern string, src config.Source) (*Result, error) {
	start := time.Now()
	r := &Result{Source: src.Name, Module: src.Module}
	err := x.search(ctx, pattern, src, r)
	if err != nil {
		r.Error, r.Code = err.Error(), shifter.KindOf(err)
		err = fmt.Errorf("%v: %w", src.Name, err)
	}
	log.V(2).Info("Searched source", "source", src.Name, "queries", r.Queries, "duration", time.Since(start), "error", r.Error)
	return r, err
}

func (x *Executor) search(ctx context.Context, pattern string, src config.Source, r *Result) error {
	q, err := x.translator.Query(ctx, src.Module, pattern, src.Options)
	if err != nil {
		return err
	}
	r.Queries, r.Notes = q.Queries, q.Notes
	m, err := x.translator.Modules().Get(src.Module)
	if err != nil {
		return err
	}
	conn, err := m.Connector(src.Connection, src.Configuration.Auth)
	if err != nil {
		return err
	}
	if closer, ok := conn.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	d := transmit.New(src.Module, conn, x.metrics)
	var rows []shifter.Row
	for _, query := range q.Queries {
		more, err := x.run(ctx, d, query)
		if err != nil {
			return err
		}
		rows = append(rows, more...)
	}
	r.Results, err = x.translator.Results(ctx, src.Module, src.Identity, rows, src.Options)
	return err
}

// run submits one query and returns its rows.
func (x *Executor) run(ctx context.Context, d *transmit.Driver, query string) ([]shifter.Row, error) {
	s, e := d.Submit(ctx, query)
	if !e.Success {
		return nil, e.Err()
	}
	if !s.Async {
		return x.limit(s.Data), nil
	}
	if err := x.wait(ctx, d, s); err != nil {
		x.abandon(ctx, d, s)
		return nil, err
	}
	rows, err := x.fetch(ctx, d, s)
	if err != nil {
		x.abandon(ctx, d, s)
	}
	return rows, err
}

// wait polls the status of an asynchronous search until it is complete, failed or timed out.
func (x *Executor) wait(ctx context.Context, d *transmit.Driver, s *transmit.Session) error {
	waitCtx, cancel := context.WithTimeout(ctx, x.settings.Timeout.Duration)
	defer cancel()
	ticker := time.NewTicker(x.settings.PollInterval.Duration)
	defer ticker.Stop()
	for {
		e := d.Status(waitCtx, s)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case waitCtx.Err() != nil:
			return x.timeout(s)
		case !e.Success:
			return e.Err()
		}
		log.V(3).Info("Search status", "search", s, "progress", s.Status.Progress)
		switch s.State {
		case transmit.Completed:
			return nil
		case transmit.Failed:
			return shifter.Errorf(shifter.Internal, "search %v failed: %v", s.ID, s.Status.Message)
		case transmit.TimedOut:
			return shifter.Errorf(shifter.Timeout, "search %v timed out on the data source: %v", s.ID, s.Status.Message)
		case transmit.Deleted:
			return shifter.Errorf(shifter.InvalidState, "search %v was cancelled", s.ID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCtx.Done():
			return x.timeout(s)
		case <-ticker.C:
		}
	}
}

func (x *Executor) timeout(s *transmit.Session) error {
	return shifter.Errorf(shifter.Timeout, "search %v did not complete in %v, progress %v%%", s.ID, x.settings.Timeout, s.Status.Progress)
}

// fetch pages through the results of a completed search.
func (x *Executor) fetch(ctx context.Context, d *transmit.Driver, s *transmit.Session) ([]shifter.Row, error) {
	var rows []shifter.Row
	for {
		length := x.settings.PageSize
		if x.settings.MaxResults > 0 {
			length = min(length, x.settings.MaxResults-len(rows))
		}
		e := d.Results(ctx, s, len(rows), length)
		if !e.Success {
			return nil, e.Err()
		}
		page, _ := e.Data.([]shifter.Row)
		rows = append(rows, page...)
		if len(page) == 0 || s.State == transmit.Exhausted || (x.settings.MaxResults > 0 && len(rows) >= x.settings.MaxResults) {
			return rows, nil
		}
	}
}

// limit truncates synchronous rows to MaxResults.
func (x *Executor) limit(rows []shifter.Row) []shifter.Row {
	if x.settings.MaxResults > 0 && len(rows) > x.settings.MaxResults {
		return rows[:x.settings.MaxResults]
	}
	return rows
}

// abandon deletes a search the executor gave up on, if the connector can delete.
func (x *Executor) abandon(ctx context.Context, d *transmit.Driver, s *transmit.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	e := d.Delete(ctx, s)
	switch err := e.Err(); {
	case err == nil:
		log.V(2).Info("Deleted abandoned search", "search", s)
	case e.Code == shifter.CapabilityNotSupported, e.Code == shifter.InvalidState:
		log.V(3).Info("Abandoned search not deleted", "search", s, "reason", e.Error)
	default:
		log.Error(err, "Cannot delete abandoned search", "search", s)
	}
}
