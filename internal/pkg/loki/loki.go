// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package loki is a limited client for the Loki HTTP API: https://grafana.com/docs/loki/latest/reference/api
//
// NOTE: Types in this package represent the data returned by Loki.
// Label values are always of type 'string', further parsing is done by the caller.
package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/shifter/impl"
)

var log = logging.Log().WithName("loki")

// Log is a single loki log record.
type Log struct {
	// Body is the log line as a string.
	Body string
	// Time is the time stamp for the record.
	Time time.Time
	// Labels are the labels from the stream this record arrived on.
	Labels Labels
	// Metadata is structured metadata associated with the record.
	Metadata Labels
}

type Labels = map[string]string

// UnmarshalJSON from loki's mixed-type JSON array [time, body, metadata]
func (r *Log) UnmarshalJSON(b []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return err
	}
	if len(tuple) > 0 {
		var s string
		if err := json.Unmarshal(tuple[0], &s); err != nil {
			return err
		}
		ns, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid loki timestamp: %w", err)
		}
		r.Time = time.Unix(0, ns)
	}
	if len(tuple) > 1 {
		if err := json.Unmarshal(tuple[1], &r.Body); err != nil {
			return err
		}
	}
	if len(tuple) > 2 {
		if err := json.Unmarshal(tuple[2], &r.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// Params for a range query.
type Params struct {
	LogQL      string
	Start, End time.Time // Zero values are omitted, Loki applies its own defaults.
	Limit      int
	// Tenant selects the LokiStack tenant API if not empty.
	Tenant string
}

// Client for loki HTTP API
type Client struct {
	*http.Client
	BaseURL *url.URL
}

// New loki client.
func New(c *http.Client, base *url.URL) *Client { return &Client{Client: c, BaseURL: base} }

const ( // Query URL keywords
	query     = "query"
	direction = "direction"
	forward   = "forward"
	limit     = "limit"

	lokiStackPath  = "/api/logs/v1/"
	queryRangePath = "/loki/api/v1/query_range"
	labelsPath     = "/loki/api/v1/labels"
)

// Query returns the logs for a range query, in timestamp order.
func (c *Client) Query(ctx context.Context, p Params) ([]Log, error) {
	u := c.url(queryRangePath, p.Tenant)
	u.RawQuery = queryValues(p).Encode()
	log.V(5).Info("Loki query", "logql", p.LogQL, "url", u)
	qr := response{}
	if err := impl.Get(ctx, c.Client, u, &qr); err != nil {
		return nil, err
	}
	if qr.Status != "success" {
		return nil, shifter.Errorf(shifter.MalformedResponse, "expected 'status: success' got %q", qr.Status)
	}
	if qr.Data.ResultType != "streams" {
		return nil, shifter.Errorf(shifter.MalformedResponse, "expected 'resultType: streams' got %q", qr.Data.ResultType)
	}
	var logs []Log
	collectSorted(qr.Data.Result, func(l *Log) { logs = append(logs, *l) })
	return logs, nil
}

// Labels checks the connection by listing label names.
func (c *Client) Labels(ctx context.Context, tenant string) ([]string, error) {
	var lr struct {
		Status string   `json:"status"`
		Data   []string `json:"data"`
	}
	if err := impl.Get(ctx, c.Client, c.url(labelsPath, tenant), &lr); err != nil {
		return nil, err
	}
	if lr.Status != "success" {
		return nil, shifter.Errorf(shifter.MalformedResponse, "expected 'status: success' got %q", lr.Status)
	}
	return lr.Data, nil
}

func (c *Client) url(p, tenant string) *url.URL {
	if tenant != "" {
		p = path.Join(lokiStackPath, tenant, p)
	}
	return c.BaseURL.ResolveReference(&url.URL{Path: p})
}

func queryValues(p Params) url.Values {
	v := url.Values{}
	v.Add(query, p.LogQL)
	v.Add(direction, forward)
	if p.Limit > 0 {
		v.Add(limit, strconv.Itoa(p.Limit))
	}
	if !p.End.IsZero() {
		v.Add("end", formatTime(p.End))
	}
	if !p.Start.IsZero() {
		v.Add("start", formatTime(p.Start))
	}
	return v
}

func formatTime(t time.Time) string { return strconv.FormatInt(t.UTC().UnixNano(), 10) }

// Visit each log record in the streams in timestamp order.
// NOTE: assumes query direction is "forward" (oldest first)
func collectSorted(streams []stream, collect func(*Log)) {
	ts := func(i int) time.Time { return streams[i].Values[0].Time }
	for {
		// Find the stream with the earliest timestamp on its first value.
		i := -1
		for j, s := range streams {
			if len(s.Values) > 0 && (i < 0 || ts(j).Before(ts(i))) {
				i = j
			}
		}
		if i == -1 {
			return // All streams are empty
		}
		v := &streams[i].Values[0]
		v.Labels = streams[i].Stream
		collect(v)
		streams[i].Values = streams[i].Values[1:] // Advance the stream
	}
}

// Data types for query responses from  https://grafana.com/docs/loki/latest/reference/api/

type response struct {
	Status string `json:"status"`
	Data   data   `json:"data"`
}

type data struct {
	ResultType string   `json:"resultType"`
	Result     []stream `json:"result"`
}

type stream struct {
	Stream map[string]string `json:"stream"` // Labels for the stream
	Values []Log             `json:"values"` // [ timestamp, line ] pairs
}
