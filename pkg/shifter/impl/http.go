// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/korrel8r/shifter/pkg/shifter"
)

// Response from a data source API: a status code and a body.
// HTTP error statuses are data, not errors. Use [Response.Err] to classify them.
type Response struct {
	Code   int
	Header http.Header
	Body   []byte
}

// maxErrorBody limits how much of a response body is included in an error message.
const maxErrorBody = 512

// NewRequest creates a request, body is encoded as JSON if it is not nil.
func NewRequest(ctx context.Context, method string, u *url.URL, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends a request and reads the whole response.
// Transport failures are returned as errors, any HTTP status is a [Response].
func Do(ctx context.Context, hc *http.Client, req *http.Request) (*Response, error) {
	resp, err := hc.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shifter.Wrap(shifter.Network, err)
	}
	return &Response{Code: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// OK is true for a 2xx status.
func (r *Response) OK() bool { return r.Code/100 == 2 }

// Err returns nil for a 2xx status, a classified [*shifter.Error] otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	kind := shifter.Unknown
	switch r.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = shifter.Auth
	case http.StatusNotFound:
		kind = shifter.NotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = shifter.InvalidQuery
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = shifter.Timeout
	}
	msg := fmt.Sprintf("%v %v", r.Code, http.StatusText(r.Code))
	if len(r.Body) > 0 {
		body := r.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		msg = fmt.Sprintf("%v: %s", msg, bytes.TrimSpace(body))
	}
	return &shifter.Error{Kind: kind, Code: r.Code, Msg: msg}
}

// JSON decodes the body into v. A decoding failure is a malformed response.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &shifter.Error{Kind: shifter.MalformedResponse, Code: r.Code, Msg: "malformed response", Err: err}
	}
	return nil
}

// Get sends a GET request and decodes a 2xx JSON response into body.
func Get[T any](ctx context.Context, hc *http.Client, u *url.URL, body *T) error {
	return Call(ctx, hc, http.MethodGet, u, nil, body)
}

// Call sends a request with an optional JSON body and decodes a 2xx JSON response into result.
// If result is nil the response body is ignored.
func Call(ctx context.Context, hc *http.Client, method string, u *url.URL, body, result any) error {
	req, err := NewRequest(ctx, method, u, body)
	if err != nil {
		return err
	}
	resp, err := Do(ctx, hc, req)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return resp.JSON(result)
}
