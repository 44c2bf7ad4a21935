// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package shifter

// Envelope is the uniform result of every transmission operation.
type Envelope struct {
	Success bool `json:"success"`
	// Data is the operation payload: rows, a status, a search ID or a boolean.
	Data  any       `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
	Code  ErrorKind `json:"code,omitempty"`
}

// OK returns a successful envelope.
func OK(data any) Envelope { return Envelope{Success: true, Data: data} }

// Fail returns a failed envelope for err, classified by [KindOf].
func Fail(err error) Envelope {
	return Envelope{Success: false, Error: err.Error(), Code: KindOf(err)}
}

// Err returns nil if the envelope is successful, an [*Error] otherwise.
func (e Envelope) Err() error {
	if e.Success {
		return nil
	}
	kind := e.Code
	if kind == "" {
		kind = Unknown
	}
	return &Error{Kind: kind, Msg: e.Error}
}
