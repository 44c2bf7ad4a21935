// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that marshals to JSON in [time.ParseDuration] format.
// It unmarshals from a duration string or a number of seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
	case string:
		var err error
		if d.Duration, err = time.ParseDuration(v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid duration: %v", string(b))
	}
	if d.Duration < 0 {
		return fmt.Errorf("negative duration: %v", d.Duration)
	}
	return nil
}

// IsZero is true for a zero duration.
func (d Duration) IsZero() bool { return d.Duration == 0 }

// Or returns the duration, or def if it is zero.
func (d Duration) Or(def time.Duration) time.Duration {
	if d.Duration == 0 {
		return def
	}
	return d.Duration
}
