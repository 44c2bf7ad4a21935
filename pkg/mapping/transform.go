// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package mapping

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Transform converts values between native and STIX representations.
type Transform interface {
	// ToNative converts a value from a pattern literal to the native representation.
	ToNative(any) (any, error)
	// ToSTIX converts a native result value to the STIX representation.
	ToSTIX(any) (any, error)
}

// TransformFunc builds a [Transform] from a pair of functions.
type TransformFunc struct {
	Native, STIX func(any) (any, error)
}

func (f TransformFunc) ToNative(v any) (any, error) { return f.Native(v) }
func (f TransformFunc) ToSTIX(v any) (any, error)   { return f.STIX(v) }

// TimestampFormat is the STIX timestamp format, millisecond precision in UTC.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// transforms is the immutable registry of named transforms.
var transforms = map[string]Transform{
	"EpochToTimestamp":        epoch(time.Millisecond),
	"TimestampToMillis":       epoch(time.Millisecond),
	"EpochSecondsToTimestamp": epoch(time.Second),
	"HexNormalize":            TransformFunc{Native: hexNormalize, STIX: hexNormalize},
	"ToInteger":               TransformFunc{Native: toInteger, STIX: toInteger},
	"ToString":                TransformFunc{Native: toString, STIX: toString},
	"ToLowercase":             TransformFunc{Native: toLower, STIX: toLower},
}

// TransformNames returns the sorted names of registered transforms.
func TransformNames() []string { return slices.Sorted(maps.Keys(transforms)) }

// LookupTransform returns a registered transform by name, nil if not found.
func LookupTransform(name string) Transform { return transforms[name] }

// epoch converts between a native epoch number in units of unit and a STIX timestamp string.
func epoch(unit time.Duration) Transform {
	return TransformFunc{
		Native: func(v any) (any, error) {
			t, err := toTime(v)
			if err != nil {
				return nil, err
			}
			return t.UnixNano() / int64(unit), nil
		},
		STIX: func(v any) (any, error) {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			return time.Unix(0, int64(f*float64(unit))).UTC().Format(TimestampFormat), nil
		},
	}
}

func toTime(v any) (time.Time, error) {
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case string:
		return time.Parse(time.RFC3339Nano, v)
	default:
		return time.Time{}, fmt.Errorf("expected timestamp, got %T: %v", v, v)
	}
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T: %v", v, v)
	}
}

func hexNormalize(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected hex string, got %T: %v", v, v)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	return strings.ReplaceAll(s, ":", ""), nil
}

func toInteger(v any) (any, error) {
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("not an integer: %v", v)
	}
	return int64(f), nil
}

func toString(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return v.UTC().Format(TimestampFormat), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func toLower(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T: %v", v, v)
	}
	return strings.ToLower(s), nil
}
