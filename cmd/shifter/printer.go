// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/korrel8r/shifter/internal/pkg/must"
	"sigs.k8s.io/yaml"
)

type printer func(v any)

func newPrinter(w io.Writer) printer {
	switch outputFlag.Value {
	case "json":
		e := json.NewEncoder(w)
		return func(v any) { must.Must(e.Encode(v)) }

	case "json-pretty":
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return func(v any) { must.Must(e.Encode(v)) }

	case "yaml":
		return func(v any) { _, err := w.Write(must.Must1(yaml.Marshal(v))); must.Must(err) }

	default:
		must.Must(fmt.Errorf("invalid output type: %v", outputFlag.Value))
		return nil
	}
}

// printOut prints v to stdout in the --output format.
func printOut(v any) { newPrinter(os.Stdout)(v) }
