// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package mapping

import (
	"fmt"
	"io/fs"

	"sigs.k8s.io/yaml"
)

// File is the YAML or JSON form of a mapping table.
//
//	name: default
//	entries:
//	  - path: ipv4-addr:value
//	    fields: [{name: sourceip, object: src_ip}, {name: destinationip, object: dst_ip}]
//	  - path: x-event:start
//	    transform: EpochToTimestamp
//	    fields: [{name: starttime}]
type File struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// Load a table from YAML or JSON data.
func Load(data []byte) (*Table, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("mapping: %w", err)
	}
	return New(f.Name, f.Entries...)
}

// LoadFS loads a table from a file in fsys.
func LoadFS(fsys fs.FS, path string) (*Table, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	t, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return t, nil
}

// LoadDir loads all *.yaml files in a directory of fsys, keyed by table name.
func LoadDir(fsys fs.FS, dir string) (map[string]*Table, error) {
	paths, err := fs.Glob(fsys, dir+"/*.yaml")
	if err != nil {
		return nil, err
	}
	tables := map[string]*Table{}
	for _, p := range paths {
		t, err := LoadFS(fsys, p)
		if err != nil {
			return nil, err
		}
		if _, ok := tables[t.Name()]; ok {
			return nil, fmt.Errorf("%v: duplicate mapping name %q", p, t.Name())
		}
		tables[t.Name()] = t
	}
	return tables, nil
}
