// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package impl provides helper types and functions for implementing a shifter module.
package impl

import (
	"fmt"
	"io/fs"
	"reflect"
	"slices"

	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/mapping"
	"github.com/korrel8r/shifter/pkg/shifter"
)

// TypeName returns the name of the static type of its argument, which may be an interface.
func TypeName[T any](v T) string { return reflect.TypeOf((*T)(nil)).Elem().String() }

// TypeAssert does a type assertion and returns a useful error if it fails.
func TypeAssert[T any](x any) (v T, err error) {
	v, ok := x.(T)
	if !ok {
		err = fmt.Errorf("wrong type: want %v, got (%T)(%#v)", TypeName(v), x, x)
	}
	return v, err
}

// Module is a base type for [shifter.Module] implementations.
// It provides everything except the Connector method.
type Module struct {
	name, description string
	dialect           *compiler.Dialect
	defaultMapper     string
	tables            map[string]*mapping.Table
}

// NewModule returns a base module. The table named defaultMapper is used when no data mapper is requested.
func NewModule(name, description string, dialect *compiler.Dialect, defaultMapper string, tables map[string]*mapping.Table) Module {
	return Module{name: name, description: description, dialect: dialect, defaultMapper: defaultMapper, tables: tables}
}

// MustLoad loads the mapping tables in dir of fsys, usually an embedded FS. Panics on error.
func MustLoad(fsys fs.FS, dir string) map[string]*mapping.Table {
	tables, err := mapping.LoadDir(fsys, dir)
	if err != nil {
		panic(err)
	}
	return tables
}

func (m Module) Name() string               { return m.name }
func (m Module) Description() string        { return m.description }
func (m Module) String() string             { return m.name }
func (m Module) Dialect() *compiler.Dialect { return m.dialect }

// Mapping returns the named table, or the default table for "".
// Returns a [shifter.OptionsError] for an unknown data mapper.
func (m Module) Mapping(dataMapper string) (*mapping.Table, error) {
	if dataMapper == "" {
		dataMapper = m.defaultMapper
	}
	if t, ok := m.tables[dataMapper]; ok {
		return t, nil
	}
	return nil, shifter.OptionsError{Option: "data_mapper", Msg: fmt.Sprintf("module %v has no mapping %q", m.name, dataMapper)}
}

// Mappers returns the sorted names of the mapping tables.
func (m Module) Mappers() []string {
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
