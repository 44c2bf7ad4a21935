// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package shifter

import (
	"fmt"
	"slices"
	"strings"
)

// Modules is an immutable registry of modules by name.
type Modules struct {
	byName map[string]Module
	list   []Module
}

// NewModules returns a registry, it is an error if two modules have the same name.
func NewModules(modules ...Module) (*Modules, error) {
	r := &Modules{byName: map[string]Module{}}
	for _, m := range modules {
		if _, ok := r.byName[m.Name()]; ok {
			return nil, fmt.Errorf("duplicate module name: %v", m.Name())
		}
		r.byName[m.Name()] = m
		r.list = append(r.list, m)
	}
	slices.SortFunc(r.list, func(a, b Module) int { return strings.Compare(a.Name(), b.Name()) })
	return r, nil
}

// Get a module by name, returns [ModuleNotFoundError] if not found.
func (r *Modules) Get(name string) (Module, error) {
	if m, ok := r.byName[name]; ok {
		return m, nil
	}
	return nil, ModuleNotFoundError{Name: name}
}

// List modules sorted by name.
func (r *Modules) List() []Module { return slices.Clone(r.list) }

// Names of modules, sorted.
func (r *Modules) Names() []string {
	names := make([]string, len(r.list))
	for i, m := range r.list {
		names[i] = m.Name()
	}
	return names
}

// ModuleInfo describes a module for listings.
type ModuleInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Dialect     string   `json:"dialect"`
	Mappers     []string `json:"mappers,omitempty"`
}

// Info returns the description of a module.
func Info(m Module) ModuleInfo {
	info := ModuleInfo{Name: m.Name(), Description: m.Description()}
	if d := m.Dialect(); d != nil {
		info.Dialect = d.Name
	}
	if mm, ok := m.(Mappers); ok {
		info.Mappers = mm.Mappers()
	}
	return info
}

// Infos describes all modules, sorted by name.
func (r *Modules) Infos() []ModuleInfo {
	infos := make([]ModuleInfo, len(r.list))
	for i, m := range r.list {
		infos[i] = Info(m)
	}
	return infos
}
