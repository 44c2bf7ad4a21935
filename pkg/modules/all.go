// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package modules is the registry of built-in modules.
package modules

import (
	"github.com/korrel8r/shifter/internal/pkg/must"
	"github.com/korrel8r/shifter/pkg/modules/bigfix"
	"github.com/korrel8r/shifter/pkg/modules/carbonblack"
	"github.com/korrel8r/shifter/pkg/modules/loki"
	"github.com/korrel8r/shifter/pkg/modules/prometheus"
	"github.com/korrel8r/shifter/pkg/modules/qradar"
	"github.com/korrel8r/shifter/pkg/modules/sql"
	"github.com/korrel8r/shifter/pkg/shifter"
)

// List of all built-in modules.
var List = []shifter.Module{
	bigfix.Module,
	carbonblack.Module,
	loki.Module,
	prometheus.Module,
	qradar.Module,
	sql.Module,
}

// All is the registry of built-in modules.
var All = must.Must1(shifter.NewModules(List...))
