// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package build contains build information for the shifter module.
package build

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var version string

// Version of shifter, set from version.txt at build time.
var Version = strings.TrimSpace(version)
