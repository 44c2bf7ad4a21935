// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package config

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/korrel8r/shifter/pkg/shifter"
)

// Defaults for [Execute] settings.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 5 * time.Minute
	DefaultPageSize     = 1000
)

// Files returns the configuration sources in predictable order.
func (configs Configs) Files() []string { return slices.Sorted(maps.Keys(configs)) }

// Sources returns the data sources of all configurations, in file order.
// Credential values that start with '$' are expanded from the environment.
func (configs Configs) Sources() ([]Source, error) {
	var sources []Source
	seen := map[string]string{}
	for _, file := range configs.Files() {
		for _, s := range configs[file].Sources {
			if s.Name == "" {
				return nil, fmt.Errorf("%v: source has no name", file)
			}
			if s.Module == "" {
				return nil, fmt.Errorf("%v: source %q: no module", file, s.Name)
			}
			if other, ok := seen[s.Name]; ok {
				return nil, fmt.Errorf("%v: source %q: duplicate name, also in %v", file, s.Name, other)
			}
			if err := s.Options.Validate(); err != nil {
				return nil, fmt.Errorf("%v: source %q: %w", file, s.Name, err)
			}
			seen[s.Name] = file
			s.Configuration.Auth = expandCredentials(s.Configuration.Auth)
			sources = append(sources, s)
		}
	}
	return sources, nil
}

// Check that every source refers to a known module.
func (configs Configs) Check(modules *shifter.Modules) error {
	sources, err := configs.Sources()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range sources {
		if _, err := modules.Get(s.Module); err != nil {
			errs = append(errs, fmt.Errorf("source %q: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Execute returns the execute settings with defaults filled in.
// If more than one file has settings, the first non-zero value in file order is used.
func (configs Configs) Execute() Execute {
	var e Execute
	for _, file := range configs.Files() {
		if x := configs[file].Execute; x != nil {
			e.PollInterval.Duration = cmp.Or(e.PollInterval.Duration, x.PollInterval.Duration)
			e.Timeout.Duration = cmp.Or(e.Timeout.Duration, x.Timeout.Duration)
			e.PageSize = cmp.Or(e.PageSize, x.PageSize)
			e.MaxResults = cmp.Or(e.MaxResults, x.MaxResults)
		}
	}
	e.PollInterval.Duration = e.PollInterval.Or(DefaultPollInterval)
	e.Timeout.Duration = e.Timeout.Or(DefaultTimeout)
	e.PageSize = cmp.Or(e.PageSize, DefaultPageSize)
	return e
}

func expandCredentials(c shifter.Credentials) shifter.Credentials {
	for _, p := range []*string{&c.Token, &c.Username, &c.Password, &c.ClientID, &c.ClientSecret, &c.TokenURL} {
		if strings.HasPrefix(*p, "$") {
			*p = os.ExpandEnv(*p)
		}
	}
	return c
}
