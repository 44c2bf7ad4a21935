// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Command shifter translates STIX patterns to data source queries, runs them and translates the results.
package main

import (
	"fmt"
	"os"

	"github.com/korrel8r/shifter/internal/pkg/enumflag"
	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/internal/pkg/must"
	"github.com/korrel8r/shifter/pkg/build"
	"github.com/korrel8r/shifter/pkg/config"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:     "shifter",
		Short:   "Translate and run STIX pattern searches on security data sources",
		Version: build.Version,
	}
	log = logging.Log()

	// Global Flags
	outputFlag = enumflag.New("yaml", "json", "json-pretty", "yaml")
	verbose    *int
	configFlag *string
	panicOnErr *bool

	profiler interface{ Stop() } = noopStop{}
)

func init() {
	panicOnErr = rootCmd.PersistentFlags().Bool("panic", false, "panic on error instead of exit code 1")
	rootCmd.PersistentFlags().VarP(outputFlag, "output", "o", outputFlag.DocString("Output format"))
	verbose = rootCmd.PersistentFlags().IntP("verbose", "v", 0, "Verbosity for logging")
	configFlag = rootCmd.PersistentFlags().StringP("config", "c", config.Default(),
		fmt.Sprintf("Configuration file or URL, default from $%v", config.EnvConfig))
	cobra.OnInitialize(func() { // After flags are parsed
		logging.Init(*verbose)
		profiler = StartProfile()
	})
}

func main() {
	// Code in this package panics with an error to exit.
	defer func() {
		profiler.Stop()
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, r)
			if *panicOnErr {
				panic(r)
			}
			os.Exit(1)
		}
		os.Exit(0)
	}()
	must.Must(rootCmd.Execute())
}
