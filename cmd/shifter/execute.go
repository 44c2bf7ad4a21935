// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package main

import (
	"github.com/korrel8r/shifter/internal/pkg/must"
	"github.com/korrel8r/shifter/pkg/api"
	"github.com/korrel8r/shifter/pkg/execute"
	"github.com/spf13/cobra"
)

var executeCmd = &cobra.Command{
	Use:   "execute PATTERN",
	Short: "Search configured data sources for a STIX pattern and print a STIX bundle for each source.",
	Long: `Search configured data sources for a STIX pattern and print a STIX bundle for each source.

Data sources are read from the --config file. The pattern is translated for each source,
the search is submitted and polled until complete, and the results are translated to STIX.
PATTERN may be '-' to read from stdin.`,
	Example: `  shifter execute -c shifter.yaml --source qradar-prod "[ipv4-addr:value = '10.0.0.1']"`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := newAPI(nil, nil)
		sources := must.Must1(a.SourcesNamed(*sourcesFlag))
		ctx, cancel := signalContext()
		defer cancel()
		results, err := a.Executor.Execute(ctx, argData(args[0]), sources)
		if err != nil && !execute.IsPartialError(err) {
			must.Must(err)
		}
		resp := api.ExecuteResponse{Results: results}
		if err != nil {
			log.Error(err, "Execute")
			resp.Error = err.Error()
		}
		printOut(resp)
	},
}

var sourcesFlag *[]string

func init() {
	sourcesFlag = executeCmd.Flags().StringArrayP("source", "s", nil, "Name of a configured data source to search, may be repeated. Default is all sources.")
	rootCmd.AddCommand(executeCmd)
}
