// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package main

import (
	"context"
	"strings"

	"github.com/korrel8r/shifter/internal/pkg/must"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/translate"
	"github.com/spf13/cobra"
)

var translateCmd = &cobra.Command{
	Use:   "translate MODULE query|results DATA_SOURCE DATA [OPTIONS]",
	Short: "Translate a STIX pattern to native queries, or native results to a STIX bundle.",
	Long: `Translate a STIX pattern to native queries, or native results to a STIX bundle.

For query, DATA is a STIX pattern and DATA_SOURCE is ignored, use '{}'.
For results, DATA is a JSON array of native result objects and DATA_SOURCE is a STIX identity object, or '{}'.
OPTIONS is a JSON or YAML object, for example '{"result_limit": 100, "timerange": 60}'.
DATA or OPTIONS may be '-' to read from stdin.`,
	Example: `  shifter translate qradar query '{}' "[ipv4-addr:value = '10.0.0.1']" '{"result_limit": 10}'`,
	Args:    cobra.RangeArgs(4, 5),
	Run: func(cmd *cobra.Command, args []string) {
		var options shifter.Options
		if len(args) == 5 {
			options = must.Must1(shifter.ParseOptions([]byte(argData(args[4]))))
		}
		if *stixValidatorFlag {
			options.StixValidator = true
		}
		if *dataMapperFlag != "" {
			options.DataMapper = *dataMapperFlag
		}
		dataSource := strings.TrimSpace(argData(args[2]))
		if dataSource == "{}" { // No identity, one is generated.
			dataSource = ""
		}
		t := newTranslator()
		printOut(must.Must1(t.Translate(context.Background(), translate.Request{
			Module:     args[0],
			Operation:  translate.Operation(args[1]),
			DataSource: dataSource,
			Data:       argData(args[3]),
			Options:    options,
		})))
	},
}

var (
	stixValidatorFlag *bool
	dataMapperFlag    *string
)

func init() {
	stixValidatorFlag = translateCmd.Flags().BoolP("stix-validator", "x", false, "Validate translated results against the STIX schema")
	dataMapperFlag = translateCmd.Flags().StringP("data-mapper", "m", "", "Alternate data mapper for the module")
	rootCmd.AddCommand(translateCmd)
}
