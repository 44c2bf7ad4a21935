// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package main

import (
	"fmt"
	"strconv"

	"github.com/korrel8r/shifter/internal/pkg/must"
	"github.com/korrel8r/shifter/pkg/api"
	"github.com/korrel8r/shifter/pkg/transmit"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var transmitCmd = &cobra.Command{
	Use:   "transmit MODULE CONNECTION CONFIGURATION OPERATION [ARGS...]",
	Short: "Run an operation on a data source and print the result envelope.",
	Long: `Run an operation on a data source and print the result envelope.

CONNECTION is a JSON or YAML connection object: {"host": "...", "port": 443, "options": {...}}
CONFIGURATION is a JSON or YAML credentials object: {"auth": {"username": "...", "password": "..."}}

Operations:
  ping
  is_async
  query QUERY
  status SEARCH_ID
  results SEARCH_ID OFFSET LENGTH
  delete SEARCH_ID

Operation failures are reported in the envelope, the command succeeds if the operation was run.`,
	Example: `  shifter transmit qradar '{"host": "qradar.example.com"}' '{"auth": {"token": "..."}}' status 1f3c-99`,
	Args:    cobra.MinimumNArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		var req api.TransmitRequest
		must.Must(yaml.Unmarshal([]byte(argData(args[1])), &req.Connection), "connection")
		must.Must(yaml.Unmarshal([]byte(argData(args[2])), &req.Configuration), "configuration")
		op := transmit.Operation(args[3])
		opArgs := args[4:]
		want := 0
		switch op {
		case transmit.Query:
			want = 1
			if len(opArgs) == want {
				req.Query = argData(opArgs[0])
			}
		case transmit.Status, transmit.Delete:
			want = 1
			if len(opArgs) == want {
				req.SearchID = opArgs[0]
			}
		case transmit.Results:
			want = 3
			if len(opArgs) == want {
				req.SearchID = opArgs[0]
				req.Offset = must.Must1(strconv.Atoi(opArgs[1]))
				req.Length = must.Must1(strconv.Atoi(opArgs[2]))
			}
		}
		if len(opArgs) != want {
			must.Must(fmt.Errorf("%v expects %v arguments, got %v", op, want, len(opArgs)))
		}
		ctx, cancel := signalContext()
		defer cancel()
		a := must.Must1(api.New(newTranslator(), nil, nil, nil))
		printOut(must.Must1(a.RunTransmit(ctx, args[0], op, req)))
	},
}

func init() {
	rootCmd.AddCommand(transmitCmd)
}
