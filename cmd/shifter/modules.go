// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/korrel8r/shifter/pkg/modules"
	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:   "modules [MODULE]",
	Short: "List modules, or describe MODULE.",
	Args:  cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		infos := modules.All.Infos()
		if len(args) == 1 {
			for _, info := range infos {
				if info.Name == args[0] {
					printOut(info)
					return
				}
			}
			panic(fmt.Errorf("module not found: %v", args[0]))
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer func() { _ = w.Flush() }()
		if !*noHeadersFlag {
			fmt.Fprintln(w, "MODULE\tDIALECT\tMAPPERS\tDESCRIPTION")
		}
		for _, info := range infos {
			fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", info.Name, info.Dialect, strings.Join(info.Mappers, ","), info.Description)
		}
	},
}

var noHeadersFlag *bool

func init() {
	noHeadersFlag = modulesCmd.Flags().Bool("no-headers", false, "Don't print column headers")
	rootCmd.AddCommand(modulesCmd)
}
