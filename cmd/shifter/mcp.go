// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package main

import (
	"net/http"

	"github.com/korrel8r/shifter/internal/pkg/must"
	"github.com/korrel8r/shifter/pkg/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP stdio server",
	Long: `Run shifter as an MCP server communicating via stdin/stdout.
Allows shifter to be run as a sub-process by an MCP tool.
With --http, serve the MCP streaming protocol on an HTTP address instead.
The 'web' command also serves MCP streaming at ` + mcp.StreamablePath + `, together with the REST API.
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		server := mcp.NewServer(newAPI(nil, nil))
		if *mcpHTTPFlag != "" {
			mux := http.NewServeMux()
			mux.Handle(mcp.StreamablePath, server.HTTPHandler())
			log.Info("MCP server listening for http", "addr", *mcpHTTPFlag, "path", mcp.StreamablePath)
			must.Must(http.ListenAndServe(*mcpHTTPFlag, mux))
			return
		}
		ctx, cancel := signalContext()
		defer cancel()
		log.Info("MCP server starting on stdio.")
		must.Must(server.ServeStdio(ctx))
	},
}

var mcpHTTPFlag *string

func init() {
	mcpHTTPFlag = mcpCmd.Flags().String("http", "", "host:port address to serve MCP streaming over http instead of stdio")
	rootCmd.AddCommand(mcpCmd)
}
