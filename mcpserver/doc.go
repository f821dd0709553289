// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the spreadsheet tools of an episode to an
// agent over MCP using the mark3labs/mcp-go library. Every tool resolves the
// current episode through an episode.Resolver: either an episode started by
// this process through the start_episode tool, or one handed off by another
// process through the SHEETBOX_* environment variables. Spreadsheet and
// database tools are executed by the agent binary inside the sandbox;
// submit_task grades the run directory on the host.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, resolver, grader, orchestrator)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
