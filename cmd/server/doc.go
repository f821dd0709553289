// Package main is the entry point for the Sheetbox MCP server.
//
// The server exposes spreadsheet and database tools to an agent working on a
// task inside a disposable container. It can start and end episodes itself
// or attach to an episode started by the sheetbox CLI, which hands the
// episode over through SHEETBOX_* environment variables. Submissions are
// graded against the task's oracle files on the host.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
