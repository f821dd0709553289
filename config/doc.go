// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and SHEETBOX_* environment variables. It
// covers the MCP server transport, logging, the sandbox backend and its
// resource limits, task/run directory locations and grading tolerance.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox image: %s\n", cfg.Sandbox.Image)
package config
