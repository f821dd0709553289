// Command sheetbox-agent runs one workspace operation inside a sandbox.
//
// It takes a single JSON-encoded request as its argument, executes it
// against the workspace and prints the JSON response on stdout. The
// workspace is $SHEETBOX_WORKSPACE, or the working directory when unset.
// The exit code is 1 when the operation failed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/isdmx/sheetbox/logger"
	"github.com/isdmx/sheetbox/protocol"
	"github.com/isdmx/sheetbox/workbench"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var resp *protocol.Response
	defer func() {
		out, err := json.Marshal(resp)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		fmt.Println(string(out))
	}()

	if len(args) != 1 {
		resp = protocol.Failure(fmt.Errorf("%w: expected one JSON argument", protocol.ErrInvalidRequest))
		return 1
	}
	req, err := protocol.DecodeRequest(args[0])
	if err != nil {
		resp = protocol.Failure(err)
		return 1
	}

	log, err := logger.New("production", "warn", logger.WithoutStacktraces())
	if err != nil {
		resp = protocol.Failure(err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	root := os.Getenv("SHEETBOX_WORKSPACE")
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			resp = protocol.Failure(err)
			return 1
		}
	}

	resp = workbench.New(log, root).Handle(context.Background(), req)
	if !resp.OK {
		return 1
	}
	return 0
}
