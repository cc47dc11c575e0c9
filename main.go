// ABOUTME: Entry point for the fieldsync CLI and MCP server
// ABOUTME: Builds the cobra command tree and exits non-zero on failure
package main

import (
	"fmt"
	"os"

	"github.com/harperreed/fieldsync/cli"
)

const version = "0.1.0"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
