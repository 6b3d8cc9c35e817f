// Command mdm-cli rebuilds, fetches and feeds master-data partitions on an
// mdm-server.
package main

import (
	"fmt"
	"os"

	"github.com/yndnr/mdmcache-go/internal/cli/command"
)

func main() {
	if err := command.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
