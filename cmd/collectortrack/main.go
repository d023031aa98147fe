// cmd/collectortrack/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"collectortrack/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "collectortrack: %v\n", err)
		os.Exit(1)
	}
}
