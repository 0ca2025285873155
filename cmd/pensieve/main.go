// Command pensieve is a small demo/ops front end for the pensieve package:
// no framework, just an os.Args[1] switch, in the shape of the teacher's
// own CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/allaspectsdev/pensieve/internal/telemetry"
	"github.com/allaspectsdev/pensieve/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, "pensieve-cli")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pensieve: telemetry init failed, continuing without spans: %v\n", err)
	} else {
		defer shutdown(ctx)
	}

	switch os.Args[1] {
	case "demo":
		cmdDemo(os.Args[2:])
	case "schedule":
		cmdSchedule(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: pensieve <command> [options]

Commands:
  demo          Run the chain-propagation scenario and print its schedule
  schedule      Read a memory graph DSL file and print its wave-fronts
  version       Print version information
  help          Show this help message`)
}
