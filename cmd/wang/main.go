// Wang CLI - runs workflow programs, resumes paused ones and serves sessions
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("wang.cli")

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 = errors only, 4 = debug)")
	dir := flag.String("C", ".", "Project directory (wang.toml is searched from here upwards)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wang [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [flags] [file]           Run a program document (default: the project entry module)\n")
		fmt.Fprintf(os.Stderr, "  resume [flags] <file|id>     Resume a paused snapshot file or stored snapshot\n")
		fmt.Fprintf(os.Stderr, "  snapshots [rm <id>]          List or delete stored snapshots\n")
		fmt.Fprintf(os.Stderr, "  modules [prefix]             List the modules the project can import\n")
		fmt.Fprintf(os.Stderr, "  serve [flags]                Serve sessions over HTTP\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  wang run flow.json                         # Run to completion\n")
		fmt.Fprintf(os.Stderr, "  wang run -pause-after 100 -save flow.json  # Pause and store the snapshot\n")
		fmt.Fprintf(os.Stderr, "  wang resume 3f2a                           # Resume a stored snapshot by id prefix\n")
		fmt.Fprintf(os.Stderr, "  wang serve -addr :4567                     # Start the session server\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	p, err := loadProject(*dir)
	if err != nil {
		fatalf("%v", err)
	}

	switch args[0] {
	case "run":
		os.Exit(handleRunCommand(args[1:], p))
	case "resume":
		os.Exit(handleResumeCommand(args[1:], p))
	case "snapshots":
		os.Exit(handleSnapshotsCommand(args[1:], p))
	case "modules":
		os.Exit(handleModulesCommand(args[1:], p))
	case "serve":
		os.Exit(handleServeCommand(args[1:], p))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
