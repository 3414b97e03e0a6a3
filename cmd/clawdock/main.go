package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/openclaw/clawdock/internal/clawdockd"
	"github.com/openclaw/clawdock/internal/launcher"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	args := os.Args
	if len(args) > 1 {
		switch args[1] {
		case "--version":
			printVersion()
			return
		case "--daemon": // Long-running local daemon mode.
			daemonArgs := append([]string{args[0]}, args[2:]...)
			if err := clawdockd.Main(daemonArgs); err != nil {
				log.Fatal(err)
			}
			return
		}
	}

	// Everything else is the CLI frontend.
	launcher.SetVersion(version)
	if err := launcher.Main(args); err != nil {
		var exitErr *launcher.ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		log.Fatal(err)
	}
}

func printVersion() {
	shortHash := commit
	if len(shortHash) > 7 {
		shortHash = shortHash[:7]
	}
	fmt.Printf("version: %s\n", version)
	fmt.Printf("git hash: %s\n", shortHash)
	fmt.Printf("build date: %s\n", buildDate)
}
