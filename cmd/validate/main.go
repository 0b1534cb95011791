// SPDX-License-Identifier: MIT

// validate checks a camanchor YAML configuration file the way the daemon
// loads it: strict parsing, environment overrides, then validation.
//
// Usage:
//
//	validate -f config.yaml
//	validate --file config.yaml
//
// Exit codes:
//   - 0: Configuration is valid
//   - 1: Configuration is invalid (parse or validation error)
//   - 2: Usage error (missing required flag)
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ManuGH/camanchor/internal/config"
	"github.com/ManuGH/camanchor/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file string
	var showVersion bool
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if showVersion {
		_, _ = fmt.Fprintln(stdout, version.Version)
		return 0
	}

	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		_, _ = fmt.Fprintln(stderr, "")
		_, _ = fmt.Fprintln(stderr, "Usage:")
		_, _ = fmt.Fprintln(stderr, "  validate -f config.yaml")
		_, _ = fmt.Fprintln(stderr, "  validate --file config.yaml")
		return 2
	}

	cfg, err := config.NewLoader(file, version.Version).Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error in %s:\n", file)
		_, _ = fmt.Fprintf(stderr, "  %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%s is valid (store=%s, capture=%s, endpoints=%d)\n",
		file, cfg.Store.Backend, cfg.Capture.Dir, len(cfg.Ledger.Endpoints))
	return 0
}
