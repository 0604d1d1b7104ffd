// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/health"
)

func runStatusCLI(args []string) int {
	fs := flag.NewFlagSet("deckfsd status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	file := fs.String("file", "", "status file (default $DECKFS_STATUS_FILE)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path := *file
	if path == "" {
		path = config.ParseString("DECKFS_STATUS_FILE", config.DefaultStatusFile())
	}

	r, err := health.ReadStatus(path)
	if errors.Is(err, health.ErrNoStatus) {
		fmt.Fprintf(os.Stderr, "deckfsd is not running (no status at %s)\n", path)
		return 3
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read status: %v\n", err)
		return 1
	}
	printStatus(os.Stdout, r, time.Now())
	if r.Status == health.StatusUnhealthy {
		return 1
	}
	return 0
}

func printStatus(w io.Writer, r health.Report, now time.Time) {
	fmt.Fprintf(w, "deckfsd %s (pid %d): %s\n", r.Version, r.PID, r.Status)
	fmt.Fprintf(w, "  updated %s ago, up %s\n",
		now.Sub(r.Timestamp).Round(time.Second),
		(time.Duration(r.Uptime) * time.Second).String())

	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := r.Checks[name]
		line := fmt.Sprintf("  %-8s %-9s %s", name, c.Status, c.Message)
		if c.Error != "" {
			line += " (" + c.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
}
