package main

import (
	"fmt"
	"io"

	"github.com/andretpc/rinha/bootstrap"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	bold   = color.New(color.Bold)
)

func printReport(w io.Writer, report bootstrap.Report) {
	bold.Fprintf(w, "%s.%s\n", report.Database, report.Collection)

	if !report.CollectionExists {
		red.Fprintln(w, "  ✗ collection missing")

		return
	}

	green.Fprintln(w, "  ✓ collection present")

	for _, status := range report.Indexes {
		switch {
		case status.Duplicated():
			yellow.Fprintf(w, "  ! index %s present %d times\n", status.Index, status.Count)
		case status.Present():
			green.Fprintf(w, "  ✓ index %s\n", status.Index)
		default:
			red.Fprintf(w, "  ✗ index %s missing\n", status.Index)
		}
	}

	if len(report.Extra) > 0 {
		fmt.Fprintf(w, "  %d other index(es) left untouched\n", len(report.Extra))
	}
}
