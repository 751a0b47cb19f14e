package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/handset/host/internal/config"
	"github.com/handset/host/internal/storage"
)

func runAudit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	db := fs.String("db", "", "Path to audit database (default: ~/.handset/audit.db)")
	limit := fs.Int("limit", 20, "Number of events to show")
	code := fs.String("code", "", `Only show events with this code ("ok" for dispatched commands)`)
	summary := fs.Bool("summary", false, "Show counts per code instead of events")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: handset audit [options]\n\nList recent security events, newest first.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path := *db
	if path == "" {
		var err error
		path, err = config.DefaultAuditPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(stdout, "No security events recorded.")
		return 0
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open audit database: %v\n", err)
		return 1
	}
	defer store.Close()

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if *summary {
		counts, err := store.CountSecurityEventsByCode()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		codes := make([]string, 0, len(counts))
		for c := range counts {
			codes = append(codes, c)
		}
		sort.Strings(codes)
		fmt.Fprintln(w, "CODE\tCOUNT")
		for _, c := range codes {
			fmt.Fprintf(w, "%s\t%d\n", displayCode(c), counts[c])
		}
		return 0
	}

	events, err := store.ListSecurityEvents(storage.EventFilter{Limit: *limit, Code: *code})
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to list events: %v\n", err)
		return 1
	}
	if len(events) == 0 {
		fmt.Fprintln(stdout, "No security events recorded.")
		return 0
	}

	fmt.Fprintln(w, "TIME\tTRANSPORT\tREMOTE\tCOMMAND\tCODE\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format(time.DateTime),
			e.Transport,
			e.RemoteAddr,
			e.Command,
			displayCode(e.Code),
			e.Detail,
		)
	}
	return 0
}

func displayCode(code string) string {
	if code == "" {
		return "ok"
	}
	return code
}
