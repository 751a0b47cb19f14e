package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/handset/host/internal/server"
)

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	addr := fs.String("addr", "", "Host address to query (default: 127.0.0.1)")
	port := fs.Int("port", 5000, "Port to query when auto-selecting address")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: handset status [options]\n\nShow counters of the running host. Only answered on loopback.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	var (
		status *server.StatusResponse
		err    error
	)
	for _, target := range resolveAddrCandidates(*addr, *port, explicitFlags["port"], stderr) {
		status, err = queryHostStatus(target)
		if err == nil {
			break
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(status)
		return 0
	}
	writeStatusOutput(stdout, status)
	return 0
}

// writeStatusOutput renders human-readable host status output.
func writeStatusOutput(stdout io.Writer, status *server.StatusResponse) {
	fmt.Fprintf(stdout, "Host Status\n")
	fmt.Fprintf(stdout, "===========\n")
	fmt.Fprintf(stdout, "HTTP:         %s\n", status.HTTPAddress)
	fmt.Fprintf(stdout, "UDP:          %s\n", status.UDPAddress)
	fmt.Fprintf(stdout, "KDF:          %s\n", status.KDF)
	fmt.Fprintf(stdout, "Uptime:       %s\n", formatUptime(status.UptimeSeconds))
	fmt.Fprintf(stdout, "Nonces:       %d retained\n", status.NoncesRetained)
	fmt.Fprintf(stdout, "In flight:    %d\n", status.InFlight)

	fmt.Fprintf(stdout, "\nCommands\n")
	fmt.Fprintf(stdout, "--------\n")
	fmt.Fprintf(stdout, "Accepted:     %d\n", status.Pipeline.Accepted)
	fmt.Fprintf(stdout, "Throttled:    %d\n", status.Pipeline.Throttled)
	codes := make([]string, 0, len(status.Pipeline.Rejected))
	for code := range status.Pipeline.Rejected {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(stdout, "Rejected:     %d %s\n", status.Pipeline.Rejected[code], code)
	}
	if status.Pipeline.AuditSuppressed > 0 {
		fmt.Fprintf(stdout, "Not audited:  %d unauthenticated rejections\n", status.Pipeline.AuditSuppressed)
	}

	fmt.Fprintf(stdout, "\nUDP Workers\n")
	fmt.Fprintf(stdout, "-----------\n")
	fmt.Fprintf(stdout, "Completed:    %d\n", status.UDPPool.Completed)
	fmt.Fprintf(stdout, "Dropped:      %d\n", status.UDPPool.Dropped)
	fmt.Fprintf(stdout, "Queued:       %d\n", status.UDPPool.Queued)
	if status.UDPPool.Panics > 0 {
		fmt.Fprintf(stdout, "Panics:       %d\n", status.UDPPool.Panics)
	}
}

// queryHostStatus makes an HTTP GET request to the /status endpoint.
func queryHostStatus(addr string) (*server.StatusResponse, error) {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		return nil, fmt.Errorf("host is not running at %s (or not reachable)", addr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var status server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &status, nil
}

// formatUptime formats an uptime in seconds as a human-readable string.
// Examples: "45s", "5m 23s", "2h 15m", "3d 4h"
func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
