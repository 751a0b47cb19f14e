package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/handset/host/internal/discovery"
	"github.com/handset/host/internal/mdns"
)

func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	broadcast := fs.String("broadcast", fmt.Sprintf("255.255.255.255:%d", discovery.DefaultPort), "Address to send DISCOVER to")
	timeout := fs.Duration("timeout", 2*time.Second, "How long to wait for offers")
	useMDNS := fs.Bool("mdns", false, "Browse mDNS instead of broadcasting")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: handset discover [options]\n\nFind handset hosts on the local network.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if *useMDNS {
		hosts, err := mdns.Discover(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if len(hosts) == 0 {
			fmt.Fprintln(stdout, "No hosts found.")
			return 0
		}
		fmt.Fprintln(w, "NAME\tADDRESS\tUDP\tKDF")
		for _, h := range hosts {
			fmt.Fprintf(w, "%s\t%s:%d\t%d\t%s\n", h.Name, h.Host, h.Port, h.UDPPort, h.KDF)
		}
		return 0
	}

	offers, err := discovery.Discover(ctx, *broadcast)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(offers) == 0 {
		fmt.Fprintln(stdout, "No hosts found.")
		return 0
	}
	fmt.Fprintln(w, "HOSTNAME\tADDRESS")
	for _, o := range offers {
		fmt.Fprintf(w, "%s\t%s:%d\n", o.Hostname, o.IP, o.Port)
	}
	return 0
}
