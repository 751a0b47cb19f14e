// Package main provides the handset CLI.
// This file centralizes address selection for the CLI commands.
package main

import (
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/handset/host/internal/discovery"
)

func resolveAddrCandidates(addr string, port int, explicitPort bool, stderr io.Writer) []string {
	if addr != "" {
		if explicitPort {
			fmt.Fprintf(stderr, "Warning: --addr overrides --port; using %s\n", addr)
		}
		return []string{addr}
	}

	return defaultAddrCandidates(port)
}

func defaultAddrCandidates(port int) []string {
	portStr := strconv.Itoa(port)
	addrs := []string{"127.0.0.1:" + portStr}
	if ip := discovery.TailscaleIP(); ip != "" {
		addrs = append(addrs, ip+":"+portStr)
	}
	if ip := discovery.PreferredOutboundIP(); ip != "" {
		addrs = append(addrs, ip+":"+portStr)
	}
	return addrs
}

// displayAddr picks the address to show the phone for a listener bound to
// bound. Wildcard binds are replaced by the advertised or outbound IP.
func displayAddr(bound, advertiseIP string) string {
	host, port, err := net.SplitHostPort(bound)
	if err != nil {
		return bound
	}
	if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return bound
	}
	switch {
	case advertiseIP != "":
		host = advertiseIP
	case discovery.TailscaleIP() != "":
		host = discovery.TailscaleIP()
	case discovery.PreferredOutboundIP() != "":
		host = discovery.PreferredOutboundIP()
	default:
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func portOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(p)
	return port
}
