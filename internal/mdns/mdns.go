// Package mdns provides optional mDNS/Bonjour service advertisement.
//
// When enabled, the host advertises its command service on the local network
// using DNS-SD, so the companion app can find it without the UDP broadcast
// exchange. It is opt-in and carries no secrets.
//
// The advertisement includes:
//   - Service type: _handset._tcp
//   - TXT records with version, name, UDP port, KDF name and instance id
//
// Discovery only reveals presence; the pairing code is still required.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type for handset hosts.
const ServiceType = "_handset._tcp"

// ProtocolVersion identifies the command protocol for compatibility checks.
const ProtocolVersion = "1"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the HTTP command port to advertise.
	Port int

	// UDPPort is the fast-path command port, advertised in TXT.
	UDPPort int

	// KDF names the key derivation the client must use.
	KDF string

	// Name is a human-readable name for this host.
	// Defaults to the system hostname if empty.
	Name string
}

// Advertiser manages mDNS/DNS-SD service registration.
type Advertiser struct {
	config     Config
	instanceID string
	server     *zeroconf.Server
	mu         sync.Mutex
}

// NewAdvertiser creates a new mDNS advertiser with the given configuration.
// Each advertiser gets a fresh instance id so clients can tell restarts apart.
func NewAdvertiser(cfg Config) *Advertiser {
	if cfg.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "handset"
		}
		cfg.Name = hostname
	}
	return &Advertiser{
		config:     cfg,
		instanceID: uuid.NewString(),
	}
}

// InstanceID returns the id published in the "id" TXT record.
func (a *Advertiser) InstanceID() string {
	return a.instanceID
}

// TXTRecords returns the TXT strings the advertiser publishes.
func (a *Advertiser) TXTRecords() []string {
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + a.config.Name,
		"id=" + a.instanceID,
	}
	if a.config.UDPPort > 0 {
		records = append(records, "udp="+strconv.Itoa(a.config.UDPPort))
	}
	if a.config.KDF != "" {
		records = append(records, "kdf="+a.config.KDF)
	}
	return records
}

// Start begins advertising the service via mDNS.
// Start is safe to call multiple times; subsequent calls are no-ops
// if already running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	server, err := zeroconf.Register(
		a.config.Name,
		ServiceType,
		"local.",
		a.config.Port,
		a.TXTRecords(),
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call repeatedly or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true if the advertiser is currently running.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHost represents a host found via mDNS.
type DiscoveredHost struct {
	Name       string
	Host       string
	Port       int
	UDPPort    int
	KDF        string
	InstanceID string
	Version    string
}

// parseTXT fills host fields from TXT records, ignoring unknown keys.
func parseTXT(host *DiscoveredHost, records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			host.Version = value
		case "name":
			host.Name = value
		case "id":
			host.InstanceID = value
		case "kdf":
			host.KDF = value
		case "udp":
			if port, err := strconv.Atoi(value); err == nil {
				host.UDPPort = port
			}
		}
	}
}

// Discover browses for handset hosts until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host := DiscoveredHost{
				Name: entry.Instance,
				Port: entry.Port,
			}
			if len(entry.AddrIPv4) > 0 {
				host.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				host.Host = entry.AddrIPv6[0].String()
			}
			parseTXT(&host, entry.Text)

			mu.Lock()
			hosts = append(hosts, host)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes entries once ctx is done.
	wg.Wait()

	return hosts, nil
}
