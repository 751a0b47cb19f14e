package mdns

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewAdvertiser(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 5000, UDPPort: 5000, KDF: "sha256", Name: "desk"})
	if advertiser == nil {
		t.Fatal("NewAdvertiser returned nil")
	}
	if advertiser.config.Name != "desk" {
		t.Errorf("expected name desk, got %s", advertiser.config.Name)
	}
	if _, err := uuid.Parse(advertiser.InstanceID()); err != nil {
		t.Errorf("InstanceID() = %q is not a UUID: %v", advertiser.InstanceID(), err)
	}
}

func TestNewAdvertiserDefaultsName(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 5000})
	if advertiser.config.Name == "" {
		t.Error("expected hostname fallback for empty name")
	}
}

func TestInstanceIDsDiffer(t *testing.T) {
	a := NewAdvertiser(Config{Port: 5000})
	b := NewAdvertiser(Config{Port: 5000})
	if a.InstanceID() == b.InstanceID() {
		t.Error("two advertisers share an instance id")
	}
}

func TestTXTRecords(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 5000, UDPPort: 5002, KDF: "argon2id", Name: "desk"})
	records := advertiser.TXTRecords()

	want := map[string]string{
		"version": ProtocolVersion,
		"name":    "desk",
		"udp":     "5002",
		"kdf":     "argon2id",
		"id":      advertiser.InstanceID(),
	}
	got := make(map[string]string)
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		got[k] = v
		if len(r) > 255 {
			t.Errorf("TXT record %q exceeds 255 bytes", r)
		}
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("TXT %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestTXTRecordsOmitUnset(t *testing.T) {
	records := NewAdvertiser(Config{Port: 5000, Name: "desk"}).TXTRecords()
	for _, r := range records {
		if strings.HasPrefix(r, "udp=") || strings.HasPrefix(r, "kdf=") {
			t.Errorf("unexpected TXT record %q", r)
		}
	}
}

func TestParseTXT(t *testing.T) {
	var host DiscoveredHost
	parseTXT(&host, []string{"version=1", "name=desk", "udp=5002", "kdf=hkdf", "id=abc", "junk", "udp2=9"})

	if host.Version != "1" || host.Name != "desk" || host.UDPPort != 5002 || host.KDF != "hkdf" || host.InstanceID != "abc" {
		t.Errorf("parseTXT() = %+v", host)
	}
}

func TestAdvertiserStopBeforeStart(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 5000})

	advertiser.Stop()
	advertiser.Stop()

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

// TestAdvertiserStartStop requires multicast and may not work in all CI environments.
func TestAdvertiserStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	advertiser := NewAdvertiser(Config{Port: 5000, UDPPort: 5000, Name: "test-handset-host"})
	if err := advertiser.Start(); err != nil {
		t.Skipf("mdns unavailable: %v", err)
	}

	if !advertiser.IsRunning() {
		t.Error("advertiser should be running after Start()")
	}
	if err := advertiser.Start(); err != nil {
		t.Fatalf("second Start() should be no-op, got error: %v", err)
	}

	advertiser.Stop()
	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestDiscoverIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	advertiser := NewAdvertiser(Config{Port: 5071, UDPPort: 5072, KDF: "sha256", Name: "discover-test-handset"})
	if err := advertiser.Start(); err != nil {
		t.Skipf("mdns unavailable: %v", err)
	}
	defer advertiser.Stop()

	time.Sleep(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hosts, err := Discover(ctx)
	if err != nil {
		t.Skipf("mdns browse unavailable: %v", err)
	}

	for _, host := range hosts {
		if host.Name == "discover-test-handset" {
			if host.Port != 5071 {
				t.Errorf("expected port 5071, got %d", host.Port)
			}
			if host.UDPPort != 5072 {
				t.Errorf("expected udp port 5072, got %d", host.UDPPort)
			}
			return
		}
	}
	// mDNS is unreliable in CI.
	t.Log("test host not discovered")
}
