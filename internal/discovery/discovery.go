// Package discovery lets a companion device find the host on the LAN.
//
// A client broadcasts {"type":"DISCOVER"} to the discovery port and the host
// answers unicast with {"type":"OFFER","ip":...,"port":...,"hostname":...}.
//
// Discovery is deliberately unauthenticated. An OFFER discloses only how to
// reach the command service, never any capability: every command must still
// carry an envelope authenticated with the pairing key. Anyone on the LAN can
// therefore learn that a host is listening and where, and nothing more.
// Replies are rate limited so the responder cannot be used to amplify traffic.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/handset/host/internal/logging"
)

// Message types.
const (
	TypeDiscover = "DISCOVER"
	TypeOffer    = "OFFER"
)

// DefaultPort is the UDP port the responder listens on.
const DefaultPort = 5001

// maxQuerySize bounds accepted queries; a DISCOVER is a few bytes.
const maxQuerySize = 512

// Query is the broadcast discovery request.
type Query struct {
	Type string `json:"type"`
}

// Offer is the unicast discovery response.
type Offer struct {
	Type     string `json:"type"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Hostname string `json:"hostname"`
}

// Config holds configuration for a Responder.
type Config struct {
	// Addr is the UDP address to listen on.
	// Default: ":5001".
	Addr string

	// ServicePort is the command port advertised in offers. Required.
	ServicePort int

	// AdvertiseIP, when set, is offered instead of the routed address.
	AdvertiseIP string

	// Hostname is offered to clients.
	// Default: os.Hostname().
	Hostname string

	// RatePerSec limits replies across all clients.
	// Default: 20.
	RatePerSec float64
}

// Responder answers DISCOVER queries.
type Responder struct {
	config  Config
	conn    net.PacketConn
	limiter *rate.Limiter
}

// NewResponder binds the discovery socket with SO_REUSEADDR set.
func NewResponder(config Config) (*Responder, error) {
	if config.Addr == "" {
		config.Addr = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.ServicePort <= 0 {
		return nil, fmt.Errorf("discovery: service port is required")
	}
	if config.Hostname == "" {
		name, err := os.Hostname()
		if err != nil {
			name = "handset-host"
		}
		config.Hostname = name
	}
	if config.RatePerSec <= 0 {
		config.RatePerSec = 20
	}

	lc := net.ListenConfig{Control: reuseAddrControl}
	conn, err := lc.ListenPacket(context.Background(), "udp4", config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on udp %s: %w", config.Addr, err)
	}

	burst := int(config.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Responder{
		config:  config,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSec), burst),
	}, nil
}

// Addr returns the bound address.
func (r *Responder) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Serve answers queries until ctx is done.
func (r *Responder) Serve(ctx context.Context) error {
	logging.Infof("discovery: listening on %s (advertising port %d)", r.conn.LocalAddr(), r.config.ServicePort)

	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()

	buf := make([]byte, maxQuerySize)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Warnf("discovery: read error: %v", err)
			continue
		}

		var q Query
		if err := json.Unmarshal(buf[:n], &q); err != nil || q.Type != TypeDiscover {
			continue
		}

		if !r.limiter.Allow() {
			logging.Debugf("discovery: rate limited reply to %s", from)
			continue
		}

		offer := r.offerFor(from)
		data, err := json.Marshal(offer)
		if err != nil {
			continue
		}
		if _, err := r.conn.WriteTo(data, from); err != nil {
			logging.Warnf("discovery: reply to %s failed: %v", from, err)
			continue
		}
		logging.Infof("discovery: offered %s:%d to %s", offer.IP, offer.Port, from)
	}
}

// Close closes the socket, ending Serve.
func (r *Responder) Close() error {
	return r.conn.Close()
}

func (r *Responder) offerFor(from net.Addr) Offer {
	ip := r.config.AdvertiseIP
	if ip == "" {
		if ua, ok := from.(*net.UDPAddr); ok {
			ip = RouteIP(ua.IP)
		}
	}
	if ip == "" {
		ip = PreferredOutboundIP()
	}
	return Offer{
		Type:     TypeOffer,
		IP:       ip,
		Port:     r.config.ServicePort,
		Hostname: r.config.Hostname,
	}
}

// Discover broadcasts a DISCOVER to addr and collects distinct offers until
// ctx is done. addr is usually "255.255.255.255:5001".
func Discover(ctx context.Context, addr string) ([]Offer, error) {
	dst, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()

	query, _ := json.Marshal(Query{Type: TypeDiscover})
	if _, err := conn.WriteToUDP(query, dst); err != nil {
		return nil, fmt.Errorf("send discover: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(2 * time.Second)
	}
	conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	var offers []Offer
	seen := make(map[string]bool)
	buf := make([]byte, maxQuerySize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return offers, nil
			}
			return offers, err
		}

		var o Offer
		if err := json.Unmarshal(buf[:n], &o); err != nil || o.Type != TypeOffer {
			continue
		}
		key := net.JoinHostPort(o.IP, fmt.Sprint(o.Port))
		if seen[key] {
			continue
		}
		seen[key] = true
		offers = append(offers, o)
	}
}
