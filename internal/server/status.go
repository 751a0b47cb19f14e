package server

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/handset/host/internal/logging"
)

// StatusResponse contains host status returned by the /status endpoint.
type StatusResponse struct {
	HTTPAddress    string        `json:"http_address"`
	UDPAddress     string        `json:"udp_address"`
	KDF            string        `json:"kdf"`
	UptimeSeconds  int64         `json:"uptime_seconds"`
	NoncesRetained int           `json:"nonces_retained"`
	InFlight       int           `json:"in_flight"`
	Pipeline       StatsSnapshot `json:"pipeline"`
	UDPPool        PoolStats     `json:"udp_pool"`
}

// StatusConfig lists the components a StatusHandler reports on.
// Nil fields are reported as zero.
type StatusConfig struct {
	HTTP     *HTTPServer
	UDP      *UDPServer
	Pipeline *Pipeline
	Pool     *Pool
	KDF      string

	// Nonces returns the number of retained nonces.
	Nonces func() int
}

// StatusHandler serves host counters to local tools.
// It only answers loopback clients so the LAN learns nothing from it.
type StatusHandler struct {
	config    StatusConfig
	startTime time.Time
}

// NewStatusHandler creates a StatusHandler; uptime counts from now.
func NewStatusHandler(config StatusConfig) *StatusHandler {
	return &StatusHandler{config: config, startTime: time.Now()}
}

// Snapshot builds the current status.
func (h *StatusHandler) Snapshot() StatusResponse {
	resp := StatusResponse{
		KDF:           h.config.KDF,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if h.config.HTTP != nil {
		resp.HTTPAddress = h.config.HTTP.Addr()
		resp.InFlight = h.config.HTTP.InFlight()
	}
	if h.config.UDP != nil {
		resp.UDPAddress = h.config.UDP.Addr().String()
	}
	if h.config.Pipeline != nil {
		resp.Pipeline = h.config.Pipeline.Stats()
	}
	if h.config.Pool != nil {
		resp.UDPPool = h.config.Pool.Stats()
	}
	if h.config.Nonces != nil {
		resp.NoncesRetained = h.config.Nonces()
	}
	return resp
}

// ServeHTTP handles GET /status from loopback addresses.
// Non-local requests receive 403, other methods 405.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: status endpoint is local-only", http.StatusForbidden)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
		logging.Errorf("server: failed to encode status: %v", err)
	}
}

// isLoopbackRequest reports whether r came from the local machine.
// Unparseable addresses are treated as remote.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		logging.Warnf("server: failed to parse RemoteAddr %q: %v", r.RemoteAddr, err)
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
