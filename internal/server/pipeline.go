// Package server implements the two command transports: a best-effort UDP
// listener for high-frequency motion and a request/response HTTP endpoint.
// Both feed the same Pipeline, so every command is authenticated, checked for
// replay and dispatched by one code path.
package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/handset/host/internal/dispatch"
	"github.com/handset/host/internal/envelope"
	apperrors "github.com/handset/host/internal/errors"
	"github.com/handset/host/internal/logging"
)

// Transport names used in logs and security events.
const (
	TransportUDP  = "udp"
	TransportHTTP = "http"
)

// Defaults for the audit limit on unauthenticated rejections.
const (
	DefaultUnauthAuditPerSec = 1.0
	DefaultUnauthAuditBurst  = 5
)

// Validator admits or rejects a decoded payload. *replay.Guard implements it.
type Validator interface {
	Validate(p *envelope.Payload) error
}

// Dispatcher runs a validated command. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(cmd string, data map[string]any) (dispatch.Result, error)
}

// SecurityEvent describes one rejected or dispatched command.
// Code is empty for successful dispatches.
type SecurityEvent struct {
	Transport  string
	RemoteAddr string
	Command    string
	Nonce      string
	Code       string
	Detail     string
	At         time.Time
}

// AuditSink receives security events. Record must not block.
type AuditSink interface {
	Record(e SecurityEvent)
}

// PipelineConfig holds the collaborators of a Pipeline.
type PipelineConfig struct {
	// Codec authenticates and decrypts envelopes. Required.
	Codec *envelope.Codec

	// Guard rejects stale and repeated payloads. Required.
	Guard Validator

	// Dispatcher executes commands. Required.
	Dispatcher Dispatcher

	// Audit receives security events. Optional.
	Audit AuditSink

	// UnauthAuditPerSec caps how many envelope.malformed and
	// envelope.auth_failed events reach Audit. Anyone on the network can
	// produce those, so without a cap they would push genuine events out of
	// the pruned audit table. Events over the cap are counted instead.
	// Default: 1.
	UnauthAuditPerSec float64

	// UnauthAuditBurst is the burst allowed above UnauthAuditPerSec.
	// Default: 5.
	UnauthAuditBurst int

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Pipeline is the shared receive path: parse, decode, validate, dispatch.
type Pipeline struct {
	config PipelineConfig
	stats  Stats

	unauthAudit *rate.Limiter
	// suppressed counts unauthenticated rejections not yet reported in an
	// audit event.
	suppressed atomic.Int64
}

// NewPipeline creates a Pipeline.
func NewPipeline(config PipelineConfig) *Pipeline {
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	if config.UnauthAuditPerSec <= 0 {
		config.UnauthAuditPerSec = DefaultUnauthAuditPerSec
	}
	if config.UnauthAuditBurst <= 0 {
		config.UnauthAuditBurst = DefaultUnauthAuditBurst
	}
	return &Pipeline{
		config:      config,
		stats:       Stats{rejected: make(map[string]int64)},
		unauthAudit: rate.NewLimiter(rate.Limit(config.UnauthAuditPerSec), config.UnauthAuditBurst),
	}
}

// Process handles one raw envelope. A command reaches the Dispatcher only
// when both decoding and replay validation succeed. Errors are CodedErrors
// for the transport to report or drop.
func (p *Pipeline) Process(ctx context.Context, transport, remote string, raw []byte) (dispatch.Result, error) {
	env, err := envelope.ParseWire(raw)
	if err != nil {
		return dispatch.Result{}, p.reject(transport, remote, nil, err)
	}

	payload, err := p.config.Codec.Decode(env)
	if err != nil {
		return dispatch.Result{}, p.reject(transport, remote, nil, err)
	}

	if err := p.config.Guard.Validate(payload); err != nil {
		return dispatch.Result{}, p.reject(transport, remote, payload, err)
	}

	// Shutdown began while this request waited; do not act on it.
	if ctx.Err() != nil {
		return dispatch.Result{}, p.reject(transport, remote, payload, apperrors.Busy())
	}

	res, err := p.config.Dispatcher.Dispatch(payload.Command, payload.Data)
	if err != nil {
		return dispatch.Result{}, p.reject(transport, remote, payload, err)
	}

	p.stats.accepted.Add(1)
	if res.Throttled {
		p.stats.throttled.Add(1)
	}
	if dispatch.IsMotion(payload.Command) {
		logging.Debugf("server: %s %s from %s", transport, payload.Command, remote)
	} else {
		logging.Infof("server: %s %s from %s", transport, payload.Command, remote)
		p.audit(SecurityEvent{
			Transport:  transport,
			RemoteAddr: remote,
			Command:    payload.Command,
			Nonce:      payload.Nonce,
		})
	}
	return res, nil
}

// reject counts, logs and audits a failure, then returns it unchanged.
func (p *Pipeline) reject(transport, remote string, payload *envelope.Payload, err error) error {
	code, msg := apperrors.ToCodeAndMessage(err)
	p.stats.reject(code)

	ev := SecurityEvent{
		Transport:  transport,
		RemoteAddr: remote,
		Code:       code,
		Detail:     msg,
	}
	if payload != nil {
		ev.Command = payload.Command
		ev.Nonce = payload.Nonce
	}

	// Forged or garbage traffic on UDP can be high volume; keep it at debug.
	if transport == TransportUDP && payload == nil {
		logging.Debugf("server: %s rejected from %s: %s", transport, remote, code)
	} else {
		logging.Warnf("server: %s rejected from %s: %v", transport, remote, err)
	}
	if isUnauthenticated(code) {
		if !p.unauthAudit.AllowN(p.config.TimeNow(), 1) {
			p.suppressed.Add(1)
			p.stats.auditSuppressed.Add(1)
			return err
		}
		if n := p.suppressed.Swap(0); n > 0 {
			ev.Detail = fmt.Sprintf("%s (%d similar events suppressed)", ev.Detail, n)
		}
	}
	p.audit(ev)
	return err
}

// isUnauthenticated reports whether code is produced before the MAC check
// succeeds, i.e. by traffic that needs no key.
func isUnauthenticated(code string) bool {
	return code == apperrors.CodeEnvelopeMalformed || code == apperrors.CodeEnvelopeAuthFailed
}

func (p *Pipeline) audit(ev SecurityEvent) {
	if p.config.Audit == nil {
		return
	}
	ev.At = p.config.TimeNow()
	p.config.Audit.Record(ev)
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() StatsSnapshot {
	return p.stats.snapshot()
}

// Stats counts pipeline outcomes.
type Stats struct {
	accepted        atomic.Int64
	throttled       atomic.Int64
	auditSuppressed atomic.Int64

	mu       sync.Mutex
	rejected map[string]int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Accepted        int64            `json:"accepted"`
	Throttled       int64            `json:"throttled"`
	Rejected        map[string]int64 `json:"rejected"`
	AuditSuppressed int64            `json:"audit_suppressed"`
}

func (s *Stats) reject(code string) {
	s.mu.Lock()
	s.rejected[code]++
	s.mu.Unlock()
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	rejected := make(map[string]int64, len(s.rejected))
	for k, v := range s.rejected {
		rejected[k] = v
	}
	s.mu.Unlock()

	return StatsSnapshot{
		Accepted:        s.accepted.Load(),
		Throttled:       s.throttled.Load(),
		Rejected:        rejected,
		AuditSuppressed: s.auditSuppressed.Load(),
	}
}
