package server

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/handset/host/internal/auth"
	"github.com/handset/host/internal/dispatch"
	"github.com/handset/host/internal/envelope"
	apperrors "github.com/handset/host/internal/errors"
	"github.com/handset/host/internal/storage"
)

// forgedEnvelope seals a payload under a key the host does not hold.
func forgedEnvelope(t *testing.T, nonce string) []byte {
	t.Helper()
	p, err := auth.NewPairing(auth.PairingConfig{Code: "111111"})
	if err != nil {
		t.Fatalf("NewPairing: %v", err)
	}
	raw, err := mustCodec(t, p.Key).Seal(&envelope.Payload{
		Command:   "click",
		Data:      map[string]any{},
		Timestamp: time.Now().UnixMilli(),
		Nonce:     nonce,
	})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return raw
}

func TestAuditStoreAdapter_GenuineEventSurvivesForgedFlood(t *testing.T) {
	rig := newTestRig(t)

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	const maxRows = 50
	writer := storage.NewAsyncAuditWriter(store, maxRows, 256)

	fixed := time.Now()
	pipeline := NewPipeline(PipelineConfig{
		Codec:      rig.codec,
		Guard:      rig.guard,
		Dispatcher: dispatch.New(dispatch.Config{Executor: rig.exec, MotionInterval: -1}),
		Audit:      NewAuditStoreAdapter(writer),
		TimeNow:    func() time.Time { return fixed },
	})

	ctx := context.Background()
	if _, err := pipeline.Process(ctx, TransportHTTP, "10.0.0.2:4000",
		rig.seal(t, "click", map[string]any{"button": "left"}, "genuine")); err != nil {
		t.Fatalf("Process genuine: %v", err)
	}
	for i := 0; i < maxRows; i++ {
		_, err := pipeline.Process(ctx, TransportUDP, "10.0.0.66:9999", forgedEnvelope(t, "forged"))
		if !apperrors.IsCode(err, apperrors.CodeEnvelopeAuthFailed) {
			t.Fatalf("forged Process error = %v, want %s", err, apperrors.CodeEnvelopeAuthFailed)
		}
	}
	writer.Close()

	counts, err := store.CountSecurityEventsByCode()
	if err != nil {
		t.Fatalf("CountSecurityEventsByCode: %v", err)
	}
	if counts["ok"] != 1 {
		t.Errorf("ok events = %d, want 1 (counts %v)", counts["ok"], counts)
	}
	if got := counts[apperrors.CodeEnvelopeAuthFailed]; got != DefaultUnauthAuditBurst {
		t.Errorf("auth_failed events = %d, want %d", got, DefaultUnauthAuditBurst)
	}

	stats := pipeline.Stats()
	if stats.Rejected[apperrors.CodeEnvelopeAuthFailed] != maxRows {
		t.Errorf("Rejected[auth_failed] = %d, want %d", stats.Rejected[apperrors.CodeEnvelopeAuthFailed], maxRows)
	}
	if want := int64(maxRows - DefaultUnauthAuditBurst); stats.AuditSuppressed != want {
		t.Errorf("AuditSuppressed = %d, want %d", stats.AuditSuppressed, want)
	}
}

func TestPipeline_SuppressedCountReportedLater(t *testing.T) {
	rig := newTestRig(t)

	now := time.Now()
	pipeline := NewPipeline(PipelineConfig{
		Codec:             rig.codec,
		Guard:             rig.guard,
		Dispatcher:        dispatch.New(dispatch.Config{Executor: rig.exec, MotionInterval: -1}),
		Audit:             rig.audit,
		UnauthAuditPerSec: 1,
		UnauthAuditBurst:  1,
		TimeNow:           func() time.Time { return now },
	})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		pipeline.Process(ctx, TransportUDP, "r", []byte("junk"))
	}
	if got := len(rig.audit.Events()); got != 1 {
		t.Fatalf("audit events = %d, want 1", got)
	}

	// Authenticated rejections are never limited.
	pipeline.Process(ctx, TransportHTTP, "r", rig.seal(t, "teleport", nil, "t-1"))
	if got := len(rig.audit.Events()); got != 2 {
		t.Fatalf("audit events = %d, want 2", got)
	}

	now = now.Add(2 * time.Second)
	pipeline.Process(ctx, TransportUDP, "r", []byte("junk"))

	events := rig.audit.Events()
	if len(events) != 3 {
		t.Fatalf("audit events = %d, want 3", len(events))
	}
	last := events[2]
	if last.Code != apperrors.CodeEnvelopeMalformed {
		t.Errorf("last code = %q, want %q", last.Code, apperrors.CodeEnvelopeMalformed)
	}
	if !strings.Contains(last.Detail, "3 similar events suppressed") {
		t.Errorf("last detail = %q, want suppressed count", last.Detail)
	}
}
