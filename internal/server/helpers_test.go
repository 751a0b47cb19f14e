package server

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/handset/host/internal/auth"
	"github.com/handset/host/internal/dispatch"
	"github.com/handset/host/internal/envelope"
	"github.com/handset/host/internal/replay"
)

// mockExecutor records executor calls.
type mockExecutor struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration
	err   error
	panic bool
}

func (m *mockExecutor) record(call string) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.panic {
		panic("executor exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.err
}

func (m *mockExecutor) Click(button string) error { return m.record("click(" + button + ")") }
func (m *mockExecutor) MoveRelative(dx, dy int) error {
	return m.record(fmt.Sprintf("move(%d,%d)", dx, dy))
}
func (m *mockExecutor) Scroll(direction string) error  { return m.record("scroll(" + direction + ")") }
func (m *mockExecutor) TypeText(text string) error     { return m.record("type(" + text + ")") }
func (m *mockExecutor) PressKey(name string) error     { return m.record("key(" + name + ")") }
func (m *mockExecutor) SetVolume(action string) error  { return m.record("volume(" + action + ")") }
func (m *mockExecutor) MediaControl(action string) error { return m.record("media(" + action + ")") }

func (m *mockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockAudit collects security events.
type mockAudit struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func (a *mockAudit) Record(e SecurityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *mockAudit) Events() []SecurityEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SecurityEvent(nil), a.events...)
}

type testRig struct {
	codec    *envelope.Codec
	guard    *replay.Guard
	exec     *mockExecutor
	audit    *mockAudit
	pipeline *Pipeline
}

// newTestRig wires the real codec, guard and dispatcher around a mock
// executor, keyed by pairing code 482913.
func newTestRig(t *testing.T) *testRig {
	t.Helper()

	p, err := auth.NewPairing(auth.PairingConfig{Code: "482913"})
	if err != nil {
		t.Fatalf("NewPairing: %v", err)
	}
	codec, err := envelope.NewCodec(p.Key)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	guard, err := replay.NewGuard(replay.Config{})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	rig := &testRig{codec: codec, guard: guard, exec: &mockExecutor{}, audit: &mockAudit{}}
	rig.pipeline = NewPipeline(PipelineConfig{
		Codec:      codec,
		Guard:      guard,
		Dispatcher: dispatch.New(dispatch.Config{Executor: rig.exec, MotionInterval: -1}),
		Audit:      rig.audit,
	})
	return rig
}

// seal encrypts a fresh payload for cmd under the rig key.
func (r *testRig) seal(t *testing.T, cmd string, data map[string]any, nonce string) []byte {
	t.Helper()
	return r.sealAt(t, cmd, data, nonce, time.Now())
}

func (r *testRig) sealAt(t *testing.T, cmd string, data map[string]any, nonce string, ts time.Time) []byte {
	t.Helper()
	if data == nil {
		data = map[string]any{}
	}
	raw, err := r.codec.Seal(&envelope.Payload{
		Command:   cmd,
		Data:      data,
		Timestamp: ts.UnixMilli(),
		Nonce:     nonce,
	})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return raw
}

func mustCodec(t *testing.T, key []byte) *envelope.Codec {
	t.Helper()
	c, err := envelope.NewCodec(key)
	if err != nil {
		t.Fatal(err)
	}
	return c
}
