package server

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	apperrors "github.com/handset/host/internal/errors"
)

func TestPipeline_Dispatches(t *testing.T) {
	rig := newTestRig(t)

	res, err := rig.pipeline.Process(context.Background(), TransportHTTP, "10.0.0.2:4000",
		rig.seal(t, "click", map[string]any{"button": "left"}, "abc123"))
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if res.Status != "success" {
		t.Errorf("Status = %q, want success", res.Status)
	}
	if got := rig.exec.Calls(); !reflect.DeepEqual(got, []string{"click(left)"}) {
		t.Errorf("calls = %v", got)
	}

	events := rig.audit.Events()
	if len(events) != 1 || events[0].Code != "" || events[0].Command != "click" || events[0].Nonce != "abc123" {
		t.Errorf("audit events = %+v", events)
	}
	if events[0].At.IsZero() {
		t.Error("audit event should carry a time")
	}
}

func TestPipeline_Rejections(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	fresh := rig.seal(t, "click", nil, "n-1")
	if _, err := rig.pipeline.Process(ctx, TransportHTTP, "r", fresh); err != nil {
		t.Fatalf("first Process error: %v", err)
	}

	var tampered map[string]string
	_ = json.Unmarshal(rig.seal(t, "click", nil, "n-2"), &tampered)
	first := "0"
	if tampered["hmac"][0] == '0' {
		first = "1"
	}
	tampered["hmac"] = first + tampered["hmac"][1:]
	tamperedRaw, _ := json.Marshal(tampered)

	tests := []struct {
		name string
		raw  []byte
		code string
	}{
		{"replay", fresh, apperrors.CodeReplayDuplicate},
		{"expired", rig.sealAt(t, "click", nil, "n-3", time.Now().Add(-2*time.Minute)), apperrors.CodeReplayExpired},
		{"tampered", tamperedRaw, apperrors.CodeEnvelopeAuthFailed},
		{"garbage", []byte("hello"), apperrors.CodeEnvelopeMalformed},
		{"unknown command", rig.seal(t, "teleport", nil, "n-4"), apperrors.CodeCommandUnknown},
		{"invalid data", rig.seal(t, "scroll", map[string]any{}, "n-5"), apperrors.CodeCommandInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rig.pipeline.Process(ctx, TransportHTTP, "r", tt.raw)
			if !apperrors.IsCode(err, tt.code) {
				t.Errorf("error = %v, want %s", err, tt.code)
			}
		})
	}

	if got := len(rig.exec.Calls()); got != 1 {
		t.Errorf("executor calls = %d, want 1", got)
	}

	stats := rig.pipeline.Stats()
	if stats.Accepted != 1 {
		t.Errorf("Accepted = %d, want 1", stats.Accepted)
	}
	for _, tt := range tests {
		if stats.Rejected[tt.code] != 1 {
			t.Errorf("Rejected[%s] = %d, want 1", tt.code, stats.Rejected[tt.code])
		}
	}
	if got := len(rig.audit.Events()); got != 1+len(tests) {
		t.Errorf("audit events = %d, want %d", got, 1+len(tests))
	}
}

func TestPipeline_MotionNotAudited(t *testing.T) {
	rig := newTestRig(t)
	raw := rig.seal(t, "mouse_move_relative", map[string]any{"x": 3, "y": -4}, "m-1")
	if _, err := rig.pipeline.Process(context.Background(), TransportUDP, "r", raw); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if got := rig.exec.Calls(); !reflect.DeepEqual(got, []string{"move(3,-4)"}) {
		t.Errorf("calls = %v", got)
	}
	if n := len(rig.audit.Events()); n != 0 {
		t.Errorf("motion produced %d audit events", n)
	}
}

func TestPipeline_CancelledContextSkipsDispatch(t *testing.T) {
	rig := newTestRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rig.pipeline.Process(ctx, TransportUDP, "r", rig.seal(t, "click", nil, "c-1"))
	if !apperrors.IsCode(err, apperrors.CodeServerBusy) {
		t.Errorf("error = %v, want %s", err, apperrors.CodeServerBusy)
	}
	if len(rig.exec.Calls()) != 0 {
		t.Error("cancelled request reached the executor")
	}
}
