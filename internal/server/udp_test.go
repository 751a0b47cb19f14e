package server

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

func startTestUDP(t *testing.T, rig *testRig, pool *Pool) (*UDPServer, net.Conn) {
	t.Helper()
	s, err := ListenUDP("127.0.0.1:0", rig.pipeline, pool)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Serve did not stop after cancel")
		}
		pool.Close()
	})

	conn, err := net.Dial("udp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestUDP_DispatchesMotion(t *testing.T) {
	rig := newTestRig(t)
	_, conn := startTestUDP(t, rig, NewPool(2, 16))

	for i := 0; i < 5; i++ {
		raw := rig.seal(t, "mouse_move_relative", map[string]any{"x": i, "y": -i}, fmt.Sprintf("m-%d", i))
		if _, err := conn.Write(raw); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	waitFor(t, func() bool { return len(rig.exec.Calls()) == 5 })
}

func TestUDP_DropsBadDatagramsAndKeepsServing(t *testing.T) {
	rig := newTestRig(t)
	_, conn := startTestUDP(t, rig, NewPool(1, 16))

	replayed := rig.seal(t, "click", nil, "once")
	for _, raw := range [][]byte{[]byte("junk"), replayed, replayed, rig.seal(t, "nope", nil, "x")} {
		if _, err := conn.Write(raw); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := conn.Write(rig.seal(t, "scroll", map[string]any{"direction": "up"}, "last")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(rig.exec.Calls()) == 2 })

	// Nothing is ever written back on the low-latency path.
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 64)
	if n, err := conn.Read(buf); err == nil {
		t.Errorf("unexpected reply %q", buf[:n])
	}

	waitFor(t, func() bool {
		s := rig.pipeline.Stats()
		return s.Rejected["envelope.malformed"] == 1 && s.Rejected["replay.duplicate"] == 1 && s.Rejected["command.unknown"] == 1
	})
}

func TestUDP_SlowExecutorDoesNotBlockReceive(t *testing.T) {
	rig := newTestRig(t)
	rig.exec.delay = 200 * time.Millisecond
	pool := NewPool(1, 1)
	_, conn := startTestUDP(t, rig, pool)

	start := time.Now()
	for i := 0; i < 10; i++ {
		if _, err := conn.Write(rig.seal(t, "click", nil, fmt.Sprintf("c-%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	// With one busy worker and a queue of one, most datagrams are dropped
	// rather than waiting behind the executor.
	waitFor(t, func() bool { return pool.Stats().Dropped >= 5 })
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("receive loop stalled for %s", elapsed)
	}
}
