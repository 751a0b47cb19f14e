package server

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestPool_RunsJobs(t *testing.T) {
	p := NewPool(4, 16)
	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if !p.TrySubmit(func() { defer wg.Done(); n.Add(1) }) {
			wg.Done()
			t.Fatalf("job %d rejected", i)
		}
	}
	wg.Wait()
	p.Close()

	if n.Load() != 10 {
		t.Errorf("ran %d jobs, want 10", n.Load())
	}
	if s := p.Stats(); s.Completed != 10 || s.Dropped != 0 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestPool_DropsWhenFull(t *testing.T) {
	p := NewPool(1, 1)
	block := make(chan struct{})
	started := make(chan struct{})

	if !p.TrySubmit(func() { close(started); <-block }) {
		t.Fatal("first job rejected")
	}
	<-started
	if !p.TrySubmit(func() {}) {
		t.Fatal("queued job rejected")
	}
	if p.TrySubmit(func() {}) {
		t.Error("submit to a full pool should fail without blocking")
	}
	if s := p.Stats(); s.Dropped != 1 || s.Queued != 1 {
		t.Errorf("Stats = %+v, want 1 dropped and 1 queued", s)
	}

	close(block)
	p.Close()
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(1, 4)
	var ran atomic.Bool
	p.TrySubmit(func() { panic("boom") })
	p.TrySubmit(func() { ran.Store(true) })
	p.Close()

	if !ran.Load() {
		t.Error("worker did not survive a panicking job")
	}
	if s := p.Stats(); s.Panics != 1 || s.Completed != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(0, 0)
	p.Close()
	p.Close()
	if p.TrySubmit(func() {}) {
		t.Error("TrySubmit after Close should fail")
	}
}
