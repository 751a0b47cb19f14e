package storage

import (
	"sync"
	"sync/atomic"

	"github.com/handset/host/internal/logging"
)

// SecurityEventSaver persists one event. *SQLiteStore implements it.
type SecurityEventSaver interface {
	SaveAndPruneSecurityEvent(e *SecurityEvent, maxRows int) error
}

// DefaultAuditBuffer is the queue length of an AsyncAuditWriter.
const DefaultAuditBuffer = 1024

// AsyncAuditWriter writes events from a single goroutine so callers on the
// command path never wait on SQLite. When the buffer is full the event is
// dropped and counted.
type AsyncAuditWriter struct {
	saver   SecurityEventSaver
	maxRows int
	events  chan *SecurityEvent
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncAuditWriter starts the writer goroutine.
func NewAsyncAuditWriter(saver SecurityEventSaver, maxRows, buffer int) *AsyncAuditWriter {
	if buffer <= 0 {
		buffer = DefaultAuditBuffer
	}
	w := &AsyncAuditWriter{
		saver:   saver,
		maxRows: maxRows,
		events:  make(chan *SecurityEvent, buffer),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *AsyncAuditWriter) run() {
	defer close(w.done)
	for e := range w.events {
		if err := w.saver.SaveAndPruneSecurityEvent(e, w.maxRows); err != nil {
			w.failed.Add(1)
			logging.Errorf("storage: failed to save security event: %v", err)
			continue
		}
		w.written.Add(1)
	}
}

// Enqueue queues e without blocking and reports whether it was accepted.
func (w *AsyncAuditWriter) Enqueue(e *SecurityEvent) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.events <- e:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Close flushes queued events and stops the writer.
func (w *AsyncAuditWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.events)
	w.mu.Unlock()

	<-w.done
	if n := w.dropped.Load(); n > 0 {
		logging.Warnf("storage: audit writer dropped %d events", n)
	}
}

// Written returns how many events were persisted.
func (w *AsyncAuditWriter) Written() int64 { return w.written.Load() }

// Dropped returns how many events were discarded because the buffer was full.
func (w *AsyncAuditWriter) Dropped() int64 { return w.dropped.Load() }
