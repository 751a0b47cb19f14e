package server

import (
	"github.com/handset/host/internal/logging"
	"github.com/handset/host/internal/storage"
)

// AuditStoreAdapter adapts storage.AsyncAuditWriter to AuditSink.
// The server and storage packages define their own event types to avoid
// an import cycle.
type AuditStoreAdapter struct {
	writer *storage.AsyncAuditWriter
}

// NewAuditStoreAdapter wraps w.
func NewAuditStoreAdapter(w *storage.AsyncAuditWriter) *AuditStoreAdapter {
	return &AuditStoreAdapter{writer: w}
}

// Record converts e and queues it. It never blocks.
func (a *AuditStoreAdapter) Record(e SecurityEvent) {
	ok := a.writer.Enqueue(&storage.SecurityEvent{
		Transport:  e.Transport,
		RemoteAddr: e.RemoteAddr,
		Command:    e.Command,
		Nonce:      e.Nonce,
		Code:       e.Code,
		Detail:     e.Detail,
		At:         e.At,
	})
	if !ok {
		logging.Debugf("server: audit queue full, dropped %s event", e.Transport)
	}
}
