// Package input provides Action Executors that perform pointer, keyboard,
// volume and media effects on the host.
package input

import (
	"sync/atomic"

	"github.com/handset/host/internal/logging"
)

// LogExecutor logs each action instead of performing it.
// Used for dry runs and on platforms without a shell backend.
type LogExecutor struct {
	calls atomic.Int64
}

// NewLogExecutor creates a LogExecutor.
func NewLogExecutor() *LogExecutor {
	return &LogExecutor{}
}

// Calls returns how many actions were logged.
func (e *LogExecutor) Calls() int64 {
	return e.calls.Load()
}

func (e *LogExecutor) logf(format string, args ...any) error {
	e.calls.Add(1)
	logging.Infof("input: "+format, args...)
	return nil
}

func (e *LogExecutor) Click(button string) error { return e.logf("click %s", button) }

func (e *LogExecutor) MoveRelative(dx, dy int) error { return e.logf("move %+d,%+d", dx, dy) }

func (e *LogExecutor) Scroll(direction string) error { return e.logf("scroll %s", direction) }

// TypeText logs only the length so typed secrets stay out of logs.
func (e *LogExecutor) TypeText(text string) error { return e.logf("type %d bytes", len(text)) }

func (e *LogExecutor) PressKey(name string) error { return e.logf("key %s", name) }

func (e *LogExecutor) SetVolume(action string) error { return e.logf("volume %s", action) }

func (e *LogExecutor) MediaControl(action string) error { return e.logf("media %s", action) }
