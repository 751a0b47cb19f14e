// Package dispatch maps validated command payloads to Executor calls.
package dispatch

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/handset/host/internal/errors"
	"github.com/handset/host/internal/logging"
)

// Command names sent by the companion app.
const (
	CmdClick      = "click"
	CmdMoveRel    = "mouse_move_relative"
	CmdScroll     = "scroll"
	CmdTypeText   = "type_text"
	CmdKeyPress   = "key_press"
	CmdVolume     = "volume"
	CmdMedia      = "media"
	CmdPing       = "ping"
	StatusSuccess = "success"
	StatusPong    = "pong"
)

// DefaultMotionInterval is the minimum spacing between executed motion commands.
const DefaultMotionInterval = 5 * time.Millisecond

// MaxTextLength bounds type_text input.
const MaxTextLength = 4096

// Executor performs the actual input effects on the host.
// Calls are synchronous; the dispatcher does not retry them.
type Executor interface {
	Click(button string) error
	MoveRelative(dx, dy int) error
	Scroll(direction string) error
	TypeText(text string) error
	PressKey(name string) error
	SetVolume(action string) error
	MediaControl(action string) error
}

// Result is the outcome of a dispatched command.
type Result struct {
	// Status is "success", or "pong" for ping.
	Status string

	// Throttled is set when a motion command was dropped by the rate limit.
	Throttled bool
}

// Config holds configuration for a Dispatcher.
type Config struct {
	// Executor performs the actions. Required.
	Executor Executor

	// MotionInterval is the minimum time between executed motion commands.
	// Default: 5ms. Negative disables throttling.
	MotionInterval time.Duration

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Dispatcher validates command data and calls the Executor.
// Apart from the motion limiter it holds no state and is safe for concurrent use.
type Dispatcher struct {
	exec    Executor
	motion  *rate.Limiter
	timeNow func() time.Time
}

// New creates a Dispatcher.
func New(config Config) *Dispatcher {
	if config.MotionInterval == 0 {
		config.MotionInterval = DefaultMotionInterval
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}

	d := &Dispatcher{exec: config.Executor, timeNow: config.TimeNow}
	if config.MotionInterval > 0 {
		d.motion = rate.NewLimiter(rate.Every(config.MotionInterval), 1)
	}
	return d
}

// Commands lists the recognized command names.
func Commands() []string {
	return []string{CmdClick, CmdMoveRel, CmdScroll, CmdTypeText, CmdKeyPress, CmdVolume, CmdMedia, CmdPing}
}

// IsMotion reports whether cmd is the high-frequency motion command.
func IsMotion(cmd string) bool {
	return cmd == CmdMoveRel
}

var (
	buttons    = set("left", "right", "middle")
	directions = set("up", "down")
	volumes    = set("up", "down", "mute")
	media      = set("play_pause", "next", "previous")
)

// Dispatch runs cmd. Errors are command.unknown, command.invalid_data or action.failed.
func (d *Dispatcher) Dispatch(cmd string, data map[string]any) (Result, error) {
	ok := Result{Status: StatusSuccess}
	var err error

	switch cmd {
	case CmdPing:
		return Result{Status: StatusPong}, nil

	case CmdClick:
		button, ferr := optionalEnum(cmd, data, "button", "left", buttons)
		if ferr != nil {
			return Result{}, ferr
		}
		err = d.exec.Click(button)

	case CmdMoveRel:
		dx, ferr := requiredInt(cmd, data, "x")
		if ferr != nil {
			return Result{}, ferr
		}
		dy, ferr := requiredInt(cmd, data, "y")
		if ferr != nil {
			return Result{}, ferr
		}
		if d.motion != nil && !d.motion.AllowN(d.timeNow(), 1) {
			return Result{Status: StatusSuccess, Throttled: true}, nil
		}
		err = d.exec.MoveRelative(dx, dy)

	case CmdScroll:
		dir, ferr := requiredEnum(cmd, data, "direction", directions)
		if ferr != nil {
			return Result{}, ferr
		}
		err = d.exec.Scroll(dir)

	case CmdTypeText:
		text, ferr := requiredString(cmd, data, "text")
		if ferr != nil {
			return Result{}, ferr
		}
		if len(text) > MaxTextLength {
			return Result{}, apperrors.InvalidData(cmd, "text", "is too long")
		}
		err = d.exec.TypeText(text)

	case CmdKeyPress:
		key, ferr := requiredString(cmd, data, "key")
		if ferr != nil {
			return Result{}, ferr
		}
		err = d.exec.PressKey(key)

	case CmdVolume:
		action, ferr := requiredEnum(cmd, data, "action", volumes)
		if ferr != nil {
			return Result{}, ferr
		}
		err = d.exec.SetVolume(action)

	case CmdMedia:
		action, ferr := requiredEnum(cmd, data, "action", media)
		if ferr != nil {
			return Result{}, ferr
		}
		err = d.exec.MediaControl(action)

	default:
		return Result{}, apperrors.UnknownCommand(cmd)
	}

	if err != nil {
		logging.Warnf("dispatch: %s failed: %v", cmd, err)
		return Result{}, apperrors.ActionFailed(cmd, err)
	}
	return ok, nil
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

func requiredString(cmd string, data map[string]any, field string) (string, error) {
	v, ok := data[field]
	if !ok {
		return "", apperrors.InvalidData(cmd, field, "is required")
	}
	s, ok := v.(string)
	if !ok {
		return "", apperrors.InvalidData(cmd, field, "must be a string")
	}
	if s == "" {
		return "", apperrors.InvalidData(cmd, field, "must not be empty")
	}
	return s, nil
}

func requiredEnum(cmd string, data map[string]any, field string, allowed map[string]bool) (string, error) {
	s, err := requiredString(cmd, data, field)
	if err != nil {
		return "", err
	}
	if !allowed[s] {
		return "", apperrors.InvalidData(cmd, field, "has unsupported value "+strconv.Quote(s))
	}
	return s, nil
}

func optionalEnum(cmd string, data map[string]any, field, def string, allowed map[string]bool) (string, error) {
	if _, ok := data[field]; !ok {
		return def, nil
	}
	return requiredEnum(cmd, data, field, allowed)
}

// requiredInt accepts json.Number (from the envelope decoder) and native
// numeric types, rounding fractional deltas.
func requiredInt(cmd string, data map[string]any, field string) (int, error) {
	v, ok := data[field]
	if !ok {
		return 0, apperrors.InvalidData(cmd, field, "is required")
	}

	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, apperrors.InvalidData(cmd, field, "must be a number")
		}
		f = parsed
	case float64:
		f = n
	case int:
		return n, nil
	case int64:
		f = float64(n)
	default:
		return 0, apperrors.InvalidData(cmd, field, "must be a number")
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > 1e6 {
		return 0, apperrors.InvalidData(cmd, field, "is out of range")
	}
	return int(math.Round(f)), nil
}
