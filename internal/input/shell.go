package input

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/handset/host/internal/logging"
)

// scrollClicks is the number of wheel clicks per scroll command.
const scrollClicks = 3

// volumeStep is the volume change per up/down command.
const volumeStep = "5%"

var keyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_+]+$`)

// keyAliases maps companion key names to X keysyms.
var keyAliases = map[string]string{
	"enter":     "Return",
	"return":    "Return",
	"backspace": "BackSpace",
	"tab":       "Tab",
	"escape":    "Escape",
	"esc":       "Escape",
	"space":     "space",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"delete":    "Delete",
	"home":      "Home",
	"end":       "End",
	"page_up":   "Prior",
	"page_down": "Next",
}

var mediaKeys = map[string]string{
	"play_pause": "XF86AudioPlay",
	"next":       "XF86AudioNext",
	"previous":   "XF86AudioPrev",
}

var buttonNumbers = map[string]string{
	"left":   "1",
	"middle": "2",
	"right":  "3",
}

// ShellExecutor drives X11 input with xdotool and volume with pactl,
// falling back to amixer when pactl fails.
type ShellExecutor struct {
	// execCommand creates exec.Cmd instances. In production, this is exec.Command.
	execCommand func(name string, arg ...string) *exec.Cmd
}

// NewShellExecutor creates a ShellExecutor using the real exec.Command.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{execCommand: exec.Command}
}

// Available reports whether xdotool is on PATH.
func Available() bool {
	_, err := exec.LookPath("xdotool")
	return err == nil
}

func (e *ShellExecutor) run(name string, args ...string) error {
	cmd := e.execCommand(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (e *ShellExecutor) Click(button string) error {
	n, ok := buttonNumbers[button]
	if !ok {
		return fmt.Errorf("unsupported button %q", button)
	}
	return e.run("xdotool", "click", n)
}

func (e *ShellExecutor) MoveRelative(dx, dy int) error {
	return e.run("xdotool", "mousemove_relative", "--", strconv.Itoa(dx), strconv.Itoa(dy))
}

func (e *ShellExecutor) Scroll(direction string) error {
	var button string
	switch direction {
	case "up":
		button = "4"
	case "down":
		button = "5"
	default:
		return fmt.Errorf("unsupported scroll direction %q", direction)
	}
	return e.run("xdotool", "click", "--repeat", strconv.Itoa(scrollClicks), button)
}

func (e *ShellExecutor) TypeText(text string) error {
	return e.run("xdotool", "type", "--delay", "0", "--", text)
}

func (e *ShellExecutor) PressKey(name string) error {
	key, err := keysym(name)
	if err != nil {
		return err
	}
	return e.run("xdotool", "key", "--", key)
}

func (e *ShellExecutor) SetVolume(action string) error {
	var pactl, amixer []string
	switch action {
	case "up":
		pactl = []string{"set-sink-volume", "@DEFAULT_SINK@", "+" + volumeStep}
		amixer = []string{"set", "Master", volumeStep + "+"}
	case "down":
		pactl = []string{"set-sink-volume", "@DEFAULT_SINK@", "-" + volumeStep}
		amixer = []string{"set", "Master", volumeStep + "-"}
	case "mute":
		pactl = []string{"set-sink-mute", "@DEFAULT_SINK@", "toggle"}
		amixer = []string{"set", "Master", "toggle"}
	default:
		return fmt.Errorf("unsupported volume action %q", action)
	}

	err := e.run("pactl", pactl...)
	if err == nil {
		return nil
	}
	logging.Warnf("input: pactl failed, trying amixer: %v", err)
	return e.run("amixer", amixer...)
}

func (e *ShellExecutor) MediaControl(action string) error {
	key, ok := mediaKeys[action]
	if !ok {
		return fmt.Errorf("unsupported media action %q", action)
	}
	return e.run("xdotool", "key", key)
}

// keysym resolves a companion key name to an X keysym.
func keysym(name string) (string, error) {
	if k, ok := keyAliases[strings.ToLower(name)]; ok {
		return k, nil
	}
	if !keyNamePattern.MatchString(name) {
		return "", fmt.Errorf("unsupported key %q", name)
	}
	return name, nil
}
