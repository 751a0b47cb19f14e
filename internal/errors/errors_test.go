package errors

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CodeReplayDuplicate, "nonce already used"),
			expected: "replay.duplicate: nonce already used",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeActionFailed, "click failed", errors.New("exit status 1")),
			expected: "action.failed: click failed (exit status 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}

	err2 := New(CodeReplayExpired, "stale")
	if err2.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "CodedError", err: AuthFailed(), expected: CodeEnvelopeAuthFailed},
		{name: "wrapped CodedError", err: Wrap(CodeActionFailed, "failed", errors.New("cause")), expected: CodeActionFailed},
		{name: "plain error", err: errors.New("some error"), expected: CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetMessage(t *testing.T) {
	if got := GetMessage(nil); got != "" {
		t.Errorf("GetMessage(nil) = %q, want empty", got)
	}
	if got := GetMessage(Duplicate()); got != "nonce already used" {
		t.Errorf("GetMessage() = %q, want %q", got, "nonce already used")
	}
	if got := GetMessage(errors.New("some error")); got != "some error" {
		t.Errorf("GetMessage() = %q, want %q", got, "some error")
	}
}

func TestToCodeAndMessage(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{name: "nil error"},
		{
			name:        "CodedError",
			err:         UnknownCommand("fly"),
			wantCode:    CodeCommandUnknown,
			wantMessage: "unknown command: fly",
		},
		{
			name:        "plain error",
			err:         errors.New("some error"),
			wantCode:    CodeUnknown,
			wantMessage: "some error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, message := ToCodeAndMessage(tt.err)
			if code != tt.wantCode {
				t.Errorf("ToCodeAndMessage() code = %q, want %q", code, tt.wantCode)
			}
			if message != tt.wantMessage {
				t.Errorf("ToCodeAndMessage() message = %q, want %q", message, tt.wantMessage)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := Expired("timestamp missing")

	if !IsCode(err, CodeReplayExpired) {
		t.Error("IsCode() should return true for matching code")
	}
	if IsCode(err, CodeReplayDuplicate) {
		t.Error("IsCode() should return false for non-matching code")
	}
	if IsCode(nil, CodeReplayExpired) {
		t.Error("IsCode() should return false for nil error")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"", http.StatusOK},
		{CodeEnvelopeAuthFailed, http.StatusUnauthorized},
		{CodeReplayExpired, http.StatusUnauthorized},
		{CodeEnvelopeMalformed, http.StatusBadRequest},
		{CodeEnvelopeDecodeFailed, http.StatusBadRequest},
		{CodeReplayDuplicate, http.StatusConflict},
		{CodeCommandUnknown, http.StatusOK},
		{CodeCommandInvalidData, http.StatusOK},
		{CodeActionFailed, http.StatusOK},
		{CodeServerBusy, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := HTTPStatus(tt.code); got != tt.want {
				t.Errorf("HTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestGetNextAction(t *testing.T) {
	if got := GetNextAction(CodeReplayExpired); !strings.Contains(got, "clock") {
		t.Errorf("GetNextAction(expired) = %q, want clock hint", got)
	}
	if got := GetNextAction("nope.nope"); got != "" {
		t.Errorf("GetNextAction(unknown) = %q, want empty", got)
	}
}

func TestErrorConstructors(t *testing.T) {
	t.Run("AuthFailed", func(t *testing.T) {
		err := AuthFailed()
		if !IsCode(err, CodeEnvelopeAuthFailed) {
			t.Errorf("AuthFailed() code = %q", GetCode(err))
		}
		// The message must not leak which check failed.
		for _, leak := range []string{"hmac", "iv", "padding", "key"} {
			if strings.Contains(strings.ToLower(err.Message), leak) {
				t.Errorf("AuthFailed() message %q mentions %q", err.Message, leak)
			}
		}
	})

	t.Run("InvalidData", func(t *testing.T) {
		err := InvalidData("click", "button", "must be a string")
		if !IsCode(err, CodeCommandInvalidData) {
			t.Errorf("InvalidData() code = %q", GetCode(err))
		}
		if err.Message != `click: field "button" must be a string` {
			t.Errorf("InvalidData() message = %q", err.Message)
		}
	})

	t.Run("ActionFailed", func(t *testing.T) {
		cause := errors.New("xdotool missing")
		err := ActionFailed("type_text", cause)
		if !IsCode(err, CodeActionFailed) {
			t.Errorf("ActionFailed() code = %q", GetCode(err))
		}
		if !errors.Is(err, cause) {
			t.Error("ActionFailed() should preserve cause")
		}
	})

	t.Run("Busy", func(t *testing.T) {
		if !IsCode(Busy(), CodeServerBusy) {
			t.Error("Busy() has wrong code")
		}
	})

	t.Run("Internal", func(t *testing.T) {
		cause := errors.New("db connection lost")
		err := Internal("database error", cause)
		if !IsCode(err, CodeInternal) {
			t.Errorf("Internal() code = %q", GetCode(err))
		}
		if err.Cause != cause {
			t.Error("Internal() should preserve cause")
		}
	})
}

func TestErrorsAs(t *testing.T) {
	coded := Wrap(CodeActionFailed, "wrapped", errors.New("original"))
	wrapped := Wrap(CodeInternal, "double wrapped", coded)

	var target *CodedError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find CodedError in chain")
	}
	if target.Code != CodeInternal {
		t.Errorf("errors.As should find outermost CodedError, got code %q", target.Code)
	}
}

func TestErrorCodes(t *testing.T) {
	codes := []string{
		CodeEnvelopeAuthFailed,
		CodeEnvelopeMalformed,
		CodeEnvelopeDecodeFailed,
		CodeReplayExpired,
		CodeReplayDuplicate,
		CodeCommandUnknown,
		CodeCommandInvalidData,
		CodeActionFailed,
		CodeServerBusy,
		CodeServerInvalidRequest,
		CodeConfigInvalid,
		CodeUnknown,
		CodeInternal,
	}

	for _, code := range codes {
		if !strings.Contains(code, ".") {
			t.Errorf("error code %q should be in format {domain}.{error}", code)
		}
	}
}
