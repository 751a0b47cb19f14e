// Package errors provides standardized error codes for the host application.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (envelope, replay, command, action, server)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by companion clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
//
// Every failure in the command channel travels as a *CodedError value up to the
// transport boundary, which converts it into an HTTP response or drops it (UDP).
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes by domain.
// These are stable identifiers that clients can rely on for error handling.
const (
	// Envelope domain - authenticated encryption failures
	CodeEnvelopeAuthFailed   = "envelope.auth_failed"   // MAC mismatch (AuthenticationError)
	CodeEnvelopeMalformed    = "envelope.malformed"     // Wire JSON could not be parsed
	CodeEnvelopeDecodeFailed = "envelope.decode_failed" // Padding or payload structure invalid after MAC success (DecodeError)

	// Replay domain - freshness and uniqueness checks
	CodeReplayExpired   = "replay.expired"   // Timestamp missing or outside tolerance (ExpiredError)
	CodeReplayDuplicate = "replay.duplicate" // Nonce already seen (ReplayError)

	// Command domain - dispatcher validation
	CodeCommandUnknown     = "command.unknown"      // Command name not recognized (UnknownCommandError)
	CodeCommandInvalidData = "command.invalid_data" // Required data field missing or wrong type

	// Action domain - downstream executor failures
	CodeActionFailed = "action.failed" // Action Executor returned an error (ActionExecutionError)

	// Server domain - transport level conditions
	CodeServerBusy           = "server.busy"            // Worker capacity exhausted
	CodeServerInvalidRequest = "server.invalid_request" // Wrong method or oversized body

	// Config domain
	CodeConfigInvalid = "config.invalid" // Configuration value rejected

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "replay.duplicate")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// HTTPStatus maps an error code to the status used by the reliable transport.
// Authentication and decoding failures get transport-level failure statuses;
// soft command failures are reported in the body with 200.
func HTTPStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeEnvelopeAuthFailed, CodeReplayExpired:
		return http.StatusUnauthorized
	case CodeEnvelopeMalformed, CodeEnvelopeDecodeFailed, CodeServerInvalidRequest:
		return http.StatusBadRequest
	case CodeReplayDuplicate:
		return http.StatusConflict
	case CodeCommandUnknown, CodeCommandInvalidData, CodeActionFailed:
		return http.StatusOK
	case CodeServerBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// nextActions holds the single primary recovery hint per code.
var nextActions = map[string]string{
	CodeEnvelopeAuthFailed:   "Re-enter the pairing code shown on the host and retry",
	CodeEnvelopeMalformed:    "Update the companion app; the request was not a valid envelope",
	CodeEnvelopeDecodeFailed: "Update the companion app; the payload format is not supported",
	CodeReplayExpired:        "Sync the phone clock and resend with a fresh timestamp",
	CodeReplayDuplicate:      "Resend with a new nonce",
	CodeCommandUnknown:       "Update the companion app; the host does not know this command",
	CodeCommandInvalidData:   "Check the command arguments and resend",
	CodeActionFailed:         "Check the host logs; the input action could not be performed",
	CodeServerBusy:           "Wait a moment and retry",
	CodeServerInvalidRequest: "POST a JSON envelope to /command",
}

// GetNextAction returns the recovery hint for a code, or an empty string.
func GetNextAction(code string) string {
	return nextActions[code]
}

// Common error constructors for the command channel.

// AuthFailed creates an "envelope.auth_failed" error.
// The message never says which part of the envelope failed.
func AuthFailed() *CodedError {
	return New(CodeEnvelopeAuthFailed, "envelope authentication failed")
}

// Malformed creates an "envelope.malformed" error.
func Malformed(cause error) *CodedError {
	return Wrap(CodeEnvelopeMalformed, "malformed envelope", cause)
}

// DecodeFailed creates an "envelope.decode_failed" error.
func DecodeFailed(reason string, cause error) *CodedError {
	return Wrap(CodeEnvelopeDecodeFailed, reason, cause)
}

// Expired creates a "replay.expired" error.
func Expired(reason string) *CodedError {
	return New(CodeReplayExpired, reason)
}

// Duplicate creates a "replay.duplicate" error.
func Duplicate() *CodedError {
	return New(CodeReplayDuplicate, "nonce already used")
}

// UnknownCommand creates a "command.unknown" error.
func UnknownCommand(command string) *CodedError {
	return New(CodeCommandUnknown, fmt.Sprintf("unknown command: %s", command))
}

// InvalidData creates a "command.invalid_data" error.
func InvalidData(command, field, reason string) *CodedError {
	return New(CodeCommandInvalidData, fmt.Sprintf("%s: field %q %s", command, field, reason))
}

// ActionFailed creates an "action.failed" error.
func ActionFailed(command string, cause error) *CodedError {
	return Wrap(CodeActionFailed, fmt.Sprintf("%s failed", command), cause)
}

// Busy creates a "server.busy" error.
func Busy() *CodedError {
	return New(CodeServerBusy, "server is busy")
}

// InvalidRequest creates a "server.invalid_request" error.
func InvalidRequest(reason string) *CodedError {
	return New(CodeServerInvalidRequest, reason)
}

// InvalidConfig creates a "config.invalid" error.
func InvalidConfig(field, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s %s", field, reason))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
