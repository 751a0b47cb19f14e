// Package auth produces the pairing secret shown on the host and turns it into
// the symmetric key shared with the companion device.
package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	apperrors "github.com/handset/host/internal/errors"
	"github.com/handset/host/internal/logging"
)

const (
	// DefaultCodeLength is the number of digits in a generated pairing code.
	DefaultCodeLength = 6

	// MinCodeLength is the shortest code accepted. Six digits gives a
	// one-in-a-million guess per attempt against the envelope MAC.
	MinCodeLength = 6
)

// PairingConfig holds configuration for a pairing.
type PairingConfig struct {
	// CodeLength is the number of digits to generate.
	// Default: DefaultCodeLength.
	CodeLength int

	// Code pins the pairing code instead of generating one.
	// Used by tests and the keygen command.
	Code string

	// Deriver turns the code into the session key.
	// Default: the unsalted SHA-256 strategy.
	Deriver Deriver

	// TimeNow returns the current time. Useful for testing.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Pairing is the process-lifetime secret and the key derived from it.
// It is created once at startup and never rotated.
type Pairing struct {
	Code      string
	Key       []byte
	KDF       string
	CreatedAt time.Time
}

// NewPairing generates (or accepts) a pairing code and derives its key.
func NewPairing(config PairingConfig) (*Pairing, error) {
	if config.CodeLength == 0 {
		config.CodeLength = DefaultCodeLength
	}
	if config.Deriver == nil {
		config.Deriver = SHA256Deriver{}
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}

	code := config.Code
	if code == "" {
		var err error
		code, err = GenerateCode(config.CodeLength)
		if err != nil {
			return nil, err
		}
	} else if err := ValidateCode(code); err != nil {
		return nil, err
	}

	key, err := config.Deriver.DeriveKey(code)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	logging.Infof("auth: pairing ready (kdf=%s, %d digits)", config.Deriver.Name(), len(code))

	return &Pairing{
		Code:      code,
		Key:       key,
		KDF:       config.Deriver.Name(),
		CreatedAt: config.TimeNow(),
	}, nil
}

// GenerateCode creates a random numeric code of the given length.
// Every digit is drawn uniformly from crypto/rand.
func GenerateCode(length int) (string, error) {
	if length < MinCodeLength {
		return "", apperrors.InvalidConfig("pairing_code_length", fmt.Sprintf("must be at least %d", MinCodeLength))
	}

	const digits = "0123456789"
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		code[i] = digits[n.Int64()]
	}

	return string(code), nil
}

// ValidateCode checks that a user-supplied code has the generated shape.
func ValidateCode(code string) error {
	if len(code) < MinCodeLength {
		return apperrors.InvalidConfig("pairing code", fmt.Sprintf("must be at least %d digits", MinCodeLength))
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return apperrors.InvalidConfig("pairing code", "must contain only digits")
		}
	}
	return nil
}
