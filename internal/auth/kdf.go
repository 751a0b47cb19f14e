package auth

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/handset/host/internal/errors"
)

// KeySize is the length in bytes of every derived key (AES-256, HMAC-SHA256).
const KeySize = 32

// Strategy names accepted by NewDeriver and the kdf config key.
const (
	KDFSHA256   = "sha256"
	KDFPBKDF2   = "pbkdf2"
	KDFArgon2id = "argon2id"
	KDFHKDF     = "hkdf"
)

// DefaultPBKDF2Iterations follows current OWASP guidance for HMAC-SHA256.
const DefaultPBKDF2Iterations = 210000

// HKDFInfo binds HKDF output to this protocol.
const HKDFInfo = "handset command key v1"

// Deriver turns a pairing secret into a KeySize-byte key.
// Implementations must be deterministic for a given secret and configuration.
type Deriver interface {
	Name() string
	DeriveKey(secret string) ([]byte, error)
}

// SHA256Deriver hashes the secret bytes once. No salt, no stretching.
// Key strength equals the entropy of the pairing code; kept as the default
// because existing companion apps derive keys this way.
type SHA256Deriver struct{}

func (SHA256Deriver) Name() string { return KDFSHA256 }

func (SHA256Deriver) DeriveKey(secret string) ([]byte, error) {
	sum := sha256.Sum256([]byte(secret))
	return sum[:], nil
}

// PBKDF2Deriver stretches the secret with PBKDF2-HMAC-SHA256.
type PBKDF2Deriver struct {
	Salt       []byte
	Iterations int
}

func (d PBKDF2Deriver) Name() string { return KDFPBKDF2 }

func (d PBKDF2Deriver) DeriveKey(secret string) ([]byte, error) {
	if len(d.Salt) == 0 {
		return nil, apperrors.InvalidConfig("kdf_salt", "is required for pbkdf2")
	}
	iter := d.Iterations
	if iter <= 0 {
		iter = DefaultPBKDF2Iterations
	}
	return pbkdf2.Key([]byte(secret), d.Salt, iter, KeySize, sha256.New), nil
}

// Argon2idDeriver uses the memory-hard Argon2id function.
// Zero fields take the RFC 9106 second recommended parameters.
type Argon2idDeriver struct {
	Salt      []byte
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

func (d Argon2idDeriver) Name() string { return KDFArgon2id }

func (d Argon2idDeriver) DeriveKey(secret string) ([]byte, error) {
	if len(d.Salt) == 0 {
		return nil, apperrors.InvalidConfig("kdf_salt", "is required for argon2id")
	}
	t, m, p := d.Time, d.MemoryKiB, d.Threads
	if t == 0 {
		t = 3
	}
	if m == 0 {
		m = 64 * 1024
	}
	if p == 0 {
		p = 4
	}
	return argon2.IDKey([]byte(secret), d.Salt, t, m, p, KeySize), nil
}

// HKDFDeriver extracts and expands the secret with HKDF-SHA256.
// It adds domain separation and a salt but no work factor.
type HKDFDeriver struct {
	Salt []byte
}

func (d HKDFDeriver) Name() string { return KDFHKDF }

func (d HKDFDeriver) DeriveKey(secret string) ([]byte, error) {
	if len(d.Salt) == 0 {
		return nil, apperrors.InvalidConfig("kdf_salt", "is required for hkdf")
	}
	r := hkdf.New(sha256.New, []byte(secret), d.Salt, []byte(HKDFInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// NewDeriver returns the named strategy configured with salt.
// An empty name selects the sha256 default.
func NewDeriver(name, salt string) (Deriver, error) {
	switch name {
	case "", KDFSHA256:
		return SHA256Deriver{}, nil
	case KDFPBKDF2:
		return PBKDF2Deriver{Salt: []byte(salt)}, nil
	case KDFArgon2id:
		return Argon2idDeriver{Salt: []byte(salt)}, nil
	case KDFHKDF:
		return HKDFDeriver{Salt: []byte(salt)}, nil
	default:
		return nil, apperrors.InvalidConfig("kdf", fmt.Sprintf("%q is not one of %v", name, Strategies()))
	}
}

// Strategies lists the supported strategy names in sorted order.
func Strategies() []string {
	names := []string{KDFSHA256, KDFPBKDF2, KDFArgon2id, KDFHKDF}
	sort.Strings(names)
	return names
}

// Salted reports whether the named strategy needs a salt.
func Salted(name string) bool {
	return name == KDFPBKDF2 || name == KDFArgon2id || name == KDFHKDF
}
