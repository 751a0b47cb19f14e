// Package envelope implements the authenticated-encryption container carried on
// both command transports.
//
// An envelope is AES-256-CBC with PKCS#7 padding, authenticated by
// HMAC-SHA256 over the transmitted text of the iv and ciphertext fields:
//
//	mac = HMAC-SHA256(key, hex(iv) || base64(ciphertext))
//
// Decode verifies the MAC in constant time before it decodes or decrypts
// anything, so padding and structure errors are only observable to a holder of
// the key.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	apperrors "github.com/handset/host/internal/errors"
)

const (
	// KeySize is the required key length in bytes.
	KeySize = 32

	// IVSize is the CBC initialization vector length.
	IVSize = aes.BlockSize

	// MACSize is the HMAC-SHA256 tag length.
	MACSize = sha256.Size

	// MaxNonceLength bounds the nonce stored by the replay guard.
	MaxNonceLength = 128

	// MaxWireSize is the largest encoded envelope either transport accepts.
	MaxWireSize = 64 * 1024
)

// Envelope is the wire container. Fields hold the transmitted text, not raw
// bytes, because the MAC is defined over that text.
type Envelope struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	HMAC       string `json:"hmac"`
}

// Payload is the plaintext command structure inside an Envelope.
//
// Decode returns payloads in canonical form: numbers in Data (at any depth)
// are json.Number, nested objects are map[string]any, arrays are []any, and
// a nil Data becomes an empty map. Encode accepts any JSON-marshalable Data,
// so Decode(Encode(p)) equals p only when p is already canonical.
type Payload struct {
	Command   string         `json:"command"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
	Nonce     string         `json:"nonce"`
}

// ParseWire parses the JSON wire form of an envelope.
// Missing fields are left empty and fail authentication in Decode.
func ParseWire(raw []byte) (*Envelope, error) {
	if len(raw) > MaxWireSize {
		return nil, apperrors.Malformed(fmt.Errorf("envelope is %d bytes", len(raw)))
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.Malformed(err)
	}
	return &env, nil
}

// Marshal returns the JSON wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Encode serializes p, encrypts it under a fresh random IV and signs the result.
func Encode(p *Payload, key []byte) (*Envelope, error) {
	return encodeWithIV(p, key, rand.Reader)
}

func encodeWithIV(p *Payload, key []byte, random io.Reader) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: key must be %d bytes, got %d", KeySize, len(key))
	}

	plaintext, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(random, iv); err != nil {
		return nil, fmt.Errorf("envelope: read iv: %w", err)
	}
	return encryptRaw(key, iv, plaintext)
}

// encryptRaw pads, encrypts and signs plaintext under the given IV.
func encryptRaw(key, iv, plaintext []byte) (*Envelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	env := &Envelope{
		IV:         hex.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	env.HMAC = hex.EncodeToString(computeMAC(key, env.IV, env.Ciphertext))
	return env, nil
}

// Decode authenticates env and returns its payload.
//
// Failures are envelope.auth_failed when the MAC does not verify and
// envelope.decode_failed for anything wrong after that.
func Decode(env *Envelope, key []byte) (*Payload, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: key must be %d bytes, got %d", KeySize, len(key))
	}

	// Authenticate first. Nothing below runs on unauthenticated input.
	received, err := hex.DecodeString(env.HMAC)
	if err != nil || len(received) != MACSize {
		return nil, apperrors.AuthFailed()
	}
	if !hmac.Equal(received, computeMAC(key, env.IV, env.Ciphertext)) {
		return nil, apperrors.AuthFailed()
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != IVSize {
		return nil, apperrors.DecodeFailed("invalid iv", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, apperrors.DecodeFailed("invalid ciphertext encoding", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, apperrors.DecodeFailed("ciphertext is not a whole number of blocks", nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.Internal("cipher setup", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, apperrors.DecodeFailed("invalid padding", err)
	}

	return parsePayload(plaintext)
}

func parsePayload(plaintext []byte) (*Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, apperrors.DecodeFailed("invalid payload", err)
	}
	if dec.More() {
		return nil, apperrors.DecodeFailed("trailing data after payload", nil)
	}

	switch {
	case p.Command == "":
		return nil, apperrors.DecodeFailed("payload has no command", nil)
	case p.Nonce == "":
		return nil, apperrors.DecodeFailed("payload has no nonce", nil)
	case len(p.Nonce) > MaxNonceLength:
		return nil, apperrors.DecodeFailed("nonce too long", nil)
	}
	if p.Data == nil {
		p.Data = map[string]any{}
	}
	return &p, nil
}

// computeMAC signs the transmitted text of iv and ciphertext.
func computeMAC(key []byte, iv, ciphertext string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(iv))
	mac.Write([]byte(ciphertext))
	return mac.Sum(nil)
}

// Codec binds a key so callers do not pass it around.
type Codec struct {
	key []byte
}

// NewCodec returns a Codec for key, which must be KeySize bytes.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Codec{key: k}, nil
}

// Encode encrypts p under the codec key.
func (c *Codec) Encode(p *Payload) (*Envelope, error) {
	return Encode(p, c.key)
}

// Decode authenticates and decrypts env under the codec key.
func (c *Codec) Decode(env *Envelope) (*Payload, error) {
	return Decode(env, c.key)
}

// Open parses raw wire bytes and decodes them.
func (c *Codec) Open(raw []byte) (*Payload, error) {
	env, err := ParseWire(raw)
	if err != nil {
		return nil, err
	}
	return Decode(env, c.key)
}

// Seal encodes p and returns the JSON wire form.
func (c *Codec) Seal(p *Payload) ([]byte, error) {
	env, err := Encode(p, c.key)
	if err != nil {
		return nil, err
	}
	return env.Marshal()
}
