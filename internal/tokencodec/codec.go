package tokencodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/keystore"
)

// Envelope scheme versions
const (
	SchemeAESGCM            = 1 // AES-256-GCM, 12-byte nonce
	SchemeXChaCha20Poly1305 = 2 // XChaCha20-Poly1305, 24-byte nonce

	DefaultScheme = SchemeAESGCM
)

type scheme struct {
	nonceSize int
	newAEAD   func(key []byte) (cipher.AEAD, error)
}

var schemes = map[int]scheme{
	SchemeAESGCM: {
		nonceSize: 12,
		newAEAD: func(key []byte) (cipher.AEAD, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewGCM(block)
		},
	},
	SchemeXChaCha20Poly1305: {
		nonceSize: chacha20poly1305.NonceSizeX,
		newAEAD:   chacha20poly1305.NewX,
	},
}

// SupportedScheme reports whether version is a known envelope scheme
func SupportedScheme(version int) bool {
	_, ok := schemes[version]
	return ok
}

// Codec seals payloads with one fixed scheme. Decoding accepts every
// supported scheme, so older envelopes stay readable after an upgrade.
// A Codec is stateless and safe for concurrent use.
type Codec struct {
	version int
}

// New returns a codec sealing with the given scheme version
func New(version int) (*Codec, error) {
	if !SupportedScheme(version) {
		return nil, fmt.Errorf("unsupported envelope scheme %d", version)
	}
	return &Codec{version: version}, nil
}

// Version is the scheme new envelopes are sealed with
func (c *Codec) Version() int {
	return c.version
}

// Encode serializes payload and seals it under key with a fresh nonce
func (c *Codec) Encode(payload any, key keystore.Key) (Envelope, error) {
	plaintext, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload: %w", err)
	}

	aead, err := newAEAD(c.version, key)
	if err != nil {
		return Envelope{}, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, associatedData(c.version, key.ID))
	split := len(sealed) - aead.Overhead()

	return Envelope{
		Version:    c.version,
		KeyID:      key.ID,
		IV:         nonce,
		Ciphertext: sealed[:split:split],
		AuthTag:    sealed[split:],
	}, nil
}

// Decode is the package-level Decode; provided on Codec for callers that
// already hold one.
func (c *Codec) Decode(env Envelope, keys keystore.Resolver, out any) error {
	return Decode(env, keys, out)
}

// Decode verifies env and unpacks its payload into out. Every failure,
// from an unknown key to a flipped bit, is reported as
// apperr.ErrAuthenticationFailure. out is written only after the tag
// has been verified.
func Decode(env Envelope, keys keystore.Resolver, out any) error {
	s, ok := schemes[env.Version]
	if !ok || len(env.IV) != s.nonceSize {
		return apperr.ErrAuthenticationFailure
	}

	key, err := keys.Resolve(env.KeyID)
	if err != nil {
		return apperr.ErrAuthenticationFailure
	}

	aead, err := newAEAD(env.Version, key)
	if err != nil || len(env.AuthTag) != aead.Overhead() {
		return apperr.ErrAuthenticationFailure
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.AuthTag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := aead.Open(nil, env.IV, sealed, associatedData(env.Version, env.KeyID))
	if err != nil {
		return apperr.ErrAuthenticationFailure
	}

	if err := unmarshalPayload(plaintext, out); err != nil {
		return apperr.ErrAuthenticationFailure
	}
	return nil
}

// newAEAD derives the per-scheme key so one master key never feeds two
// different ciphers directly.
func newAEAD(version int, key keystore.Key) (cipher.AEAD, error) {
	s, ok := schemes[version]
	if !ok {
		return nil, fmt.Errorf("unsupported envelope scheme %d", version)
	}
	if len(key.Material) != keystore.KeySize {
		return nil, keystore.ErrKeySize
	}

	info := []byte(fmt.Sprintf("parcelseal/token/v%d", version))
	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key.Material, nil, info), derived); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return s.newAEAD(derived)
}

// associatedData binds the cleartext header so version or keyId edits fail
func associatedData(version int, keyID string) []byte {
	return []byte(fmt.Sprintf("parcelseal:v%d:%s", version, keyID))
}
