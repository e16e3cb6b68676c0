package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// KeySize is the length of a master key in bytes
const KeySize = 32

var (
	ErrUnknownKey  = errors.New("unknown key id")
	ErrNoActiveKey = errors.New("no active key configured")
	ErrKeySize     = fmt.Errorf("key must be %d bytes", KeySize)
)

// Key is a master key addressed by its id
type Key struct {
	ID       string
	Material []byte
}

// Resolver looks up key material by the id embedded in an envelope
type Resolver interface {
	Resolve(keyID string) (Key, error)
}

// Source supplies the current default key for new issuance
type Source interface {
	Active() (Key, error)
}

// Keyring is a read-mostly, concurrency-safe set of master keys.
// Retired keys stay resolvable so older envelopes keep decoding.
type Keyring struct {
	mu     sync.RWMutex
	keys   map[string]Key
	active string
}

// NewKeyring creates an empty keyring
func NewKeyring() *Keyring {
	return &Keyring{
		keys: make(map[string]Key),
	}
}

// Add registers a key. Re-adding an id with different material is refused.
func (k *Keyring) Add(id string, material []byte) error {
	if id == "" || strings.ContainsAny(id, ":,") {
		return fmt.Errorf("invalid key id %q", id)
	}
	if len(material) != KeySize {
		return ErrKeySize
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.keys[id]; ok {
		if string(existing.Material) != string(material) {
			return fmt.Errorf("key %s is already registered with different material", id)
		}
		return nil
	}

	buf := make([]byte, KeySize)
	copy(buf, material)
	k.keys[id] = Key{ID: id, Material: buf}
	return nil
}

// SetActive selects the key used for new tokens
func (k *Keyring) SetActive(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.keys[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, id)
	}
	k.active = id
	return nil
}

// Rotate adds a new key and makes it active in one step
func (k *Keyring) Rotate(id string, material []byte) error {
	if err := k.Add(id, material); err != nil {
		return err
	}
	return k.SetActive(id)
}

// Active returns the key for new issuance
func (k *Keyring) Active() (Key, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.active == "" {
		return Key{}, ErrNoActiveKey
	}
	return k.keys[k.active], nil
}

// Resolve returns the key registered under keyID
func (k *Keyring) Resolve(keyID string) (Key, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	key, ok := k.keys[keyID]
	if !ok {
		return Key{}, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	return key, nil
}

// IDs lists registered key ids in sorted order
func (k *Keyring) IDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Parse builds a keyring from "id:hex,id:hex" (ENC_KEYS format).
// When activeID is empty the last listed key becomes active.
func Parse(list, activeID string) (*Keyring, error) {
	ring := NewKeyring()
	var last string

	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, hexKey, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("key entry %q must look like id:hex", part)
		}
		material, err := hex.DecodeString(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, fmt.Errorf("key %s: invalid hex: %w", id, err)
		}
		if err := ring.Add(strings.TrimSpace(id), material); err != nil {
			return nil, err
		}
		last = strings.TrimSpace(id)
	}

	if last == "" {
		return nil, ErrNoActiveKey
	}
	if activeID == "" {
		activeID = last
	}
	if err := ring.SetActive(activeID); err != nil {
		return nil, err
	}
	return ring, nil
}

// GenerateKey returns fresh random key material
func GenerateKey() ([]byte, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
