package tokencodec

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/xelth-com/parcelseal/internal/apperr"
)

// maxEnvelopeLength bounds what a scanner may submit. A sealed payload with
// a long address is well under 2KB of JSON.
const maxEnvelopeLength = 4096

// Envelope is the versioned wire form of one sealed payload.
// []byte fields marshal as standard base64.
type Envelope struct {
	Version    int    `json:"version"`
	KeyID      string `json:"keyId"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"authTag"`
}

// String renders the envelope as the JSON text printed into QR codes
func (e Envelope) String() string {
	data, err := json.Marshal(e)
	if err != nil {
		// Only ints, strings and byte slices: Marshal cannot fail
		return ""
	}
	return string(data)
}

// ParseEnvelope decodes the JSON text form. It only checks shape; whether
// the envelope is authentic is decided by Decode.
func ParseEnvelope(raw string) (Envelope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Envelope{}, apperr.Validation("empty envelope")
	}
	if len(raw) > maxEnvelopeLength {
		return Envelope{}, apperr.Validation("envelope exceeds %d bytes", maxEnvelopeLength)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, apperr.Validation("malformed envelope: %v", err)
	}
	if dec.More() {
		return Envelope{}, apperr.Validation("trailing data after envelope")
	}

	switch {
	case env.Version <= 0:
		return Envelope{}, apperr.Validation("missing version")
	case env.KeyID == "":
		return Envelope{}, apperr.Validation("missing keyId")
	case len(env.IV) == 0:
		return Envelope{}, apperr.Validation("missing iv")
	case len(env.Ciphertext) == 0:
		return Envelope{}, apperr.Validation("missing ciphertext")
	case len(env.AuthTag) == 0:
		return Envelope{}, apperr.Validation("missing authTag")
	}
	return env, nil
}
