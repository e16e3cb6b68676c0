// Package tokencodec seals delivery payloads into versioned AEAD envelopes
// and opens them again.
//
// An envelope carries its scheme version and the id of the master key that
// sealed it. The scheme's AEAD key is derived from the master key with
// HKDF-SHA256, and the version and key id are bound as associated data.
// Decode never distinguishes failure causes: a caller only learns that the
// envelope is not authentic.
package tokencodec
