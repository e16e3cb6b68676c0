// Package keystore holds the master keys used to seal package tokens.
//
// Keys are addressed by id. Every envelope records the id of the key that
// sealed it, so adding a new active key never affects in-flight decodes of
// older envelopes. Generating and scheduling rotations is left to operators
// (see cmd/genkey).
package keystore
