// Package cipher implements the pluggable symmetric-encryption layer
// (spec §4.6): whole-file encrypt/decrypt transforms, selected by
// configuration, with an extension suffix reported to MediumStore.
package cipher

import "errors"

// ErrCipherFailure wraps any encrypt/decrypt failure: a non-zero exit
// status from a subprocess cipher, or a cryptographic error.
var ErrCipherFailure = errors.New("cipher failure")

// Cipher is a whole-file symmetric transform.
type Cipher interface {
	Encrypt(inPath, outPath string) error
	Decrypt(inPath, outPath string) error

	// Extension is appended to the archive extension when this cipher
	// is enabled, e.g. "gpg".
	Extension() string
}

// None is the absent-encryptor case: archives flow unchanged.
type None struct{}

func (None) Encrypt(inPath, outPath string) error { return copyFile(inPath, outPath) }
func (None) Decrypt(inPath, outPath string) error { return copyFile(inPath, outPath) }
func (None) Extension() string                    { return "" }

var _ Cipher = None{}
