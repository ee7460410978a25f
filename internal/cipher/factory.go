package cipher

import "fmt"

// Name identifies a cipher by its configuration string (spec §4.6, §6).
type Name string

const (
	NameNone   Name = ""
	NameGPG    Name = "gpg-symmetric"
	NameAESCBC Name = "aes-cbc-file"
)

// New resolves a configured cipher Name (and passphrase) to its
// implementation. An empty passphrase with NameNone returns None{}.
func New(name Name, passphrase string) (Cipher, error) {
	switch name {
	case NameNone:
		return None{}, nil
	case NameGPG:
		return GPGSymmetric{Passphrase: passphrase}, nil
	case NameAESCBC:
		return AESCBCFile{Passphrase: passphrase}, nil
	default:
		return nil, fmt.Errorf("%w: unknown cipher %q", ErrCipherFailure, name)
	}
}
