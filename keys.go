package nostrkit

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fluxnode/nostrkit/nip19"
)

// GeneratePrivateKey returns a new random 32-byte secret key, hex-encoded.
func GeneratePrivateKey() string {
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(sk.Serialize())
}

// GetPublicKey derives the x-only public key for a hex-encoded secret key.
func GetPublicKey(sk string) (string, error) {
	b, err := hex.DecodeString(sk)
	if err != nil {
		return "", fmt.Errorf("secret key '%s' is invalid hex: %w", sk, err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("secret key has %d bytes: %w", len(b), ErrInvalidKey)
	}

	pk := secp256k1.PrivKeyFromBytes(b).PubKey()
	return hex.EncodeToString(pk.SerializeCompressed()[1:]), nil
}

// IsValidPublicKey checks if a string is a 32-byte lowercase hex public key.
func IsValidPublicKey(pk string) bool {
	return len(pk) == 64 && isLowerHex(pk)
}

// ParseKey accepts a secret key as 64 hex characters or as a bech32 "nsec"
// string and returns the hex form.
func ParseKey(input string) (string, error) {
	if len(input) == 64 && isLowerHex(input) {
		return input, nil
	}

	prefix, value, err := nip19.Decode(input)
	if err != nil {
		return "", fmt.Errorf("'%s' is neither hex nor bech32: %w", input, ErrInvalidKey)
	}
	if prefix != "nsec" {
		return "", fmt.Errorf("'%s' is not a secret key: %w", input, ErrInvalidKey)
	}

	return value, nil
}
