// Package nip19 implements bech32 encoding of protocol entities:
// "npub" public keys, "nsec" secret keys and "note" event ids.
package nip19

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Decode decodes a bech32 entity and returns its prefix and the hex-encoded
// 32-byte payload.
func Decode(bech32string string) (prefix string, value string, err error) {
	prefix, bits5, err := bech32.DecodeNoLimit(bech32string)
	if err != nil {
		return "", "", err
	}

	data, err := bech32.ConvertBits(bits5, 5, 8, false)
	if err != nil {
		return prefix, "", fmt.Errorf("failed translating data into 8 bits: %w", err)
	}

	switch prefix {
	case "npub", "nsec", "note":
		if len(data) < 32 {
			return prefix, "", fmt.Errorf("data is less than 32 bytes (%d)", len(data))
		}
		return prefix, hex.EncodeToString(data[0:32]), nil
	}

	return prefix, "", fmt.Errorf("unknown tag %s", prefix)
}

func EncodePrivateKey(privateKeyHex string) (string, error) {
	return encode("nsec", privateKeyHex)
}

func EncodePublicKey(publicKeyHex string) (string, error) {
	return encode("npub", publicKeyHex)
}

func EncodeNote(eventIDHex string) (string, error) {
	return encode("note", eventIDHex)
}

func encode(prefix string, hexpayload string) (string, error) {
	b, err := hex.DecodeString(hexpayload)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s hex: %w", prefix, err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("%s payload must be 32 bytes, got %d", prefix, len(b))
	}

	bits5, err := bech32.ConvertBits(b, 8, 5, true)
	if err != nil {
		return "", err
	}

	return bech32.Encode(prefix, bits5)
}
