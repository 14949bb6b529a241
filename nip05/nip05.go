// Package nip05 resolves and verifies DNS-based identifiers of the form
// name@domain against the domain's /.well-known/nostr.json document.
package nip05

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fluxnode/nostrkit"
)

// ProfilePointer is the result of resolving an identifier: the public key
// it maps to and the relays where that key publishes.
type ProfilePointer struct {
	PublicKey string
	Relays    []string
}

var client = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// ParseIdentifier splits a nip05 identifier into name and domain,
// defaulting the name to "_" when only a domain is given.
func ParseIdentifier(fullname string) (name string, domain string, err error) {
	spl := strings.Split(fullname, "@")
	switch len(spl) {
	case 1:
		name = "_"
		domain = spl[0]
	case 2:
		name = spl[0]
		domain = spl[1]
	default:
		return "", "", fmt.Errorf("not a valid identifier")
	}

	if !strings.Contains(domain, ".") {
		return "", "", fmt.Errorf("hostname doesn't have a dot")
	}

	return name, domain, nil
}

// QueryIdentifier resolves an identifier to a profile pointer. A document
// that doesn't list the name yields a pointer with an empty PublicKey.
func QueryIdentifier(ctx context.Context, fullname string) (*ProfilePointer, error) {
	name, domain, err := ParseIdentifier(fullname)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("https://%s/.well-known/nostr.json?name=%s", domain, name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create a request: %w", err)
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	buf, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	doc := gjson.ParseBytes(buf)
	pubkey := doc.Get("names").Get(name).Str
	if pubkey == "" {
		return &ProfilePointer{}, nil
	}
	if !nostrkit.IsValidPublicKey(pubkey) {
		return &ProfilePointer{}, nil
	}

	var relays []string
	for _, entry := range doc.Get("relays").Get(pubkey).Array() {
		if entry.Type == gjson.String {
			relays = append(relays, entry.Str)
		}
	}

	return &ProfilePointer{PublicKey: pubkey, Relays: relays}, nil
}

// Verify checks that an identifier resolves to the expected public key.
func Verify(ctx context.Context, fullname string, expectedPubkey string) (bool, error) {
	pp, err := QueryIdentifier(ctx, fullname)
	if err != nil {
		return false, err
	}
	return pp.PublicKey == expectedPubkey, nil
}
