package nostrkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"wss://x.com":          "wss://x.com",
		"wss://x.com/":         "wss://x.com",
		"wss://x.com////":      "wss://x.com",
		"wss://x.com/path":     "wss://x.com/path",
		"ws://x.com":           "ws://x.com",
		"WSS://X.COM/altPath":  "wss://x.com/altPath",
		"http://x.com/":        "ws://x.com",
		"https://x.com":        "wss://x.com",
		"x.com":                "wss://x.com",
		"x.com/":               "wss://x.com",
		"x.com////":            "wss://x.com",
		"localhost:4036":       "ws://localhost:4036",
		"localhost:4036/relay": "ws://localhost:4036/relay",
		"wss://x.com:4036":     "wss://x.com:4036",
		"ftp://x.com":          "",
	}

	for input, expected := range cases {
		assert.Equal(t, expected, NormalizeURL(input), "input: %q", input)
	}
}
