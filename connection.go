package nostrkit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/net/proxy"
)

const maxMessageSize = 1 << 20 // 1MB

// connection wraps a websocket so the rest of the engine only deals with
// whole text messages.
type connection struct {
	conn *websocket.Conn
}

func newConnection(ctx context.Context, url string, requestHeader http.Header, proxyAddress string) (*connection, error) {
	httpClient, err := httpClientFor(proxyAddress)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader:      requestHeader,
		HTTPClient:      httpClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)

	return &connection{conn: conn}, nil
}

// httpClientFor returns the client used for the websocket handshake. With a
// proxy address set, all traffic is tunneled through a SOCKS5 proxy (e.g. a
// local Tor daemon for .onion relays).
func httpClientFor(proxyAddress string) (*http.Client, error) {
	if proxyAddress == "" {
		return http.DefaultClient, nil
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to setup socks5 proxy at '%s': %w", proxyAddress, err)
	}

	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext:       dialContext,
			IdleConnTimeout:   90 * time.Second,
			ForceAttemptHTTP2: false,
		},
	}, nil
}

func (c *connection) WriteMessage(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *connection) ReadMessage(ctx context.Context) ([]byte, error) {
	_, message, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return message, nil
}

func (c *connection) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *connection) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
