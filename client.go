package nostrkit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ClientOptions configures a Client. The zero value is a read-only client
// that fails fast when used before Connect.
type ClientOptions struct {
	// SecretKey signs published events and AUTH challenges. Accepted as
	// 64 hex characters or a bech32 "nsec" string. Optional: without it
	// the client can only publish pre-signed events.
	SecretKey string

	// RelayOptions are the defaults applied to every relay added through
	// this client (reconnect policy, proxy address, publish timeout).
	RelayOptions RelayOptions

	// FetchTimeout bounds FetchEvents calls whose context carries no
	// deadline. Defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration

	// QueueWhenOffline switches the pre-connect policy for Publish from
	// failing fast (ErrNotConnected) to queueing: queued events are
	// flushed on the next successful Connect.
	QueueWhenOffline bool

	// Store, when set, receives every event fetched through the client
	// and is consulted first by FetchEvents.
	Store Store
}

// Client is the facade composing a relay pool, keys and an optional event
// store. It owns no protocol logic itself.
//
// A Client must be explicitly started with Connect before Publish,
// Subscribe or FetchEvents are meaningful. Calls made before that fail
// fast with ErrNotConnected, unless QueueWhenOffline is set, in which case
// publishes are queued and flushed on the next Connect.
type Client struct {
	Options ClientOptions

	pool *Pool

	secretKey string
	publicKey string

	started atomic.Bool

	queueMu sync.Mutex
	queue   []Event
}

func NewClient(opts ClientOptions) (*Client, error) {
	c := &Client{Options: opts}

	if opts.SecretKey != "" {
		sk, err := ParseKey(opts.SecretKey)
		if err != nil {
			return nil, err
		}
		pk, err := GetPublicKey(sk)
		if err != nil {
			return nil, err
		}
		c.secretKey = sk
		c.publicKey = pk

		// answer relay AUTH challenges with our key
		if opts.RelayOptions.AuthHandler == nil {
			opts.RelayOptions.AuthHandler = func(evt *Event) error {
				return evt.Sign(sk)
			}
		}
	}

	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	c.Options = opts

	c.pool = NewPool(context.Background(), opts.RelayOptions)
	return c, nil
}

// PublicKey returns the hex public key derived from the configured secret
// key, or "" for a read-only client.
func (c *Client) PublicKey() string { return c.publicKey }

// Pool exposes the underlying relay pool for advanced use.
func (c *Client) Pool() *Pool { return c.pool }

// AddRelay registers a relay. Connections are established by Connect.
func (c *Client) AddRelay(url string) error {
	_, err := c.pool.AddRelay(url)
	return err
}

// AddRelayWithOptions registers a relay with per-relay configuration.
func (c *Client) AddRelayWithOptions(url string, opts RelayOptions) error {
	_, err := c.pool.AddRelayWithOptions(url, opts)
	return err
}

func (c *Client) AddRelays(urls ...string) error {
	for _, url := range urls {
		if err := c.AddRelay(url); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) RemoveRelay(url string) error {
	return c.pool.RemoveRelay(url)
}

// Connect starts the client: it dials every registered relay in parallel
// and flushes any offline-queued events. Per-relay dial failures are
// reported in the returned error but leave the client started; failed
// relays keep their registration and can reconnect later.
func (c *Client) Connect(ctx context.Context) error {
	err := c.pool.Connect(ctx)
	c.started.Store(true)

	for _, evt := range c.drainQueue() {
		results := c.pool.Publish(ctx, evt)
		for url, result := range results {
			if result.Err != nil {
				InfoLogger.Printf("flushing queued event %s to %s: %v", evt.ID, url, result.Err)
			}
		}
	}

	return err
}

func (c *Client) drainQueue() []Event {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	queued := c.queue
	c.queue = nil
	return queued
}

// Sign signs the event with the client's secret key, filling ID, PubKey
// and Sig.
func (c *Client) Sign(evt *Event) error {
	if c.secretKey == "" {
		return fmt.Errorf("client has no secret key: %w", ErrInvalidKey)
	}
	return evt.Sign(c.secretKey)
}

// Publish signs the event if needed and fans it out to every relay,
// returning the outcome per relay URL. Pre-signed events are verified
// before anything is sent. Partial failure never makes the whole call
// fail; only an invalid event, an unsigned event without a configured key
// or an unstarted client (with queueing disabled) do.
func (c *Client) Publish(ctx context.Context, evt Event) (map[string]PublishResult, error) {
	if evt.Sig == "" {
		if err := c.Sign(&evt); err != nil {
			return nil, err
		}
	} else if !evt.CheckID() {
		return nil, fmt.Errorf("event id does not match its content: %w", ErrInvalidEvent)
	} else if ok, _ := evt.CheckSignature(); !ok {
		return nil, fmt.Errorf("event signature does not verify: %w", ErrInvalidSignature)
	}

	if !c.started.Load() {
		if !c.Options.QueueWhenOffline {
			return nil, fmt.Errorf("client not started: %w", ErrNotConnected)
		}
		c.queueMu.Lock()
		c.queue = append(c.queue, evt)
		c.queueMu.Unlock()
		return map[string]PublishResult{}, nil
	}

	return c.pool.Publish(ctx, evt), nil
}

// Subscribe opens a deduplicated merged subscription across all relays.
// Received events are mirrored into the configured store.
func (c *Client) Subscribe(ctx context.Context, filters Filters) (chan IncomingEvent, error) {
	if !c.started.Load() && !c.Options.QueueWhenOffline {
		return nil, fmt.Errorf("client not started: %w", ErrNotConnected)
	}

	incoming := c.pool.Subscribe(ctx, filters)
	if c.Options.Store == nil {
		return incoming, nil
	}

	mirrored := make(chan IncomingEvent)
	go func() {
		defer close(mirrored)
		for ievt := range incoming {
			if err := c.Options.Store.SaveEvent(ctx, ievt.Event); err != nil {
				InfoLogger.Printf("failed to store event %s: %v", ievt.Event.ID, err)
			}
			select {
			case mirrored <- ievt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return mirrored, nil
}

// FetchEvents runs a bounded one-shot query. With a store configured the
// store is consulted first and relay results are merged in (and saved);
// without one it is a plain relay query. The result is deduplicated,
// most recent first, capped by the largest filter limit. Unreachable
// relays only shrink the result.
func (c *Client) FetchEvents(ctx context.Context, filters Filters) ([]*Event, error) {
	if !c.started.Load() {
		return nil, fmt.Errorf("client not started: %w", ErrNotConnected)
	}

	seen := make(map[string]bool)
	events := make([]*Event, 0)

	if c.Options.Store != nil {
		for _, filter := range filters {
			stored, err := c.Options.Store.QueryEvents(ctx, filter)
			if err != nil {
				InfoLogger.Printf("store query failed: %v", err)
				continue
			}
			for _, evt := range stored {
				if !seen[evt.ID] {
					seen[evt.ID] = true
					events = append(events, evt)
				}
			}
		}
	}

	fetched := c.pool.FetchEvents(ctx, filters, c.Options.FetchTimeout)
	for _, evt := range fetched {
		if seen[evt.ID] {
			continue
		}
		seen[evt.ID] = true
		events = append(events, evt)
		if c.Options.Store != nil {
			if err := c.Options.Store.SaveEvent(ctx, evt); err != nil {
				InfoLogger.Printf("failed to store event %s: %v", evt.ID, err)
			}
		}
	}

	sortEventsNewestFirst(events)

	limit := 0
	for _, f := range filters {
		if f.Limit > limit {
			limit = f.Limit
		}
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

// Count asks every connected relay how many stored events match the
// filters, reported per relay URL. Relays that fail are skipped.
func (c *Client) Count(ctx context.Context, filters Filters) map[string]int64 {
	counts := make(map[string]int64)
	var mu sync.Mutex
	var wg sync.WaitGroup

	c.pool.relays.Range(func(url string, relay *Relay) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := relay.Count(ctx, filters)
			if err != nil {
				DebugLogger.Printf("count on %s failed: %v", url, err)
				return
			}
			mu.Lock()
			counts[url] = count
			mu.Unlock()
		}()
		return true
	})

	wg.Wait()
	return counts
}

// Shutdown disconnects every relay, ending all subscriptions, and closes
// the configured store. The client can't be restarted.
func (c *Client) Shutdown() {
	c.started.Store(false)
	c.pool.Close()
	if c.Options.Store != nil {
		if err := c.Options.Store.Close(); err != nil {
			InfoLogger.Printf("failed to close store: %v", err)
		}
	}
}
