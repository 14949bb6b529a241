package nostrkit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	DefaultFetchTimeout = 10 * time.Second

	seenAlreadyDropTick = time.Minute
)

// Pool owns a set of relay connections keyed by normalized URL. It is the
// only mutator of its connection map; callers interact through pool
// operations. Fan-out operations never fail as a whole because one relay
// failed: outcomes are reported per relay.
type Pool struct {
	relays *xsync.MapOf[string, *Relay]

	// RelayOptions are applied to every relay added without explicit
	// options.
	RelayOptions RelayOptions

	Context context.Context
	cancel  context.CancelFunc
}

// IncomingEvent is an event surfaced by a pool subscription, annotated
// with the relay that delivered it first.
type IncomingEvent struct {
	*Event
	RelayURL string
}

func NewPool(ctx context.Context, defaultRelayOptions RelayOptions) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		relays:       xsync.NewMapOf[string, *Relay](),
		RelayOptions: defaultRelayOptions,
		Context:      ctx,
		cancel:       cancel,
	}
}

// AddRelay registers a relay without dialing it; call Connect (or
// EnsureRelay) to establish connections. Fails fast only on URLs that
// can't be normalized. Adding an already-present URL is a no-op.
func (pool *Pool) AddRelay(url string) (*Relay, error) {
	return pool.AddRelayWithOptions(url, pool.RelayOptions)
}

func (pool *Pool) AddRelayWithOptions(url string, opts RelayOptions) (*Relay, error) {
	nm := NormalizeURL(url)
	if nm == "" {
		return nil, fmt.Errorf("'%s': %w", url, ErrInvalidRelayURL)
	}

	if relay, ok := pool.relays.Load(nm); ok {
		return relay, nil
	}

	relay, err := NewRelay(nm, opts)
	if err != nil {
		return nil, err
	}
	pool.relays.Store(nm, relay)
	return relay, nil
}

// RemoveRelay closes the relay's connection, ending its subscriptions, and
// drops it from the pool.
func (pool *Pool) RemoveRelay(url string) error {
	nm := NormalizeURL(url)
	relay, ok := pool.relays.LoadAndDelete(nm)
	if !ok {
		return fmt.Errorf("relay '%s' not in pool", url)
	}
	return relay.Close()
}

// Relay returns the member connection for a URL, if present.
func (pool *Pool) Relay(url string) (*Relay, bool) {
	return pool.relays.Load(NormalizeURL(url))
}

// Relays returns the URLs of all member relays.
func (pool *Pool) Relays() []string {
	urls := make([]string, 0, pool.relays.Size())
	pool.relays.Range(func(url string, _ *Relay) bool {
		urls = append(urls, url)
		return true
	})
	return urls
}

// Connect dials every member relay in parallel. Per-relay failures are
// joined into the returned error but don't prevent the other connections;
// relays that fail here stay registered and can be retried.
func (pool *Pool) Connect(ctx context.Context) error {
	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup

	pool.relays.Range(func(url string, relay *Relay) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Connect(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
		return true
	})

	wg.Wait()
	return errors.Join(errs...)
}

// EnsureRelay returns the relay for the given URL, adding and connecting
// it as needed.
func (pool *Pool) EnsureRelay(url string) (*Relay, error) {
	relay, err := pool.AddRelay(url)
	if err != nil {
		return nil, err
	}
	if relay.IsConnected() {
		return relay, nil
	}

	ctx, cancel := context.WithTimeout(pool.Context, defaultConnectTimeout)
	defer cancel()
	if err := relay.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return relay, nil
}

// Publish fans the event out to every member relay in parallel and
// reports the outcome per relay URL. It never fails as a whole: an
// unreachable relay yields a Pending outcome with Err set.
func (pool *Pool) Publish(ctx context.Context, event Event) map[string]PublishResult {
	results := make(map[string]PublishResult)
	var mu sync.Mutex
	var wg sync.WaitGroup

	pool.relays.Range(func(url string, relay *Relay) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := relay.Publish(ctx, event)
			mu.Lock()
			results[url] = result
			mu.Unlock()
		}()
		return true
	})

	wg.Wait()
	return results
}

// Subscribe opens the same subscription on every member relay and merges
// the streams, deduplicating by event id with first-seen-wins ordering.
// The returned channel is closed when ctx is canceled or every member
// stream ends.
func (pool *Pool) Subscribe(ctx context.Context, filters Filters) chan IncomingEvent {
	return pool.subMany(ctx, filters, true)
}

// SubscribeNonUnique is like Subscribe, but delivers duplicate events when
// they come from different relays.
func (pool *Pool) SubscribeNonUnique(ctx context.Context, filters Filters) chan IncomingEvent {
	return pool.subMany(ctx, filters, false)
}

func (pool *Pool) subMany(ctx context.Context, filters Filters, unique bool) chan IncomingEvent {
	ctx, cancel := context.WithCancel(ctx)

	events := make(chan IncomingEvent)
	seenAlready := xsync.NewMapOf[string, Timestamp]()
	ticker := time.NewTicker(seenAlreadyDropTick)
	var wg sync.WaitGroup

	pool.relays.Range(func(url string, relay *Relay) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()

			sub, err := relay.Subscribe(ctx, filters)
			if err != nil {
				DebugLogger.Printf("error subscribing to %s with %v: %s", url, filters, err)
				return
			}

			eose := false
			for {
				select {
				case evt, more := <-sub.Events:
					if !more {
						// relay was closed for good
						return
					}
					if unique {
						if _, seen := seenAlready.LoadOrStore(evt.ID, evt.CreatedAt); seen {
							continue
						}
					}
					select {
					case events <- IncomingEvent{Event: evt, RelayURL: url}:
					case <-ctx.Done():
						return
					}
				case <-sub.EndOfStoredEvents:
					eose = true
				case <-ticker.C:
					// the dedup window: ids older than a tick are
					// forgotten once stored events were drained
					if eose {
						old := Timestamp(time.Now().Add(-seenAlreadyDropTick).Unix())
						seenAlready.Range(func(id string, value Timestamp) bool {
							if value < old {
								seenAlready.Delete(id)
							}
							return true
						})
					}
				case reason := <-sub.ClosedReason:
					InfoLogger.Printf("CLOSED from %s: '%s'", url, reason)
					return
				case <-ctx.Done():
					return
				}
			}
		}()
		return true
	})

	go func() {
		// only this goroutine closes the channel, no matter how many
		// legs end at once
		wg.Wait()
		ticker.Stop()
		cancel()
		close(events)
	}()

	return events
}

// FetchEvents is a bounded one-shot query: it collects matching events
// from every member relay until each one reports end-of-stored-events or
// the timeout elapses, then returns the deduplicated result, most recent
// first, capped by the largest filter limit. Unreachable, slow or
// misbehaving relays only shrink the result, never fail the call.
func (pool *Pool) FetchEvents(ctx context.Context, filters Filters, timeout time.Duration) []*Event {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limit := 0
	for _, f := range filters {
		if f.Limit > limit {
			limit = f.Limit
		}
	}

	events := make([]*Event, 0)
	for ievt := range pool.fetchMany(ctx, filters) {
		events = append(events, ievt.Event)
	}

	sortEventsNewestFirst(events)

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

func sortEventsNewestFirst(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt > events[j].CreatedAt
	})
}

// fetchMany is like subMany, but every relay leg stops at its
// end-of-stored-events marker.
func (pool *Pool) fetchMany(ctx context.Context, filters Filters) chan IncomingEvent {
	ctx, cancel := context.WithCancel(ctx)

	events := make(chan IncomingEvent)
	seenAlready := xsync.NewMapOf[string, bool]()
	var wg sync.WaitGroup

	pool.relays.Range(func(url string, relay *Relay) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()

			sub, err := relay.Subscribe(ctx, filters)
			if err != nil {
				DebugLogger.Printf("error subscribing to %s with %v: %s", url, filters, err)
				return
			}
			defer sub.Unsub()

			for {
				select {
				case evt, more := <-sub.Events:
					if !more {
						return
					}
					if _, seen := seenAlready.LoadOrStore(evt.ID, true); seen {
						continue
					}
					select {
					case events <- IncomingEvent{Event: evt, RelayURL: url}:
					case <-ctx.Done():
						return
					}
				case <-sub.EndOfStoredEvents:
					return
				case reason := <-sub.ClosedReason:
					InfoLogger.Printf("CLOSED from %s: '%s'", url, reason)
					return
				case <-ctx.Done():
					return
				}
			}
		}()
		return true
	})

	go func() {
		// this will happen when all relay legs get an EOSE (or die)
		wg.Wait()
		cancel()
		close(events)
	}()

	return events
}

// QuerySingle returns the first event delivered by any relay for the
// filter, or nil when none arrives before the timeout.
func (pool *Pool) QuerySingle(ctx context.Context, filter Filter, timeout time.Duration) *IncomingEvent {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for ievt := range pool.fetchMany(ctx, Filters{filter}) {
		return &ievt
	}
	return nil
}

// Close shuts down every member relay and the pool itself.
func (pool *Pool) Close() {
	pool.relays.Range(func(url string, relay *Relay) bool {
		pool.relays.Delete(url)
		relay.Close()
		return true
	})
	pool.cancel()
}
