package nostrkit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type RelayStatus int32

const (
	RelayDisconnected RelayStatus = iota
	RelayConnecting
	RelayConnected
	RelayDisconnecting
	RelayTerminated
)

func (s RelayStatus) String() string {
	switch s {
	case RelayDisconnected:
		return "disconnected"
	case RelayConnecting:
		return "connecting"
	case RelayConnected:
		return "connected"
	case RelayDisconnecting:
		return "disconnecting"
	case RelayTerminated:
		return "terminated"
	}
	return "unknown"
}

const (
	DefaultPublishTimeout = 7 * time.Second

	defaultConnectTimeout    = 7 * time.Second
	defaultReconnectInitial  = 3 * time.Second
	defaultReconnectMax      = time.Minute
	defaultWriteQueueTimeout = 10 * time.Second
)

type RelayOptions struct {
	// RequestHeader is sent along with the websocket handshake.
	RequestHeader http.Header

	// ProxyAddress routes the connection through a SOCKS5 proxy
	// (host:port), e.g. a local Tor daemon for .onion relays.
	ProxyAddress string

	// PublishTimeout bounds the wait for an OK acknowledgment when the
	// caller's context carries no deadline. Defaults to DefaultPublishTimeout.
	PublishTimeout time.Duration

	// ReconnectInitialInterval and ReconnectMaxInterval bound the
	// exponential backoff applied after an unexpected drop.
	// Defaults: 3s initial, 1m max.
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration

	// ReconnectMaxAttempts caps reconnection attempts; 0 retries forever.
	ReconnectMaxAttempts int

	// DisableReconnect terminates the relay on the first unexpected drop.
	DisableReconnect bool

	// AuthHandler, when set, is called to sign the auth event built in
	// response to a relay AUTH challenge. Leaving it nil disables
	// automatic authentication.
	AuthHandler func(*Event) error
}

// Relay is a connection to one remote relay: a state machine going
// Disconnected -> Connecting -> Connected, back to Disconnected on an
// unexpected drop (with automatic reconnection and subscription replay),
// and through Disconnecting to Terminated on Close.
//
// All methods are safe for concurrent use. Outbound messages are
// serialized through a single write loop, so concurrent publishes to the
// same relay keep their ordering.
type Relay struct {
	URL     string
	Options RelayOptions

	status     atomic.Int32
	connection *connection
	connMu     sync.Mutex

	subscriptions *xsync.MapOf[string, *Subscription]
	okCallbacks   *xsync.MapOf[string, func(bool, string)]
	countResults  *xsync.MapOf[string, chan int64]

	writeQueue chan writeRequest

	challenge   string
	challengeMu sync.Mutex

	// ctx lives for the whole relay lifetime and is canceled on Close.
	ctx    context.Context
	cancel context.CancelFunc
}

type writeRequest struct {
	msg    []byte
	answer chan error
}

// NewRelay creates a relay handle without connecting.
// It fails fast on URLs that don't normalize to a websocket address.
func NewRelay(url string, opts RelayOptions) (*Relay, error) {
	nm := NormalizeURL(url)
	if nm == "" {
		return nil, fmt.Errorf("'%s': %w", url, ErrInvalidRelayURL)
	}

	if opts.PublishTimeout == 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.ReconnectInitialInterval == 0 {
		opts.ReconnectInitialInterval = defaultReconnectInitial
	}
	if opts.ReconnectMaxInterval == 0 {
		opts.ReconnectMaxInterval = defaultReconnectMax
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		URL:           nm,
		Options:       opts,
		subscriptions: xsync.NewMapOf[string, *Subscription](),
		okCallbacks:   xsync.NewMapOf[string, func(bool, string)](),
		countResults:  xsync.NewMapOf[string, chan int64](),
		writeQueue:    make(chan writeRequest),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// RelayConnect is a convenience that creates a relay and connects it.
func RelayConnect(ctx context.Context, url string, opts RelayOptions) (*Relay, error) {
	r, err := NewRelay(url, opts)
	if err != nil {
		return nil, err
	}
	if err := r.Connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Relay) String() string { return r.URL }

func (r *Relay) Status() RelayStatus { return RelayStatus(r.status.Load()) }

func (r *Relay) IsConnected() bool { return r.Status() == RelayConnected }

// Connect tries to establish the websocket connection to r.URL.
// If the context expires before the connection is complete, an error is
// returned. Once successfully connected, context expiration has no effect:
// call r.Close to close the connection.
func (r *Relay) Connect(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}
	return r.connect(ctx, false)
}

func (r *Relay) connect(ctx context.Context, resend bool) error {
	if !r.status.CompareAndSwap(int32(RelayDisconnected), int32(RelayConnecting)) {
		switch r.Status() {
		case RelayTerminated:
			return ErrRelayClosed
		default:
			// already connecting or connected
			return nil
		}
	}

	conn, err := newConnection(ctx, r.URL, r.Options.RequestHeader, r.Options.ProxyAddress)
	if err != nil {
		r.status.CompareAndSwap(int32(RelayConnecting), int32(RelayDisconnected))
		return fmt.Errorf("error opening websocket to '%s': %w", r.URL, err)
	}

	r.connMu.Lock()
	r.connection = conn
	r.connMu.Unlock()

	r.status.Store(int32(RelayConnected))

	connCtx, connCancel := context.WithCancel(r.ctx)
	go r.writeLoop(conn, connCtx)
	go r.readLoop(conn, connCtx, connCancel)

	// replay the subscription table
	r.subscriptions.Range(func(id string, sub *Subscription) bool {
		if err := sub.fire(resend); err != nil {
			InfoLogger.Printf("{%s} failed to resend subscription %s: %v", r.URL, id, err)
		}
		return true
	})

	return nil
}

func (r *Relay) writeLoop(conn *connection, connCtx context.Context) {
	for {
		select {
		case <-connCtx.Done():
			return
		case wr := <-r.writeQueue:
			DebugLogger.Printf("{%s} sending %s", r.URL, wr.msg)
			err := conn.WriteMessage(connCtx, wr.msg)
			if wr.answer != nil {
				wr.answer <- err
			}
		}
	}
}

// write queues a message for the current connection and waits for the
// write to happen. Ordering between concurrent writers follows queue order.
func (r *Relay) write(msg []byte) error {
	if r.Status() != RelayConnected {
		return ErrNotConnected
	}

	answer := make(chan error, 1)
	select {
	case r.writeQueue <- writeRequest{msg: msg, answer: answer}:
	case <-r.ctx.Done():
		return ErrRelayClosed
	case <-time.After(defaultWriteQueueTimeout):
		return ErrNotConnected
	}

	select {
	case err := <-answer:
		return err
	case <-r.ctx.Done():
		return ErrRelayClosed
	}
}

func (r *Relay) readLoop(conn *connection, connCtx context.Context, connCancel context.CancelFunc) {
	defer connCancel()

	for {
		message, err := conn.ReadMessage(connCtx)
		if err != nil {
			conn.Close()
			r.handleDisconnect()
			return
		}

		DebugLogger.Printf("{%s} %s", r.URL, message)

		envelope := ParseMessage(message)
		if envelope == nil {
			InfoLogger.Printf("{%s} dropping malformed message '%s'", r.URL, message)
			continue
		}

		switch env := envelope.(type) {
		case *NoticeEnvelope:
			InfoLogger.Printf("{%s} NOTICE: '%s'", r.URL, string(*env))
		case *AuthEnvelope:
			if env.Challenge == nil {
				continue
			}
			r.challengeMu.Lock()
			r.challenge = *env.Challenge
			r.challengeMu.Unlock()
			if r.Options.AuthHandler != nil {
				go func() {
					ctx, cancel := context.WithTimeout(r.ctx, r.Options.PublishTimeout)
					defer cancel()
					if result := r.Auth(ctx, r.Options.AuthHandler); result.Err != nil {
						InfoLogger.Printf("{%s} auth failed: %v", r.URL, result.Err)
					}
				}()
			}
		case *EventEnvelope:
			if env.SubscriptionID == nil {
				continue
			}
			sub, ok := r.subscriptions.Load(*env.SubscriptionID)
			if !ok {
				DebugLogger.Printf("{%s} no subscription with id '%s'", r.URL, *env.SubscriptionID)
				continue
			}

			// never surface an event we cannot verify
			if ok, err := env.Event.CheckSignature(); !ok {
				InfoLogger.Printf("{%s} bad signature on %s: %v", r.URL, env.Event.ID, err)
				continue
			}

			// check that the event matches the subscription's filters,
			// ignore otherwise
			if !sub.Filters.Match(&env.Event) {
				DebugLogger.Printf("{%s} filter does not match %s", r.URL, env.Event.ID)
				continue
			}

			evt := env.Event
			sub.dispatchEvent(&evt)
		case *EOSEEnvelope:
			if sub, ok := r.subscriptions.Load(string(*env)); ok {
				sub.dispatchEose()
			}
		case *ClosedEnvelope:
			if sub, ok := r.subscriptions.Load(env.SubscriptionID); ok {
				sub.dispatchClosed(env.Reason)
			}
		case *OKEnvelope:
			if okCallback, ok := r.okCallbacks.Load(env.EventID); ok {
				okCallback(env.OK, env.Reason)
			} else {
				InfoLogger.Printf("{%s} got an unexpected OK message for event %s", r.URL, env.EventID)
			}
		case *CountEnvelope:
			if env.Count == nil {
				continue
			}
			if ch, ok := r.countResults.Load(env.SubscriptionID); ok {
				ch <- *env.Count
			}
		case *UnknownEnvelope:
			InfoLogger.Printf("{%s} unknown message label '%s': %s", r.URL, env.MessageLabel, env.Raw)
		}
	}
}

// handleDisconnect runs when the read loop dies while we believed the
// connection was healthy. Explicit Close moves the status away from
// Connected first, so it never triggers reconnection.
func (r *Relay) handleDisconnect() {
	if !r.status.CompareAndSwap(int32(RelayConnected), int32(RelayDisconnected)) {
		return
	}

	InfoLogger.Printf("{%s} connection dropped", r.URL)

	if r.Options.DisableReconnect {
		r.terminate()
		return
	}

	go r.reconnectLoop()
}

func (r *Relay) reconnectLoop() {
	interval := r.Options.ReconnectInitialInterval
	attempts := 0

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(interval):
		}

		if r.Status() != RelayDisconnected {
			return
		}

		attempts++
		ctx, cancel := context.WithTimeout(r.ctx, defaultConnectTimeout)
		err := r.connect(ctx, true)
		cancel()
		if err == nil {
			InfoLogger.Printf("{%s} reconnected after %d attempts", r.URL, attempts)
			return
		}

		DebugLogger.Printf("{%s} reconnect attempt %d failed: %v", r.URL, attempts, err)
		if r.Options.ReconnectMaxAttempts > 0 && attempts >= r.Options.ReconnectMaxAttempts {
			InfoLogger.Printf("{%s} giving up after %d reconnect attempts", r.URL, attempts)
			r.terminate()
			return
		}

		// the next time we try we will wait longer
		interval = interval * 17 / 10
		if interval > r.Options.ReconnectMaxInterval {
			interval = r.Options.ReconnectMaxInterval
		}
	}
}

type PublishStatus int

const (
	// PublishStatusPending means no acknowledgment arrived within the
	// timeout, or the relay was unreachable; the event may or may not
	// have been stored.
	PublishStatusPending PublishStatus = iota

	// PublishStatusAccepted means the relay acknowledged the event.
	PublishStatusAccepted

	// PublishStatusRejected means the relay refused the event.
	PublishStatusRejected
)

func (s PublishStatus) String() string {
	switch s {
	case PublishStatusPending:
		return "pending"
	case PublishStatusAccepted:
		return "accepted"
	case PublishStatusRejected:
		return "rejected"
	}
	return "unknown"
}

type PublishResult struct {
	RelayURL string
	Status   PublishStatus

	// Reason carries the server-provided message on Accepted/Rejected.
	Reason string

	// Err is set on transport or timeout failures; such results are
	// always Pending.
	Err error
}

// Publish sends the event and waits for an OK acknowledgment. The wait is
// always bounded: by the context deadline when there is one, otherwise by
// Options.PublishTimeout. Publish never blocks indefinitely and never
// panics on an unreachable relay; it reports the outcome instead.
func (r *Relay) Publish(ctx context.Context, event Event) PublishResult {
	result := PublishResult{RelayURL: r.URL, Status: PublishStatusPending}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Options.PublishTimeout)
		defer cancel()
	}

	gotResult := make(chan PublishResult, 1)
	r.okCallbacks.Store(event.ID, func(ok bool, reason string) {
		res := PublishResult{RelayURL: r.URL, Reason: reason}
		if ok {
			res.Status = PublishStatusAccepted
		} else {
			res.Status = PublishStatusRejected
		}
		select {
		case gotResult <- res:
		default:
		}
	})
	defer r.okCallbacks.Delete(event.ID)

	msg, err := EventEnvelope{Event: event}.MarshalJSON()
	if err != nil {
		result.Err = err
		return result
	}

	if err := r.write(msg); err != nil {
		result.Err = err
		return result
	}

	select {
	case res := <-gotResult:
		return res
	case <-ctx.Done():
		result.Err = fmt.Errorf("no acknowledgment from %s: %w", r.URL, ctx.Err())
		return result
	}
}

// Subscribe creates a subscription with a random id and fires it if the
// relay is connected. Subscribing while disconnected is allowed: the REQ is
// sent automatically once the relay (re)connects.
//
// The subscription ends when ctx is canceled, when Unsub is called, or when
// the relay is closed.
func (r *Relay) Subscribe(ctx context.Context, filters Filters) (*Subscription, error) {
	return r.subscribe(ctx, newSubscriptionID(), filters)
}

// SubscribeWithID is like Subscribe but uses a caller-assigned id.
func (r *Relay) SubscribeWithID(ctx context.Context, id string, filters Filters) (*Subscription, error) {
	return r.subscribe(ctx, id, filters)
}

func (r *Relay) subscribe(ctx context.Context, id string, filters Filters) (*Subscription, error) {
	if r.Status() == RelayTerminated {
		return nil, ErrRelayClosed
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("subscription requires at least one filter")
	}

	sub := newSubscription(r, id, filters)
	r.subscriptions.Store(id, sub)

	if r.IsConnected() {
		if err := sub.fire(false); err != nil {
			r.subscriptions.Delete(id)
			sub.close()
			return nil, fmt.Errorf("failed to send REQ to %s: %w", r.URL, err)
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsub()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// QuerySync performs a bounded one-shot query against this relay: events
// are collected until EOSE or the context deadline, whichever comes first.
func (r *Relay) QuerySync(ctx context.Context, filter Filter) ([]*Event, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	sub, err := r.Subscribe(ctx, Filters{filter})
	if err != nil {
		return nil, err
	}
	defer sub.Unsub()

	var events []*Event
	for {
		select {
		case evt, more := <-sub.Events:
			if !more {
				return events, nil
			}
			events = append(events, evt)
		case <-sub.EndOfStoredEvents:
			return events, nil
		case <-ctx.Done():
			return events, nil
		}
	}
}

// Count asks the relay how many stored events match the filters (NIP-45).
func (r *Relay) Count(ctx context.Context, filters Filters) (int64, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	id := newSubscriptionID()
	ch := make(chan int64, 1)
	r.countResults.Store(id, ch)
	defer r.countResults.Delete(id)

	msg, err := CountEnvelope{SubscriptionID: id, Filters: filters}.MarshalJSON()
	if err != nil {
		return 0, err
	}
	if err := r.write(msg); err != nil {
		return 0, err
	}

	select {
	case count := <-ch:
		return count, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Auth responds to the relay's pending AUTH challenge with an auth event
// signed by the given function, then waits for the OK like a publish.
func (r *Relay) Auth(ctx context.Context, sign func(*Event) error) PublishResult {
	result := PublishResult{RelayURL: r.URL, Status: PublishStatusPending}

	r.challengeMu.Lock()
	challenge := r.challenge
	r.challengeMu.Unlock()
	if challenge == "" {
		result.Err = fmt.Errorf("no auth challenge received from %s", r.URL)
		return result
	}

	authEvent := Event{
		CreatedAt: Now(),
		Kind:      KindClientAuthentication,
		Tags: Tags{
			Tag{"relay", r.URL},
			Tag{"challenge", challenge},
		},
	}
	if err := sign(&authEvent); err != nil {
		result.Err = fmt.Errorf("failed to sign auth event: %w", err)
		return result
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Options.PublishTimeout)
		defer cancel()
	}

	gotResult := make(chan PublishResult, 1)
	r.okCallbacks.Store(authEvent.ID, func(ok bool, reason string) {
		res := PublishResult{RelayURL: r.URL, Reason: reason}
		if ok {
			res.Status = PublishStatusAccepted
		} else {
			res.Status = PublishStatusRejected
		}
		select {
		case gotResult <- res:
		default:
		}
	})
	defer r.okCallbacks.Delete(authEvent.ID)

	msg, err := AuthEnvelope{Event: authEvent}.MarshalJSON()
	if err != nil {
		result.Err = err
		return result
	}
	if err := r.write(msg); err != nil {
		result.Err = err
		return result
	}

	select {
	case res := <-gotResult:
		return res
	case <-ctx.Done():
		result.Err = fmt.Errorf("no auth acknowledgment from %s: %w", r.URL, ctx.Err())
		return result
	}
}

// Close releases the connection and every active subscription. The relay
// cannot be reused afterwards.
func (r *Relay) Close() error {
	if r.Status() == RelayTerminated {
		return ErrRelayClosed
	}

	r.status.CompareAndSwap(int32(RelayConnected), int32(RelayDisconnecting))
	r.terminate()
	return nil
}

func (r *Relay) terminate() {
	r.status.Store(int32(RelayTerminated))
	r.cancel()

	r.connMu.Lock()
	if r.connection != nil {
		r.connection.Close()
		r.connection = nil
	}
	r.connMu.Unlock()

	r.subscriptions.Range(func(id string, sub *Subscription) bool {
		r.subscriptions.Delete(id)
		sub.close()
		return true
	})
}
