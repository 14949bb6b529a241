package nostrkit

import (
	"sync"
	"sync/atomic"
)

// Subscription is a standing request for events matching Filters on a single
// relay. Events arrive on the Events channel until Unsub is called, the
// relay closes the subscription, or the relay terminates.
//
// A Subscription holds only its relay's identity, never an owning pointer.
type Subscription struct {
	id    string
	relay *Relay

	Filters Filters

	// Events delivers verified, filter-matched events in relay order.
	// It is closed when the subscription ends.
	Events chan *Event

	// EndOfStoredEvents receives exactly one signal when the relay reports
	// it has sent everything it had stored.
	EndOfStoredEvents chan struct{}

	// ClosedReason receives the reason when the relay closes this
	// subscription on its side.
	ClosedReason chan string

	incoming    chan *Event
	done        chan struct{}
	stopOnce    sync.Once
	eosed       sync.Once
	lastEventAt atomic.Int64
}

func newSubscription(relay *Relay, id string, filters Filters) *Subscription {
	sub := &Subscription{
		id:                id,
		relay:             relay,
		Filters:           filters,
		Events:            make(chan *Event),
		EndOfStoredEvents: make(chan struct{}, 1),
		ClosedReason:      make(chan string, 1),
		incoming:          make(chan *Event, 64),
		done:              make(chan struct{}),
	}
	go sub.run()
	return sub
}

// run is the only writer and the only closer of sub.Events.
func (sub *Subscription) run() {
	defer close(sub.Events)
	for {
		select {
		case evt := <-sub.incoming:
			select {
			case sub.Events <- evt:
			case <-sub.done:
				return
			}
		case <-sub.done:
			return
		}
	}
}

// ID returns the subscription id used on the wire.
func (sub *Subscription) ID() string { return sub.id }

// RelayURL returns the URL of the relay this subscription lives on.
func (sub *Subscription) RelayURL() string { return sub.relay.URL }

// Unsub closes the subscription: it removes the entry from the relay's
// table, notifies the relay with a CLOSE message when connected, and closes
// the Events channel. Safe to call more than once.
func (sub *Subscription) Unsub() {
	sub.relay.subscriptions.Delete(sub.id)

	if sub.relay.Status() == RelayConnected {
		closeMsg, _ := CloseEnvelope(sub.id).MarshalJSON()
		sub.relay.write(closeMsg)
	}

	sub.close()
}

func (sub *Subscription) close() {
	sub.stopOnce.Do(func() { close(sub.done) })
}

func (sub *Subscription) stopped() bool {
	select {
	case <-sub.done:
		return true
	default:
		return false
	}
}

// fire sends (or resends) the REQ for this subscription. On a resend after
// reconnection the filters' Since is raised to the newest created_at already
// delivered, cutting the replay down to that boundary. Since is inclusive,
// so an event sharing the boundary timestamp can arrive a second time;
// erring toward redelivery beats losing a distinct event with the same
// timestamp, and the pool's seen-id window absorbs the duplicate.
func (sub *Subscription) fire(resend bool) error {
	if sub.stopped() {
		return ErrSubscriptionClosed
	}

	filters := sub.Filters
	if resend {
		if last := sub.lastEventAt.Load(); last > 0 {
			filters = make(Filters, len(sub.Filters))
			for i, f := range sub.Filters {
				clone := f.Clone()
				since := Timestamp(last)
				if clone.Since == nil || *clone.Since < since {
					clone.Since = &since
				}
				filters[i] = clone
			}
		}
	}

	reqMsg, err := ReqEnvelope{SubscriptionID: sub.id, Filters: filters}.MarshalJSON()
	if err != nil {
		return err
	}
	return sub.relay.write(reqMsg)
}

func (sub *Subscription) dispatchEvent(evt *Event) {
	if sub.stopped() {
		return
	}

	if int64(evt.CreatedAt) > sub.lastEventAt.Load() {
		sub.lastEventAt.Store(int64(evt.CreatedAt))
	}

	select {
	case sub.incoming <- evt:
	case <-sub.done:
	}
}

func (sub *Subscription) dispatchEose() {
	sub.eosed.Do(func() {
		sub.EndOfStoredEvents <- struct{}{}
	})
}

func (sub *Subscription) dispatchClosed(reason string) {
	select {
	case sub.ClosedReason <- reason:
	default:
	}
	sub.relay.subscriptions.Delete(sub.id)
	sub.close()
}
