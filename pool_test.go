package nostrkit

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

// newRelayServerServing answers any REQ with the given stored events
// followed by EOSE, and acknowledges any EVENT with OK.
func newRelayServerServing(stored ...Event) *httptest.Server {
	return newWebsocketServer(func(conn *websocket.Conn) {
		for {
			var raw []json.RawMessage
			if err := websocket.JSON.Receive(conn, &raw); err != nil {
				return
			}

			var label string
			json.Unmarshal(raw[0], &label)

			switch label {
			case "REQ":
				var id string
				json.Unmarshal(raw[1], &id)
				for _, evt := range stored {
					websocket.JSON.Send(conn, []any{"EVENT", id, evt})
				}
				websocket.JSON.Send(conn, []any{"EOSE", id})
			case "EVENT":
				var evt Event
				if err := json.Unmarshal(raw[1], &evt); err == nil {
					websocket.JSON.Send(conn, []any{"OK", evt.ID, true, ""})
				}
			}
		}
	})
}

func signedTextNoteAt(t *testing.T, sk string, content string, at Timestamp) Event {
	t.Helper()

	evt, err := NewEventBuilder(KindTextNote).Content(content).CreatedAt(at).Sign(sk)
	require.NoError(t, err)
	return evt
}

func TestPoolMembership(t *testing.T) {
	pool := NewPool(context.Background(), RelayOptions{})
	defer pool.Close()

	_, err := pool.AddRelay("wss://one.example.com")
	require.NoError(t, err)
	_, err = pool.AddRelay("wss://one.example.com/")
	require.NoError(t, err, "adding the same normalized url twice is a no-op")
	_, err = pool.AddRelay("wss://two.example.com")
	require.NoError(t, err)

	_, err = pool.AddRelay("ftp://three.example.com")
	assert.ErrorIs(t, err, ErrInvalidRelayURL)

	assert.ElementsMatch(t, []string{"wss://one.example.com", "wss://two.example.com"}, pool.Relays())

	rl, ok := pool.Relay("wss://one.example.com")
	require.True(t, ok)
	assert.Equal(t, "wss://one.example.com", rl.URL)

	require.NoError(t, pool.RemoveRelay("wss://one.example.com"))
	assert.Error(t, pool.RemoveRelay("wss://one.example.com"), "already removed")
	assert.ElementsMatch(t, []string{"wss://two.example.com"}, pool.Relays())
}

func TestPoolSubscribeDeduplicates(t *testing.T) {
	sk := GeneratePrivateKey()
	shared := signedTextNoteAt(t, sk, "seen on both relays", Now())

	ws1 := newRelayServerServing(shared)
	defer ws1.Close()
	ws2 := newRelayServerServing(shared)
	defer ws2.Close()

	pool := NewPool(context.Background(), RelayOptions{})
	defer pool.Close()

	_, err := pool.AddRelay(ws1.URL)
	require.NoError(t, err)
	_, err = pool.AddRelay(ws2.URL)
	require.NoError(t, err)
	require.NoError(t, pool.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := pool.Subscribe(ctx, Filters{{Kinds: []int{KindTextNote}}})

	select {
	case ievt := <-events:
		assert.Equal(t, shared.ID, ievt.ID)
		assert.NotEmpty(t, ievt.RelayURL)
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived")
	}

	// the duplicate from the other relay must be suppressed
	select {
	case ievt := <-events:
		t.Fatalf("got the same event twice: %v from %s", ievt.ID, ievt.RelayURL)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestPoolSubscribeNonUnique(t *testing.T) {
	sk := GeneratePrivateKey()
	shared := signedTextNoteAt(t, sk, "twice is fine here", Now())

	ws1 := newRelayServerServing(shared)
	defer ws1.Close()
	ws2 := newRelayServerServing(shared)
	defer ws2.Close()

	pool := NewPool(context.Background(), RelayOptions{})
	defer pool.Close()

	_, err := pool.AddRelay(ws1.URL)
	require.NoError(t, err)
	_, err = pool.AddRelay(ws2.URL)
	require.NoError(t, err)
	require.NoError(t, pool.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := pool.SubscribeNonUnique(ctx, Filters{{Kinds: []int{KindTextNote}}})

	relaysSeen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case ievt := <-events:
			assert.Equal(t, shared.ID, ievt.ID)
			relaysSeen[ievt.RelayURL] = true
		case <-time.After(5 * time.Second):
			t.Fatal("expected the event once per relay")
		}
	}
	assert.Equal(t, 2, len(relaysSeen))
}

func TestPoolPublishPartialFailure(t *testing.T) {
	sk := GeneratePrivateKey()
	textNote := signedTextNote(t, sk, "best effort")

	ws := newRelayServerServing()
	defer ws.Close()

	pool := NewPool(context.Background(), RelayOptions{DisableReconnect: true})
	defer pool.Close()

	_, err := pool.AddRelay(ws.URL)
	require.NoError(t, err)
	// port 1 is never listening
	_, err = pool.AddRelay("ws://127.0.0.1:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, pool.Connect(ctx), "the unreachable relay fails to dial")

	results := pool.Publish(context.Background(), textNote)
	require.Len(t, results, 2)

	good := results[NormalizeURL(ws.URL)]
	assert.Equal(t, PublishStatusAccepted, good.Status)
	assert.NoError(t, good.Err)

	bad := results["ws://127.0.0.1:1"]
	assert.Equal(t, PublishStatusPending, bad.Status)
	assert.ErrorIs(t, bad.Err, ErrNotConnected)
}

func TestPoolFetchEvents(t *testing.T) {
	sk := GeneratePrivateKey()

	shared := []Event{
		signedTextNoteAt(t, sk, "shared 1", 300),
		signedTextNoteAt(t, sk, "shared 2", 400),
		signedTextNoteAt(t, sk, "shared 3", 500),
	}
	onlyA := []Event{
		signedTextNoteAt(t, sk, "a 1", 100),
		signedTextNoteAt(t, sk, "a 2", 200),
	}
	onlyB := []Event{
		signedTextNoteAt(t, sk, "b 1", 600),
		signedTextNoteAt(t, sk, "b 2", 700),
	}

	ws1 := newRelayServerServing(append(onlyA, shared...)...)
	defer ws1.Close()
	ws2 := newRelayServerServing(append(onlyB, shared...)...)
	defer ws2.Close()

	pool := NewPool(context.Background(), RelayOptions{})
	defer pool.Close()

	_, err := pool.AddRelay(ws1.URL)
	require.NoError(t, err)
	_, err = pool.AddRelay(ws2.URL)
	require.NoError(t, err)
	require.NoError(t, pool.Connect(context.Background()))

	events := pool.FetchEvents(context.Background(),
		Filters{{Kinds: []int{KindTextNote}, Limit: 5}}, 5*time.Second)

	require.Len(t, events, 5, "7 distinct events, capped at the filter limit")

	seen := make(map[string]bool)
	for i, evt := range events {
		assert.False(t, seen[evt.ID], "duplicate id in result")
		seen[evt.ID] = true
		if i > 0 {
			assert.LessOrEqual(t, evt.CreatedAt, events[i-1].CreatedAt, "not sorted most recent first")
		}
	}
	assert.Equal(t, Timestamp(700), events[0].CreatedAt)
	assert.Equal(t, Timestamp(300), events[4].CreatedAt)
}

func TestPoolFetchEventsWithNoRelays(t *testing.T) {
	pool := NewPool(context.Background(), RelayOptions{})
	defer pool.Close()

	events := pool.FetchEvents(context.Background(), Filters{{Kinds: []int{KindTextNote}}}, time.Second)
	assert.Empty(t, events)
}

func TestPoolQuerySingle(t *testing.T) {
	sk := GeneratePrivateKey()
	textNote := signedTextNote(t, sk, "the one")

	ws := newRelayServerServing(textNote)
	defer ws.Close()

	pool := NewPool(context.Background(), RelayOptions{})
	defer pool.Close()

	_, err := pool.AddRelay(ws.URL)
	require.NoError(t, err)
	require.NoError(t, pool.Connect(context.Background()))

	ievt := pool.QuerySingle(context.Background(), Filter{Kinds: []int{KindTextNote}}, 5*time.Second)
	require.NotNil(t, ievt)
	assert.Equal(t, textNote.ID, ievt.ID)
	assert.Equal(t, NormalizeURL(ws.URL), ievt.RelayURL)
}

func TestPoolSubscribeTeardownClosesChannelOnce(t *testing.T) {
	sk := GeneratePrivateKey()
	note := signedTextNoteAt(t, sk, "racy teardown", Now())

	ws1 := newRelayServerServing(note)
	defer ws1.Close()
	ws2 := newRelayServerServing(note)
	defer ws2.Close()

	pool := NewPool(context.Background(), RelayOptions{})
	defer pool.Close()

	_, err := pool.AddRelay(ws1.URL)
	require.NoError(t, err)
	_, err = pool.AddRelay(ws2.URL)
	require.NoError(t, err)
	require.NoError(t, pool.Connect(context.Background()))

	// both relay legs exit at the same instant; a double close of the
	// merged channel would panic
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		events := pool.Subscribe(ctx, Filters{{Kinds: []int{KindTextNote}}})
		cancel()

		deadline := time.After(5 * time.Second)
	drain:
		for {
			select {
			case _, more := <-events:
				if !more {
					break drain
				}
			case <-deadline:
				t.Fatal("merged channel never closed after cancellation")
			}
		}
	}
}

func TestPoolSubscribeWithNoRelays(t *testing.T) {
	pool := NewPool(context.Background(), RelayOptions{})
	defer pool.Close()

	events := pool.Subscribe(context.Background(), Filters{{Kinds: []int{KindTextNote}}})

	select {
	case _, more := <-events:
		assert.False(t, more, "channel should be closed immediately")
	case <-time.After(time.Second):
		t.Fatal("channel never closed")
	}
}
