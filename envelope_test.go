package nostrkit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	testCases := []struct {
		Name             string
		Message          []byte
		ExpectedEnvelope Envelope
	}{
		{
			Name:             "nil",
			Message:          nil,
			ExpectedEnvelope: nil,
		},
		{
			Name:             "invalid string",
			Message:          []byte("invalid input"),
			ExpectedEnvelope: nil,
		},
		{
			Name:             "malformed EVENT",
			Message:          []byte(`["EVENT",1,2,3,4]`),
			ExpectedEnvelope: nil,
		},
		{
			Name:             "EVENT envelope",
			Message:          []byte(`["EVENT","_",{"id":"dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962","pubkey":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","created_at":1644271588,"kind":1,"tags":[],"content":"now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?","sig":"230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524"}]`),
			ExpectedEnvelope: &EventEnvelope{SubscriptionID: ptr("_"), Event: Event{ID: "dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962", PubKey: "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d", CreatedAt: 1644271588, Kind: 1, Tags: Tags{}, Content: "now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?", Sig: "230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524"}},
		},
		{
			Name:             "EVENT envelope without a subscription id",
			Message:          []byte(`["EVENT",{"kind":1,"id":"dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962","pubkey":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","created_at":1644271588,"tags":[],"content":"now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?","sig":"230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524"}]`),
			ExpectedEnvelope: &EventEnvelope{Event: Event{ID: "dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962", PubKey: "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d", CreatedAt: 1644271588, Kind: 1, Tags: Tags{}, Content: "now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?", Sig: "230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524"}},
		},
		{
			Name:             "NOTICE envelope",
			Message:          []byte(`["NOTICE","kjasbdlasvdluiasvd\"kjasbdksab\\d"]`),
			ExpectedEnvelope: ptr(NoticeEnvelope(`kjasbdlasvdluiasvd"kjasbdksab\d`)),
		},
		{
			Name:             "EOSE envelope",
			Message:          []byte(`["EOSE","kjasbdlasvdluiasvd\"kjasbdksab\\d"]`),
			ExpectedEnvelope: ptr(EOSEEnvelope(`kjasbdlasvdluiasvd"kjasbdksab\d`)),
		},
		{
			Name:             "COUNT envelope with count",
			Message:          []byte(`["COUNT","z",{"count":12}]`),
			ExpectedEnvelope: &CountEnvelope{SubscriptionID: "z", Count: ptr(int64(12))},
		},
		{
			Name:             "OK envelope success",
			Message:          []byte(`["OK","3da979448d9ba263864c4d6f14984c423a3838364ec255f03c7904b1ae77f206",true,""]`),
			ExpectedEnvelope: &OKEnvelope{EventID: "3da979448d9ba263864c4d6f14984c423a3838364ec255f03c7904b1ae77f206", OK: true, Reason: ""},
		},
		{
			Name:             "OK envelope rejection",
			Message:          []byte(`["OK","3da979448d9ba263864c4d6f14984c423a3838364ec255f03c7904b1ae77f206",false,"error: could not connect to the database"]`),
			ExpectedEnvelope: &OKEnvelope{EventID: "3da979448d9ba263864c4d6f14984c423a3838364ec255f03c7904b1ae77f206", OK: false, Reason: "error: could not connect to the database"},
		},
		{
			Name:             "CLOSED envelope with underscore",
			Message:          []byte(`["CLOSED","_","error: something went wrong"]`),
			ExpectedEnvelope: &ClosedEnvelope{SubscriptionID: "_", Reason: "error: something went wrong"},
		},
		{
			Name:             "AUTH challenge envelope",
			Message:          []byte(`["AUTH","challenge-string"]`),
			ExpectedEnvelope: &AuthEnvelope{Challenge: ptr("challenge-string")},
		},
		{
			Name:             "REQ envelope",
			Message:          []byte(`["REQ","million", {"kinds":[1]}, {"kinds":[30023 ], "#d": ["buteko",    "batuke"]}]`),
			ExpectedEnvelope: &ReqEnvelope{SubscriptionID: "million", Filters: Filters{{Kinds: []int{1}}, {Kinds: []int{30023}, Tags: TagMap{"d": {"buteko", "batuke"}}}}},
		},
		{
			Name:             "CLOSE envelope",
			Message:          []byte(`["CLOSE","subid4"]`),
			ExpectedEnvelope: ptr(CloseEnvelope("subid4")),
		},
		{
			Name:             "unknown label",
			Message:          []byte(`["XYZ","something"]`),
			ExpectedEnvelope: &UnknownEnvelope{MessageLabel: "XYZ", Raw: json.RawMessage(`["XYZ","something"]`)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			envelope := ParseMessage(tc.Message)
			if tc.ExpectedEnvelope == nil {
				assert.Nil(t, envelope, "expected nil envelope but got %v", envelope)
				return
			}

			require.NotNil(t, envelope, "expected non-nil envelope: %s", tc.Message)
			assert.Equal(t, tc.ExpectedEnvelope.String(), envelope.String())
		})
	}
}

func TestEnvelopeEncodingAndDecoding(t *testing.T) {
	eventEnvelopes := []string{
		`["EVENT","_",{"id":"dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962","pubkey":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","created_at":1644271588,"kind":1,"tags":[],"content":"now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?","sig":"230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524"}]`,
		`["EVENT","_",{"id":"9e662bdd7d8abc40b5b15ee1ff5e9320efc87e9274d8d440c58e6eed2dddfbe2","pubkey":"373ebe3d45ec91977296a178d9f19f326c70631d2a1b0bbba5c5ecc2eb53b9e7","created_at":1644844224,"kind":3,"tags":[["p","3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"],["p","75fc5ac2487363293bd27fb0d14fb966477d0f1dbc6361d37806a6a740eda91e"],["p","46d0dfd3a724a302ca9175163bdf788f3606b3fd1bb12d5fe055d1e418cb60ea"]],"content":"{\"wss://nostr-pub.wellorder.net\":{\"read\":true,\"write\":true},\"wss://nostr.bitcoiner.social\":{\"read\":false,\"write\":true}}","sig":"811355d3484d375df47581cb5d66bed05002c2978894098304f20b595e571b7e01b2efd906c5650080ffe49cf1c62b36715698e9d88b9e8be43029a2f3fa66be"}]`,
	}
	for _, raw := range eventEnvelopes {
		env := ParseMessage([]byte(raw))
		require.IsType(t, &EventEnvelope{}, env)

		reserialized, err := env.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, raw, string(reserialized))
	}

	okEnvelopes := []string{
		`["OK","3da979448d9ba263864c4d6f14984c423a3838364ec255f03c7904b1ae77f206",true,""]`,
		`["OK","3da979448d9ba263864c4d6f14984c423a3838364ec255f03c7904b1ae77f206",true,"pow: difficulty 25>=24"]`,
	}
	for _, raw := range okEnvelopes {
		env := ParseMessage([]byte(raw))
		require.IsType(t, &OKEnvelope{}, env)

		reserialized, err := env.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, raw, string(reserialized))
	}

	reqEnvelopes := []string{
		`["REQ","million",{"kinds":[1]},{"kinds":[30023],"#d":["buteko","batuke"]}]`,
	}
	for _, raw := range reqEnvelopes {
		env := ParseMessage([]byte(raw))
		require.IsType(t, &ReqEnvelope{}, env)

		reserialized, err := env.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, raw, string(reserialized))
	}

	closedEnvelopes := []string{
		`["CLOSED","_","error: something went wrong"]`,
		`["CLOSED","sub1","auth-required: take a selfie and send it to the CIA"]`,
	}
	for _, raw := range closedEnvelopes {
		env := ParseMessage([]byte(raw))
		require.IsType(t, &ClosedEnvelope{}, env)

		reserialized, err := env.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, raw, string(reserialized))
	}

	countEnvelope := `["COUNT","sub1",{"count":42}]`
	env := ParseMessage([]byte(countEnvelope))
	require.IsType(t, &CountEnvelope{}, env)
	assert.Equal(t, int64(42), *env.(*CountEnvelope).Count)
	reserialized, err := env.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, countEnvelope, string(reserialized))

	authChallenge := `["AUTH","kjsabdlasb aslkd kasndkad \"as.kdnbskadb"]`
	env = ParseMessage([]byte(authChallenge))
	require.IsType(t, &AuthEnvelope{}, env)
	assert.Equal(t, `kjsabdlasb aslkd kasndkad "as.kdnbskadb`, *env.(*AuthEnvelope).Challenge)
	reserialized, err = env.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, authChallenge, string(reserialized))
}

func TestEnvelopeStringMatchesWireEncoding(t *testing.T) {
	// every variant, as a value, via the interface-backed String path
	for _, env := range []Envelope{
		&EventEnvelope{SubscriptionID: ptr("sub1")},
		&ReqEnvelope{SubscriptionID: "sub1", Filters: Filters{{Kinds: []int{1}}}},
		&CountEnvelope{SubscriptionID: "sub1", Count: ptr(int64(3))},
		ptr(NoticeEnvelope("notice")),
		ptr(EOSEEnvelope("sub1")),
		ptr(CloseEnvelope("sub1")),
		&ClosedEnvelope{SubscriptionID: "sub1", Reason: "bye"},
		&OKEnvelope{EventID: "abc", OK: true},
		&AuthEnvelope{Challenge: ptr("ch")},
	} {
		wire, err := env.MarshalJSON()
		require.NoError(t, err)
		assert.Equal(t, string(wire), env.String())
	}

	assert.Equal(t, `["OK","abc",false,"dup"]`,
		OKEnvelope{EventID: "abc", OK: false, Reason: "dup"}.String())
	assert.Equal(t, `["NOTICE","slow down"]`, NoticeEnvelope("slow down").String())
}

func TestEncodingDoesNotEscapeHTML(t *testing.T) {
	ok := OKEnvelope{EventID: "abc", OK: false, Reason: "rate-limited: <1 event/min & >0 retries"}
	assert.Equal(t, `["OK","abc",false,"rate-limited: <1 event/min & >0 retries"]`, ok.String())

	evt := Event{Tags: Tags{}, Content: "a < b && b > c"}
	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":"a < b && b > c"`)

	filterj, err := json.Marshal(Filter{Search: "cats & dogs"})
	require.NoError(t, err)
	assert.Equal(t, `{"search":"cats & dogs"}`, string(filterj))
}

func ptr[S any](s S) *S { return &s }
