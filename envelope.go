package nostrkit

import (
	"bytes"
	"encoding/json"
	"fmt"

	jwriter "github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// Envelope is implemented by every message that can cross the wire, one
// variant per message label. Server messages with a label we don't know
// decode to UnknownEnvelope so the read loop can report them instead of
// crashing or dropping them silently.
type Envelope interface {
	Label() string
	UnmarshalJSON([]byte) error
	MarshalJSON() ([]byte, error)
	String() string
}

var (
	_ Envelope = (*EventEnvelope)(nil)
	_ Envelope = (*ReqEnvelope)(nil)
	_ Envelope = (*CountEnvelope)(nil)
	_ Envelope = (*NoticeEnvelope)(nil)
	_ Envelope = (*EOSEEnvelope)(nil)
	_ Envelope = (*CloseEnvelope)(nil)
	_ Envelope = (*ClosedEnvelope)(nil)
	_ Envelope = (*OKEnvelope)(nil)
	_ Envelope = (*AuthEnvelope)(nil)
	_ Envelope = (*UnknownEnvelope)(nil)
)

// ParseMessage turns a raw relay message into an Envelope. It returns nil
// when the message is not even a labeled array.
func ParseMessage(message []byte) Envelope {
	firstComma := -1
	for i, b := range message {
		if b == ',' {
			firstComma = i
			break
		}
	}
	if firstComma == -1 {
		return nil
	}
	label := message[0:firstComma]

	var v Envelope
	switch {
	case bytes.Contains(label, []byte("EVENT")):
		v = &EventEnvelope{}
	case bytes.Contains(label, []byte("REQ")):
		v = &ReqEnvelope{}
	case bytes.Contains(label, []byte("COUNT")):
		v = &CountEnvelope{}
	case bytes.Contains(label, []byte("NOTICE")):
		x := NoticeEnvelope("")
		v = &x
	case bytes.Contains(label, []byte("EOSE")):
		x := EOSEEnvelope("")
		v = &x
	case bytes.Contains(label, []byte("CLOSED")):
		v = &ClosedEnvelope{}
	case bytes.Contains(label, []byte("CLOSE")):
		x := CloseEnvelope("")
		v = &x
	case bytes.Contains(label, []byte("OK")):
		v = &OKEnvelope{}
	case bytes.Contains(label, []byte("AUTH")):
		v = &AuthEnvelope{}
	default:
		v = &UnknownEnvelope{}
	}

	if err := v.UnmarshalJSON(message); err != nil {
		return nil
	}
	return v
}

type EventEnvelope struct {
	SubscriptionID *string
	Event
}

func (_ EventEnvelope) Label() string { return "EVENT" }

func (v *EventEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	switch len(arr) {
	case 2:
		return v.Event.UnmarshalJSON([]byte(arr[1].Raw))
	case 3:
		v.SubscriptionID = &arr[1].Str
		return v.Event.UnmarshalJSON([]byte(arr[2].Raw))
	default:
		return fmt.Errorf("failed to decode EVENT envelope")
	}
}

func (v EventEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["EVENT",`)
	if v.SubscriptionID != nil {
		w.String(*v.SubscriptionID)
		w.RawString(`,`)
	}
	v.Event.marshalTo(&w)
	w.RawString(`]`)
	return w.BuildBytes()
}

func (v EventEnvelope) String() string { return envelopeString(&v) }

type ReqEnvelope struct {
	SubscriptionID string
	Filters
}

func (_ ReqEnvelope) Label() string { return "REQ" }

func (v *ReqEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode REQ envelope: missing filters")
	}
	v.SubscriptionID = arr[1].Str
	v.Filters = make(Filters, len(arr)-2)
	for i := 2; i < len(arr); i++ {
		if err := v.Filters[i-2].UnmarshalJSON([]byte(arr[i].Raw)); err != nil {
			return fmt.Errorf("%w -- on filter %d", err, i-2)
		}
	}
	return nil
}

func (v ReqEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["REQ",`)
	w.String(v.SubscriptionID)
	for _, filter := range v.Filters {
		w.RawString(`,`)
		filter.marshalTo(&w)
	}
	w.RawString(`]`)
	return w.BuildBytes()
}

func (v ReqEnvelope) String() string { return envelopeString(&v) }

type CountEnvelope struct {
	SubscriptionID string
	Filters
	Count *int64
}

func (_ CountEnvelope) Label() string { return "COUNT" }

func (v *CountEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode COUNT envelope: missing filters")
	}
	v.SubscriptionID = arr[1].Str

	if count := arr[2].Get("count"); count.Exists() {
		c := count.Int()
		v.Count = &c
		return nil
	}

	v.Filters = make(Filters, len(arr)-2)
	for i := 2; i < len(arr); i++ {
		if err := v.Filters[i-2].UnmarshalJSON([]byte(arr[i].Raw)); err != nil {
			return fmt.Errorf("%w -- on filter %d", err, i-2)
		}
	}
	return nil
}

func (v CountEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["COUNT",`)
	w.String(v.SubscriptionID)
	if v.Count != nil {
		w.RawString(`,{"count":`)
		w.Int64(*v.Count)
		w.RawString(`}`)
	} else {
		for _, filter := range v.Filters {
			w.RawString(`,`)
			filter.marshalTo(&w)
		}
	}
	w.RawString(`]`)
	return w.BuildBytes()
}

func (v CountEnvelope) String() string { return envelopeString(&v) }

type NoticeEnvelope string

func (_ NoticeEnvelope) Label() string { return "NOTICE" }

func (v *NoticeEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode NOTICE envelope")
	}
	*v = NoticeEnvelope(arr[1].Str)
	return nil
}

func (v NoticeEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["NOTICE",`)
	w.String(string(v))
	w.RawString(`]`)
	return w.BuildBytes()
}

func (v NoticeEnvelope) String() string { return envelopeString(&v) }

type EOSEEnvelope string

func (_ EOSEEnvelope) Label() string { return "EOSE" }

func (v *EOSEEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode EOSE envelope")
	}
	*v = EOSEEnvelope(arr[1].Str)
	return nil
}

func (v EOSEEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["EOSE",`)
	w.String(string(v))
	w.RawString(`]`)
	return w.BuildBytes()
}

func (v EOSEEnvelope) String() string { return envelopeString(&v) }

type CloseEnvelope string

func (_ CloseEnvelope) Label() string { return "CLOSE" }

func (v *CloseEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode CLOSE envelope")
	}
	*v = CloseEnvelope(arr[1].Str)
	return nil
}

func (v CloseEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["CLOSE",`)
	w.String(string(v))
	w.RawString(`]`)
	return w.BuildBytes()
}

func (v CloseEnvelope) String() string { return envelopeString(&v) }

type ClosedEnvelope struct {
	SubscriptionID string
	Reason         string
}

func (_ ClosedEnvelope) Label() string { return "CLOSED" }

func (v *ClosedEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode CLOSED envelope")
	}
	v.SubscriptionID = arr[1].Str
	v.Reason = arr[2].Str
	return nil
}

func (v ClosedEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["CLOSED",`)
	w.String(v.SubscriptionID)
	w.RawString(`,`)
	w.String(v.Reason)
	w.RawString(`]`)
	return w.BuildBytes()
}

func (v ClosedEnvelope) String() string { return envelopeString(&v) }

type OKEnvelope struct {
	EventID string
	OK      bool
	Reason  string
}

func (_ OKEnvelope) Label() string { return "OK" }

func (v *OKEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode OK envelope: missing fields")
	}
	v.EventID = arr[1].Str
	v.OK = arr[2].Raw == "true"
	if len(arr) > 3 {
		v.Reason = arr[3].Str
	}
	return nil
}

func (v OKEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["OK",`)
	w.String(v.EventID)
	w.RawString(`,`)
	w.Bool(v.OK)
	w.RawString(`,`)
	w.String(v.Reason)
	w.RawString(`]`)
	return w.BuildBytes()
}

func (v OKEnvelope) String() string { return envelopeString(&v) }

type AuthEnvelope struct {
	Challenge *string
	Event     Event
}

func (_ AuthEnvelope) Label() string { return "AUTH" }

func (v *AuthEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode AUTH envelope: missing fields")
	}
	if arr[1].IsObject() {
		return v.Event.UnmarshalJSON([]byte(arr[1].Raw))
	}
	v.Challenge = &arr[1].Str
	return nil
}

func (v AuthEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["AUTH",`)
	if v.Challenge != nil {
		w.String(*v.Challenge)
	} else {
		v.Event.marshalTo(&w)
	}
	w.RawString(`]`)
	return w.BuildBytes()
}

func (v AuthEnvelope) String() string { return envelopeString(&v) }

// UnknownEnvelope holds a server message whose label we don't branch on.
type UnknownEnvelope struct {
	MessageLabel string
	Raw          json.RawMessage
}

func (v UnknownEnvelope) Label() string { return v.MessageLabel }

func (v *UnknownEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 1 {
		return fmt.Errorf("failed to decode envelope: not an array")
	}
	v.MessageLabel = arr[0].Str
	v.Raw = json.RawMessage(data)
	return nil
}

func (v UnknownEnvelope) MarshalJSON() ([]byte, error) {
	return v.Raw, nil
}

func (v UnknownEnvelope) String() string { return string(v.Raw) }

func envelopeString(v Envelope) string {
	j, _ := v.MarshalJSON()
	return string(j)
}
