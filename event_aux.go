package nostrkit

import (
	"fmt"

	jwriter "github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

func (evt *Event) UnmarshalJSON(payload []byte) error {
	r := gjson.ParseBytes(payload)
	if !r.IsObject() {
		return fmt.Errorf("event is not an object")
	}

	var parseErr error
	r.ForEach(func(key, v gjson.Result) bool {
		switch key.Str {
		case "id":
			evt.ID = v.Str
		case "pubkey":
			evt.PubKey = v.Str
		case "created_at":
			if v.Type != gjson.Number {
				parseErr = fmt.Errorf("invalid 'created_at' field: %s", v.Raw)
				return false
			}
			evt.CreatedAt = Timestamp(v.Int())
		case "kind":
			if v.Type != gjson.Number {
				parseErr = fmt.Errorf("invalid 'kind' field: %s", v.Raw)
				return false
			}
			evt.Kind = int(v.Int())
		case "tags":
			evt.Tags, parseErr = tagsFromJSON(v)
			if parseErr != nil {
				return false
			}
		case "content":
			evt.Content = v.Str
		case "sig":
			evt.Sig = v.Str
		}
		return true
	})

	return parseErr
}

func tagsFromJSON(v gjson.Result) (Tags, error) {
	if !v.IsArray() {
		return nil, fmt.Errorf("invalid 'tags' field: %s", v.Raw)
	}

	arr := v.Array()
	tags := make(Tags, len(arr))
	for i, entry := range arr {
		if !entry.IsArray() {
			return nil, fmt.Errorf("invalid tag at index %d: %s", i, entry.Raw)
		}
		items := entry.Array()
		tag := make(Tag, len(items))
		for j, item := range items {
			if item.Type != gjson.String {
				return nil, fmt.Errorf("invalid tag item at %d/%d: %s", i, j, item.Raw)
			}
			tag[j] = item.Str
		}
		tags[i] = tag
	}

	return tags, nil
}

func (evt Event) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	evt.marshalTo(&w)
	return w.BuildBytes()
}

func (evt Event) marshalTo(w *jwriter.Writer) {
	w.RawString(`{"id":`)
	w.String(evt.ID)
	w.RawString(`,"pubkey":`)
	w.String(evt.PubKey)
	w.RawString(`,"created_at":`)
	w.Int64(int64(evt.CreatedAt))
	w.RawString(`,"kind":`)
	w.Int(evt.Kind)
	w.RawString(`,"tags":`)
	w.Raw(evt.Tags.marshalTo(nil), nil)
	w.RawString(`,"content":`)
	w.String(evt.Content)
	w.RawString(`,"sig":`)
	w.String(evt.Sig)
	w.RawString(`}`)
}
