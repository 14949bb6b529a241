package nostrkit

import (
	"fmt"
	"strings"

	jwriter "github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"

	"golang.org/x/exp/slices"
)

type Filters []Filter

// Filter is a set of constraints used to select events. Every present
// constraint category must be satisfied (AND across categories); within a
// category any listed value satisfies it (OR within the set).
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Tags    TagMap
	Since   *Timestamp
	Until   *Timestamp
	Limit   int
	Search  string
}

// TagMap maps a tag name (without the "#" prefix) to its accepted values.
type TagMap map[string][]string

// Match returns true if the event matches any filter in the list.
func (eff Filters) Match(event *Event) bool {
	for _, filter := range eff {
		if filter.Matches(event) {
			return true
		}
	}
	return false
}

// Matches checks if the event satisfies every present constraint.
// Since and Until are both inclusive bounds on CreatedAt. Limit and Search
// are not matching predicates and are ignored here.
func (ef Filter) Matches(event *Event) bool {
	if event == nil {
		return false
	}

	if ef.IDs != nil && !slices.Contains(ef.IDs, event.ID) {
		return false
	}

	if ef.Kinds != nil && !slices.Contains(ef.Kinds, event.Kind) {
		return false
	}

	if ef.Authors != nil && !slices.Contains(ef.Authors, event.PubKey) {
		return false
	}

	for f, v := range ef.Tags {
		if v != nil && !event.Tags.ContainsAny(f, v) {
			return false
		}
	}

	if ef.Since != nil && event.CreatedAt < *ef.Since {
		return false
	}

	if ef.Until != nil && event.CreatedAt > *ef.Until {
		return false
	}

	return true
}

func FilterEqual(a Filter, b Filter) bool {
	if !Similar(a.Kinds, b.Kinds) {
		return false
	}

	if !Similar(a.IDs, b.IDs) {
		return false
	}

	if !Similar(a.Authors, b.Authors) {
		return false
	}

	if len(a.Tags) != len(b.Tags) {
		return false
	}

	for f, av := range a.Tags {
		if bv, ok := b.Tags[f]; !ok || !Similar(av, bv) {
			return false
		}
	}

	if !arePointerValuesEqual(a.Since, b.Since) {
		return false
	}

	if !arePointerValuesEqual(a.Until, b.Until) {
		return false
	}

	if a.Search != b.Search {
		return false
	}

	return true
}

func arePointerValuesEqual[V comparable](a *V, b *V) bool {
	if a == nil && b == nil {
		return true
	}
	if a != nil && b != nil {
		return *a == *b
	}
	return false
}

func (ef Filter) Clone() Filter {
	clone := Filter{
		IDs:     slices.Clone(ef.IDs),
		Kinds:   slices.Clone(ef.Kinds),
		Authors: slices.Clone(ef.Authors),
		Limit:   ef.Limit,
		Search:  ef.Search,
	}

	if ef.Tags != nil {
		clone.Tags = make(TagMap, len(ef.Tags))
		for k, v := range ef.Tags {
			clone.Tags[k] = slices.Clone(v)
		}
	}

	if ef.Since != nil {
		since := *ef.Since
		clone.Since = &since
	}

	if ef.Until != nil {
		until := *ef.Until
		clone.Until = &until
	}

	return clone
}

func (ef *Filter) UnmarshalJSON(payload []byte) error {
	r := gjson.ParseBytes(payload)
	if !r.IsObject() {
		return fmt.Errorf("filter is not an object")
	}

	var parseErr error
	r.ForEach(func(key, v gjson.Result) bool {
		switch key.Str {
		case "ids":
			ef.IDs, parseErr = stringsFromJSON(v, "ids")
		case "kinds":
			ef.Kinds, parseErr = intsFromJSON(v)
		case "authors":
			ef.Authors, parseErr = stringsFromJSON(v, "authors")
		case "since":
			since := Timestamp(v.Int())
			ef.Since = &since
		case "until":
			until := Timestamp(v.Int())
			ef.Until = &until
		case "limit":
			ef.Limit = int(v.Int())
		case "search":
			ef.Search = v.Str
		default:
			if strings.HasPrefix(key.Str, "#") {
				if ef.Tags == nil {
					ef.Tags = make(TagMap)
				}
				ef.Tags[key.Str[1:]], parseErr = stringsFromJSON(v, key.Str)
			}
		}
		return parseErr == nil
	})

	return parseErr
}

func (ef Filter) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	ef.marshalTo(&w)
	return w.BuildBytes()
}

func (ef Filter) marshalTo(w *jwriter.Writer) {
	w.RawString(`{`)
	first := true
	comma := func() {
		if !first {
			w.RawString(`,`)
		}
		first = false
	}

	if ef.IDs != nil {
		comma()
		w.RawString(`"ids":`)
		stringsToJSON(w, ef.IDs)
	}
	if ef.Kinds != nil {
		comma()
		w.RawString(`"kinds":[`)
		for i, kind := range ef.Kinds {
			if i > 0 {
				w.RawString(`,`)
			}
			w.Int(kind)
		}
		w.RawString(`]`)
	}
	if ef.Authors != nil {
		comma()
		w.RawString(`"authors":`)
		stringsToJSON(w, ef.Authors)
	}
	if ef.Since != nil {
		comma()
		w.RawString(`"since":`)
		w.Int64(int64(*ef.Since))
	}
	if ef.Until != nil {
		comma()
		w.RawString(`"until":`)
		w.Int64(int64(*ef.Until))
	}
	if ef.Limit > 0 {
		comma()
		w.RawString(`"limit":`)
		w.Int(ef.Limit)
	}
	if ef.Search != "" {
		comma()
		w.RawString(`"search":`)
		w.String(ef.Search)
	}
	for tagName, values := range ef.Tags {
		comma()
		w.String("#" + tagName)
		w.RawString(`:`)
		stringsToJSON(w, values)
	}
	w.RawString(`}`)
}

func stringsToJSON(w *jwriter.Writer, items []string) {
	w.RawString(`[`)
	for i, item := range items {
		if i > 0 {
			w.RawString(`,`)
		}
		w.String(item)
	}
	w.RawString(`]`)
}

func stringsFromJSON(v gjson.Result, field string) ([]string, error) {
	if !v.IsArray() {
		return nil, fmt.Errorf("invalid '%s' field: %s", field, v.Raw)
	}
	arr := v.Array()
	items := make([]string, len(arr))
	for i, item := range arr {
		if item.Type != gjson.String {
			return nil, fmt.Errorf("invalid item in '%s': %s", field, item.Raw)
		}
		items[i] = item.Str
	}
	return items, nil
}

func intsFromJSON(v gjson.Result) ([]int, error) {
	if !v.IsArray() {
		return nil, fmt.Errorf("invalid 'kinds' field: %s", v.Raw)
	}
	arr := v.Array()
	items := make([]int, len(arr))
	for i, item := range arr {
		if item.Type != gjson.Number {
			return nil, fmt.Errorf("invalid item in 'kinds': %s", item.Raw)
		}
		items[i] = int(item.Int())
	}
	return items, nil
}
