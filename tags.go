package nostrkit

// Tag is an ordered list of strings. The first item is the tag name, the
// second (when present) its primary value.
type Tag []string

// Key returns the tag name or "" for an empty tag.
func (tag Tag) Key() string {
	if len(tag) > 0 {
		return tag[0]
	}
	return ""
}

// Value returns the tag's primary value or "" when it has none.
func (tag Tag) Value() string {
	if len(tag) > 1 {
		return tag[1]
	}
	return ""
}

type Tags []Tag

// Find returns the first tag with the given key that also has a value
// (i.e. at least 2 items), or nil.
func (tags Tags) Find(key string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == key {
			return v
		}
	}
	return nil
}

// FindWithValue is like Find, but also checks that the value matches.
func (tags Tags) FindWithValue(key, value string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == key && v[1] == value {
			return v
		}
	}
	return nil
}

// FindLast is like Find, but starts at the end.
func (tags Tags) FindLast(key string) Tag {
	for i := len(tags) - 1; i >= 0; i-- {
		v := tags[i]
		if len(v) >= 2 && v[0] == key {
			return v
		}
	}
	return nil
}

// ContainsAny returns true if any tag with the given key has its value in
// the given set. Used for filter tag constraints.
func (tags Tags) ContainsAny(key string, values []string) bool {
	for _, v := range tags {
		if len(v) < 2 || v[0] != key {
			continue
		}
		for _, candidate := range values {
			if v[1] == candidate {
				return true
			}
		}
	}
	return false
}

// GetD gets the first "d" tag value (for addressable events) or "".
func (tags Tags) GetD() string {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == "d" {
			return v[1]
		}
	}
	return ""
}

// CloneDeep creates a new array with clones of these tags inside.
func (tags Tags) CloneDeep() Tags {
	newArr := make(Tags, len(tags))
	for i := range newArr {
		newArr[i] = make(Tag, len(tags[i]))
		copy(newArr[i], tags[i])
	}
	return newArr
}

// marshalTo appends the JSON encoded tags to dst.
func (tags Tags) marshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tag := range tags {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '[')
		for j, s := range tag {
			if j > 0 {
				dst = append(dst, ',')
			}
			dst = escapeString(dst, s)
		}
		dst = append(dst, ']')
	}
	dst = append(dst, ']')
	return dst
}
