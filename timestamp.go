package nostrkit

import "time"

// Timestamp is a unix timestamp in seconds, the only time representation
// that appears on the wire.
type Timestamp int64

func Now() Timestamp {
	return Timestamp(time.Now().Unix())
}

func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0)
}
