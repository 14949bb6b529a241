package nostrkit

// EventBuilder assembles an event incrementally. The zero CreatedAt is
// filled with the current time at build/sign time.
type EventBuilder struct {
	kind      int
	content   string
	tags      Tags
	createdAt Timestamp
}

// NewEventBuilder starts building an event of the given kind.
func NewEventBuilder(kind int) *EventBuilder {
	return &EventBuilder{kind: kind}
}

func (b *EventBuilder) Content(content string) *EventBuilder {
	b.content = content
	return b
}

func (b *EventBuilder) Tag(tag ...string) *EventBuilder {
	b.tags = append(b.tags, Tag(tag))
	return b
}

func (b *EventBuilder) Tags(tags Tags) *EventBuilder {
	b.tags = append(b.tags, tags...)
	return b
}

func (b *EventBuilder) CreatedAt(ts Timestamp) *EventBuilder {
	b.createdAt = ts
	return b
}

// Build returns the unsigned event.
func (b *EventBuilder) Build() Event {
	createdAt := b.createdAt
	if createdAt == 0 {
		createdAt = Now()
	}

	tags := b.tags
	if tags == nil {
		tags = make(Tags, 0)
	}

	return Event{
		Kind:      b.kind,
		Content:   b.content,
		Tags:      tags,
		CreatedAt: createdAt,
	}
}

// Sign builds the event and signs it with the given hex secret key,
// filling ID, PubKey and Sig.
func (b *EventBuilder) Sign(secretKey string) (Event, error) {
	evt := b.Build()
	if err := evt.Sign(secretKey); err != nil {
		return Event{}, err
	}
	return evt, nil
}
