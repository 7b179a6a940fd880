package output

// EventPublisher is the outbound message bus. Publishing is fire-and-forget;
// delivery failures are the publisher's concern.
type EventPublisher interface {
	Publish(topic string, payload any)
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

// Publish implements EventPublisher.
func (NoOpPublisher) Publish(_ string, _ any) {}
