package workflow

// Event names emitted by the engine. Delivery guarantees are the sink's
// responsibility; the engine publishes after commit and never blocks on it.
const (
	EventImagePreprocessed   = "image.preprocessed"
	EventAssignmentCreated   = "assignment.created"
	EventAnnotationSubmitted = "annotation.submitted"
	EventVerificationDecided = "verification.decided"
)

// Event is a fire-and-forget fact about a committed workflow mutation.
type Event struct {
	Type     string         `json:"type"`
	Entity   string         `json:"entity"`
	EntityID uint           `json:"entity_id"`
	BatchID  uint           `json:"batch_id,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// EventSink receives engine events. Implementations must not block.
type EventSink interface {
	Publish(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event) {}
