package events

// Event is a typed record of a committed state change. Attributes are
// stringly typed so events survive JSON transport and log pipelines
// without schema coupling.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy so subscribers cannot mutate shared state.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Attributes: attrs}
}

// Emitter broadcasts events to downstream subscribers (RPC stream, logs,
// indexers).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies Emitter while discarding all events. Components
// that expose optional events default to it.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(*Event) {}
