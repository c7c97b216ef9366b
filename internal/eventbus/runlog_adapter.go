package eventbus

// RunlogAdapter adapts internal/runlog.Store's event-persistence methods
// into the TailStore interface Bus expects, without eventbus importing
// internal/runlog directly — the composition root (internal/server)
// supplies the two closures at wiring time.
type RunlogAdapter struct {
	Append func(topic string, seq int64, payload []byte) error
	Tail   func(topic string) ([]TailEvent, error)
}

// AppendEvent implements TailStore.
func (a RunlogAdapter) AppendEvent(topic string, seq int64, payload []byte) error {
	return a.Append(topic, seq, payload)
}

// TailEvents implements TailStore.
func (a RunlogAdapter) TailEvents(topic string) ([]TailEvent, error) {
	return a.Tail(topic)
}
