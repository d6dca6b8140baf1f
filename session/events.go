package session

// EventType identifies what a session event announces.
type EventType string

const (
	// EventStateChanged fires on every state-machine transition.
	EventStateChanged EventType = "state_changed"

	// EventSessionEstablished fires once when a flow reaches Authenticated.
	EventSessionEstablished EventType = "session_established"

	// EventSessionInvalidated fires when local auth data is cleared so
	// dependent subsystems (catalog caches, reader state) purge their own
	// state.
	EventSessionInvalidated EventType = "session_invalidated"
)

type Event struct {
	Type  EventType
	State State
	Err   error
}

// Subscribe registers fn for session events and returns an unsubscribe
// function. Events are delivered synchronously on the goroutine that caused
// the transition; subscribers must not call back into the Manager from the
// handler.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Manager) emit(events ...Event) {
	m.subMu.Lock()
	subscribers := make([]func(Event), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subscribers = append(subscribers, fn)
	}
	m.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range subscribers {
			fn(ev)
		}
	}
}
