package gen

import (
	"sync"

	"github.com/nodecrew/beamkit"
)

// EventKind tags a lifecycle event, per spec §6 "Process lifecycle events".
type EventKind string

const (
	EventStarted          EventKind = "started"
	EventStopped          EventKind = "stopped"
	EventStateRestored    EventKind = "state_restored"
	EventStatePersisted   EventKind = "state_persisted"
	EventPersistenceError EventKind = "persistence_error"
	EventProcessDown      EventKind = "process_down"
)

// Event is broadcast to every subscriber currently registered at the
// moment of emission (at-least-once, no replay for late subscribers).
type Event struct {
	Kind   EventKind
	Handle beamkit.Handle // the process the event is about

	Stats          Stats          // EventStarted
	StopReason     Reason         // EventStopped
	Meta           interface{}    // EventStateRestored / EventStatePersisted: persistence.Metadata
	Err            error          // EventPersistenceError
	Down           DownInfo       // EventProcessDown
	DownWatcher    beamkit.Handle // who the DownInfo is for
}

// Stats is a per-process snapshot fragment, also reused by observer.
type Stats struct {
	ID              string
	Name            string
	MessageCount    uint64
	LastMessageUnix int64
	StartUnix       int64
}

// Subscription is returned by Subscribe; call Unsubscribe to stop
// receiving events.
type Subscription struct {
	id  uint64
	bus *eventBus
}

func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
}

type eventBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]func(Event)
	logger   beamkit.Logger
}

func newEventBus(logger beamkit.Logger) *eventBus {
	if logger == nil {
		logger = beamkit.NewNopLogger()
	}
	return &eventBus{handlers: make(map[uint64]func(Event)), logger: logger}
}

func (b *eventBus) subscribe(handler func(Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = handler
	return &Subscription{id: id, bus: b}
}

func (b *eventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// publish broadcasts ev to every handler registered right now. Handlers
// must not block; panics are caught and discarded per spec §4.1.
func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeInvoke(h, ev)
	}
}

func (b *eventBus) safeInvoke(h func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warnw("lifecycle subscriber panicked", "recover", r)
		}
	}()
	h(ev)
}
