package sim

import "sync"

// WakeupEvent asks a component to run one processing pass.
type WakeupEvent struct {
	EventBase
}

// MakeWakeupEvent creates a new WakeupEvent.
func MakeWakeupEvent(handler Handler, time VTime) WakeupEvent {
	evt := WakeupEvent{}
	evt.ID = GetIDGenerator().Generate()
	evt.handler = handler
	evt.time = time

	return evt
}

// WakeupScheduler schedules wakeups for a single handler. Asking for a wakeup
// at a time that already has one pending is a no-op, so a component can
// request its next pass from several places without running twice in the
// same tick.
type WakeupScheduler struct {
	lock    sync.Mutex
	handler Handler
	Engine  Engine

	pending map[VTime]struct{}
}

// NewWakeupScheduler creates a scheduler for wakeup events.
func NewWakeupScheduler(handler Handler, engine Engine) *WakeupScheduler {
	s := new(WakeupScheduler)
	s.handler = handler
	s.Engine = engine
	s.pending = make(map[VTime]struct{})

	return s
}

// WakeupAt schedules a wakeup at the given time unless one is pending.
func (s *WakeupScheduler) WakeupAt(t VTime) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, found := s.pending[t]; found {
		return
	}

	s.pending[t] = struct{}{}
	s.Engine.Schedule(MakeWakeupEvent(s.handler, t))
}

// Consume marks the wakeup at the given time as delivered. It returns false
// if no wakeup was pending at that time.
func (s *WakeupScheduler) Consume(t VTime) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, found := s.pending[t]; !found {
		return false
	}

	delete(s.pending, t)

	return true
}

// NumPending returns how many wakeups are scheduled but not delivered.
func (s *WakeupScheduler) NumPending() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.pending)
}

// CurrentTime returns the current time of the engine.
func (s *WakeupScheduler) CurrentTime() VTime {
	return s.Engine.CurrentTime()
}
