package gen

import (
	"time"

	"github.com/google/uuid"
)

// sendAfter schedules msg to be delivered to p as an info envelope after d.
// The timer is tracked in p.timers so Timer.Cancel can stop it before it
// fires; firing removes the record since time.AfterFunc never re-fires.
func (p *process) sendAfter(d time.Duration, msg interface{}) Timer {
	id := uuid.NewString()

	t := time.AfterFunc(d, func() {
		p.mu.Lock()
		_, stillPending := p.timers[id]
		delete(p.timers, id)
		p.mu.Unlock()
		if !stillPending {
			return
		}
		if !p.isAlive() {
			return
		}
		p.enqueue(envelope{kind: envInfo, msg: msg})
	})

	p.mu.Lock()
	p.timers[id] = &timerRecord{id: id, cancel: t.Stop}
	p.mu.Unlock()

	return Timer{id: id, process: p}
}

// cancelTimer stops a pending timer. Returns false if it already fired or
// was already cancelled.
func (p *process) cancelTimer(id string) bool {
	p.mu.Lock()
	rec, ok := p.timers[id]
	if ok {
		delete(p.timers, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	return rec.cancel()
}

// cancelAllTimers stops every outstanding timer, used during terminate so
// a dead process never fires a stray info message into a closed mailbox.
func (p *process) cancelAllTimers() {
	p.mu.Lock()
	timers := make([]*timerRecord, 0, len(p.timers))
	for _, t := range p.timers {
		timers = append(timers, t)
	}
	p.timers = make(map[string]*timerRecord)
	p.mu.Unlock()
	for _, t := range timers {
		t.cancel()
	}
}
