// Package typing tracks which other participants are currently composing a
// message. Every entry expires on its own timer unless refreshed.
package typing

import (
	"fmt"
	"sort"
	"time"
)

// DefaultTTL is how long a typing indicator stays visible after the last
// typing event from a participant.
const DefaultTTL = 3 * time.Second

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. Implementations decide on which execution
// context f runs; the session controller routes it back onto its own loop.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(d time.Duration, f func()) Timer

// AfterFunc implements Scheduler.
func (fn SchedulerFunc) AfterFunc(d time.Duration, f func()) Timer {
	return fn(d, f)
}

// RealScheduler schedules callbacks with time.AfterFunc. The callback runs on
// its own goroutine.
var RealScheduler Scheduler = SchedulerFunc(func(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
})

type entry struct {
	name  string
	seq   uint64
	timer Timer
}

// Tracker maps participant identity to display name for everyone typing
// within the last TTL.
//
// A Tracker is not safe for concurrent use; the scheduler must deliver expiry
// callbacks on the same execution context as the other calls.
type Tracker struct {
	self     string
	ttl      time.Duration
	sched    Scheduler
	entries  map[string]*entry
	seq      uint64
	onExpire func(participant string)
}

// NewTracker creates a tracker ignoring the acting user self.
func NewTracker(self string, ttl time.Duration, sched Scheduler) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sched == nil {
		sched = RealScheduler
	}
	return &Tracker{
		self:    self,
		ttl:     ttl,
		sched:   sched,
		entries: make(map[string]*entry),
	}
}

// OnExpire registers a callback invoked after an entry times out.
func (t *Tracker) OnExpire(fn func(participant string)) {
	t.onExpire = fn
}

// OnTyping records that participant is typing and restarts its expiry timer.
// Events from the acting user are ignored. It reports whether the map changed
// visibly (a new participant or a new display name).
func (t *Tracker) OnTyping(participant, displayName string) bool {
	if participant == "" || participant == t.self {
		return false
	}

	e, ok := t.entries[participant]
	changed := !ok || e.name != displayName
	if ok {
		e.timer.Stop()
	} else {
		e = &entry{}
		t.entries[participant] = e
	}

	t.seq++
	seq := t.seq
	e.name = displayName
	e.seq = seq
	e.timer = t.sched.AfterFunc(t.ttl, func() { t.expire(participant, seq) })
	return changed
}

// expire drops participant if the firing timer is still the current one. A
// timer that fired after being replaced carries a stale seq and is ignored.
func (t *Tracker) expire(participant string, seq uint64) {
	e, ok := t.entries[participant]
	if !ok || e.seq != seq {
		return
	}
	delete(t.entries, participant)
	if t.onExpire != nil {
		t.onExpire(participant)
	}
}

// Remove drops participant immediately, e.g. when their message arrives.
func (t *Tracker) Remove(participant string) bool {
	e, ok := t.entries[participant]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, participant)
	return true
}

// Clear cancels every timer and empties the map.
func (t *Tracker) Clear() {
	for id, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, id)
	}
}

// IsTyping reports whether participant currently has an entry.
func (t *Tracker) IsTyping(participant string) bool {
	_, ok := t.entries[participant]
	return ok
}

// Len returns the number of participants typing.
func (t *Tracker) Len() int {
	return len(t.entries)
}

// Snapshot returns a copy of the participant -> display name map.
func (t *Tracker) Snapshot() map[string]string {
	out := make(map[string]string, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.name
	}
	return out
}

// Summary renders the indicator line: "<name> is typing..." for one
// participant, "<n> users are typing..." for several, "" for none.
func Summary(typists map[string]string) string {
	switch len(typists) {
	case 0:
		return ""
	case 1:
		for _, name := range typists {
			if name == "" {
				name = "Someone"
			}
			return name + " is typing..."
		}
	}
	return fmt.Sprintf("%d users are typing...", len(typists))
}

// Names returns the display names of everyone typing, sorted.
func Names(typists map[string]string) []string {
	out := make([]string, 0, len(typists))
	for _, name := range typists {
		if name == "" {
			name = "Someone"
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
