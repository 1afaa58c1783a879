// Package presence tracks which participants of a room are currently online,
// derived from join/leave and online/offline events.
package presence

import "sort"

// Tracker holds the online set of one room. Transitions are idempotent: a
// repeated online event for a present participant changes nothing.
//
// A Tracker is not safe for concurrent use; its owner serializes access.
type Tracker struct {
	self     string
	online   map[string]struct{}
	departed map[string]string // participant -> last departure event kind
}

// NewTracker creates an empty tracker. self is the acting user's identity;
// its transitions are recorded but never produce notices.
func NewTracker(self string) *Tracker {
	return &Tracker{
		self:     self,
		online:   make(map[string]struct{}),
		departed: make(map[string]string),
	}
}

// OnJoinOrOnline marks participant as online. It reports whether a visible
// notice should be emitted: only when the participant was not already online
// and is not the acting user.
func (t *Tracker) OnJoinOrOnline(participant string) bool {
	if participant == "" {
		return false
	}
	delete(t.departed, participant)
	if _, ok := t.online[participant]; ok {
		return false
	}
	t.online[participant] = struct{}{}
	return participant != t.self
}

// OnLeaveOrOffline removes participant from the online set. via names the
// departure event ("left", "offline"). It reports whether a visible notice
// should be emitted: never for the acting user, and not for a repeat of the
// same departure event with no arrival in between. Removing the participant
// clears its online-notice suppression, so a later rejoin produces a fresh
// notice.
func (t *Tracker) OnLeaveOrOffline(participant, via string) bool {
	if participant == "" {
		return false
	}
	delete(t.online, participant)
	if last, ok := t.departed[participant]; ok && last == via {
		return false
	}
	t.departed[participant] = via
	return participant != t.self
}

// IsOnline reports whether participant is in the online set.
func (t *Tracker) IsOnline(participant string) bool {
	_, ok := t.online[participant]
	return ok
}

// Count returns the size of the online set.
func (t *Tracker) Count() int {
	return len(t.online)
}

// Members returns the online participants in sorted order.
func (t *Tracker) Members() []string {
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear empties the tracker in one step, without per-participant notices.
// It is used when the connection closes.
func (t *Tracker) Clear() {
	t.online = make(map[string]struct{})
	t.departed = make(map[string]string)
}

// DisplayCount returns the number of participants to show as online: the
// local set size, floored by a server-reported hint.
func DisplayCount(local, hint int) int {
	if hint > local {
		return hint
	}
	return local
}
