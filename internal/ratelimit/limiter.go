// Package ratelimit provides local, in-process throttling of outbound
// signals. It keeps the client from flooding the room stream with events the
// server would otherwise have to drop.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/whisper/roomsync/internal/metrics"
)

// Rule defines a throttling policy: at most Limit events per Window.
type Rule struct {
	Name   string        // metrics label for refused events
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleTyping allows one typing ping per 3 seconds regardless of keystroke
// frequency.
var RuleTyping = Rule{Name: "typing", Limit: 1, Window: 3 * time.Second}

// Throttle is a token bucket built from a Rule. It is safe for concurrent
// use.
type Throttle struct {
	rule Rule
	mu   sync.Mutex
	lim  *rate.Limiter
}

// NewThrottle creates a Throttle for rule. A non-positive Limit or Window
// yields a throttle that allows everything.
func NewThrottle(rule Rule) *Throttle {
	th := &Throttle{rule: rule}
	th.lim = newLimiter(rule)
	return th
}

func newLimiter(rule Rule) *rate.Limiter {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Limit)), rule.Limit)
}

// AllowAt reports whether an event may be sent at now and consumes a token
// if so. Refused events are counted under the rule's name.
func (th *Throttle) AllowAt(now time.Time) bool {
	th.mu.Lock()
	ok := th.lim.AllowN(now, 1)
	th.mu.Unlock()
	if !ok {
		metrics.ThrottledTotal.WithLabelValues(th.rule.Name).Inc()
	}
	return ok
}
