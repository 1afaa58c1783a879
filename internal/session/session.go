// Package session implements the room session controller. A Controller binds
// the acting user to one room at a time: it loads history, opens the room
// stream and feeds both into the reconciled timeline and the presence and
// typing trackers. All of that state is owned by a single goroutine; callers
// and transports talk to it by posting work into its mailbox.
package session

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of the controller.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrNoRoom is returned by room operations while no room is entered.
	ErrNoRoom = errors.New("session: no active room")
	// ErrStopped is returned by every operation after Stop.
	ErrStopped = errors.New("session: controller stopped")
)

// SendError reports a failed send. The optimistic entry has been rolled back;
// Content is the text to put back into the input.
type SendError struct {
	Content string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("session: send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Config holds session tuning parameters.
type Config struct {
	PageSize       int           // history page size (default: 50)
	TypingTTL      time.Duration // how long a typing indicator lives (default: 3s)
	TypingCooldown time.Duration // minimum gap between outbound typing pings (default: 3s)
	EchoWindow     int           // trailing entries checked for own echoes (default: 5, negative disables)
	HintTimeout    time.Duration // timeout for the online-count hint lookup (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:       50,
		TypingTTL:      3 * time.Second,
		TypingCooldown: 3 * time.Second,
		EchoWindow:     5,
		HintTimeout:    5 * time.Second,
	}
}
