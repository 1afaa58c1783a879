package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/whisper/roomsync/internal/session"
	"github.com/whisper/roomsync/internal/typing"
)

// renderer prints confirmed timeline entries once each, plus changes to the
// connection and typing lines.
type renderer struct {
	out       io.Writer
	printed   map[string]struct{}
	connected bool
	typing    string
	online    int
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: make(map[string]struct{})}
}

func (r *renderer) render(v session.View) {
	if v.Connected != r.connected {
		r.connected = v.Connected
		if v.Connected {
			fmt.Fprintf(r.out, "-- connected to room %s\n", v.RoomID)
		} else if v.State != session.StateIdle {
			fmt.Fprintf(r.out, "-- disconnected from room %s\n", v.RoomID)
		}
	}

	for _, m := range v.Messages {
		if m.IsOptimistic {
			continue
		}
		if _, ok := r.printed[m.ID]; ok {
			continue
		}
		r.printed[m.ID] = struct{}{}
		if m.IsSystem {
			fmt.Fprintf(r.out, "   * %s\n", m.Content)
			continue
		}
		fmt.Fprintf(r.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.UserName, m.Content)
	}

	if v.OnlineCount != r.online {
		r.online = v.OnlineCount
		fmt.Fprintf(r.out, "-- %d online\n", v.OnlineCount)
	}
	if line := typingLine(v); line != r.typing {
		r.typing = line
		if line != "" {
			fmt.Fprintf(r.out, "   %s\n", line)
		}
	}
}

// typingLine is the summary, followed by the names when several are typing.
func typingLine(v session.View) string {
	if len(v.Typing) < 2 {
		return v.TypingSummary
	}
	return v.TypingSummary + " (" + strings.Join(typing.Names(v.Typing), ", ") + ")"
}
