package session

import (
	"context"
	"log"

	"github.com/whisper/roomsync/internal/chat"
	"github.com/whisper/roomsync/internal/metrics"
	"github.com/whisper/roomsync/internal/presence"
	"github.com/whisper/roomsync/internal/protocol"
	"github.com/whisper/roomsync/internal/ratelimit"
	"github.com/whisper/roomsync/internal/stream"
	"github.com/whisper/roomsync/internal/typing"
)

// room is everything the controller holds for the room it is in. It is only
// touched from the controller loop.
type room struct {
	id    string
	gen   uint64
	state State

	ctx    context.Context
	cancel context.CancelFunc
	conn   stream.Conn

	timeline   *chat.Timeline
	presence   *presence.Tracker
	typing     *typing.Tracker
	throttle   *ratelimit.Throttle
	dispatcher *stream.Dispatcher

	historyDone bool // initial history fetch resolved
	connDone    bool // stream opened or closed at least once
	connected   bool

	closedLocally bool // set by teardown before it closes the stream

	refreshing   bool
	refreshLive  []chat.Message // confirmed live messages seen during a refresh
	loadingOlder bool
	exhausted    bool  // an older-page fetch came back empty
	page         int   // highest history page merged
	hint         int   // server-side online count floor
	historyErr   error // last history failure, cleared by a good refresh
}

func newRoom(id string, gen uint64, self chat.Participant, config Config, sched typing.Scheduler) *room {
	r := &room{
		id:       id,
		gen:      gen,
		state:    StateLoading,
		timeline: chat.NewTimeline(id, self),
		presence: presence.NewTracker(self.ID),
		typing:   typing.NewTracker(self.ID, config.TypingTTL, sched),
		throttle: ratelimit.NewThrottle(ratelimit.Rule{
			Name:   ratelimit.RuleTyping.Name,
			Limit:  ratelimit.RuleTyping.Limit,
			Window: config.TypingCooldown,
		}),
	}
	r.timeline.SetEchoWindow(config.EchoWindow)

	d := stream.NewDispatcher()
	d.Register(protocol.TypeMessageNew, r.handleMessage)
	d.Register(protocol.TypeUserJoined, r.handlePresence(chat.NoticeJoined, true))
	d.Register(protocol.TypeUserOnline, r.handlePresence(chat.NoticeOnline, true))
	d.Register(protocol.TypeUserLeft, r.handlePresence(chat.NoticeLeft, false))
	d.Register(protocol.TypeUserOffline, r.handlePresence(chat.NoticeOffline, false))
	d.Register(protocol.TypeUserTyping, r.handleTyping)
	r.dispatcher = d
	return r
}

// -----------------------------------------------------------------------
// Event handlers
// -----------------------------------------------------------------------

func (r *room) handleMessage(msg interface{}) {
	ev, ok := msg.(protocol.MessageNewMsg)
	if !ok {
		return
	}
	m := chat.FromEvent(ev)
	if m.RoomID == "" {
		m.RoomID = r.id
	} else if m.RoomID != r.id {
		log.Printf("session: ignoring message id=%s for room=%s in room=%s", m.ID, m.RoomID, r.id)
		return
	}

	outcome := r.timeline.ApplyIncoming(m)
	metrics.ReconcileTotal.WithLabelValues(outcome.String()).Inc()
	if r.refreshing && (outcome == chat.Appended || outcome == chat.Promoted) {
		r.refreshLive = append(r.refreshLive, m)
	}

	// A delivered message ends that author's typing burst.
	r.typing.Remove(m.UserID)
}

func (r *room) handlePresence(kind chat.NoticeKind, online bool) stream.Handler {
	return func(msg interface{}) {
		p, ok := msg.(protocol.PresenceMsg)
		if !ok {
			return
		}
		who := chat.Participant{ID: p.UserID.String(), Name: p.UserName}

		var notice bool
		if online {
			notice = r.presence.OnJoinOrOnline(who.ID)
		} else {
			notice = r.presence.OnLeaveOrOffline(who.ID, string(kind))
			r.typing.Remove(who.ID)
		}
		if notice {
			r.timeline.AppendNotice(kind, who)
		}
		metrics.OnlineParticipants.Set(float64(r.presence.Count()))
	}
}

func (r *room) handleTyping(msg interface{}) {
	t, ok := msg.(protocol.TypingMsg)
	if !ok {
		return
	}
	r.typing.OnTyping(t.UserID.String(), t.UserName)
}

// dropLive clears everything derived from the live stream. The timeline is
// kept as the last known good state.
func (r *room) dropLive() {
	r.connected = false
	r.hint = 0
	r.presence.Clear()
	r.typing.Clear()
	metrics.OnlineParticipants.Set(0)
}

// view renders a read-only snapshot.
func (r *room) view() View {
	typists := r.typing.Snapshot()
	count := presence.DisplayCount(r.presence.Count(), r.hint)
	if r.connected && count == 0 {
		// The acting user is in the room even before anyone announces it.
		count = 1
	}
	return View{
		RoomID:           r.id,
		State:            r.state,
		Connected:        r.connected,
		Messages:         r.timeline.Messages(),
		Pending:          r.timeline.Pending(),
		Online:           r.presence.Members(),
		OnlineCount:      count,
		Typing:           typists,
		TypingSummary:    typing.Summary(typists),
		Page:             r.page,
		HistoryExhausted: r.exhausted,
		HistoryErr:       r.historyErr,
	}
}
