package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/whisper/roomsync/internal/chat"
	"github.com/whisper/roomsync/internal/metrics"
	"github.com/whisper/roomsync/internal/protocol"
	"github.com/whisper/roomsync/internal/rooms"
	"github.com/whisper/roomsync/internal/stream"
	"github.com/whisper/roomsync/internal/typing"
)

// HistoryFetcher loads one ascending page of confirmed messages.
type HistoryFetcher interface {
	Fetch(ctx context.Context, roomID string, limit, page int) ([]chat.Message, error)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Self       chat.Participant
	History    HistoryFetcher
	Opener     stream.Opener
	Hint       rooms.OnlineHinter // optional online-count floor
	Membership rooms.Service      // optional, used by JoinRoom and LeaveRoom
	Scheduler  typing.Scheduler   // typing expiry timers (default: typing.RealScheduler)
	Now        func() time.Time   // clock for the typing cooldown (default: time.Now)
}

// View is a read-only snapshot of the session for presentation.
type View struct {
	RoomID           string
	State            State
	Connected        bool
	Messages         []chat.Message
	Pending          int               // unconfirmed optimistic entries
	Online           []string          // sorted online participant identities
	OnlineCount      int               // displayed count, never below the server hint
	Typing           map[string]string // participant -> display name
	TypingSummary    string
	Page             int   // highest history page merged
	HistoryExhausted bool  // an older page came back empty
	HistoryErr       error // last history failure
}

type fetchKind int

const (
	fetchInitial fetchKind = iota
	fetchRefresh
	fetchOlder
)

func (k fetchKind) String() string {
	switch k {
	case fetchInitial:
		return "initial"
	case fetchRefresh:
		return "refresh"
	case fetchOlder:
		return "older"
	}
	return "unknown"
}

// Controller is the room session controller. Its exported methods are safe
// for concurrent use; each runs on the controller's own goroutine.
type Controller struct {
	config Config
	deps   Deps

	inbox    *mailbox
	updates  chan struct{}
	quit     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	// owned by the loop goroutine
	room *room
	gen  uint64
}

// NewController creates a Controller and starts its loop. Call Stop to
// release it.
func NewController(config Config, deps Deps) *Controller {
	def := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.TypingTTL <= 0 {
		config.TypingTTL = def.TypingTTL
	}
	if config.TypingCooldown <= 0 {
		config.TypingCooldown = def.TypingCooldown
	}
	if config.HintTimeout <= 0 {
		config.HintTimeout = def.HintTimeout
	}
	switch {
	case config.EchoWindow == 0:
		config.EchoWindow = def.EchoWindow
	case config.EchoWindow < 0:
		config.EchoWindow = 0
	}
	if deps.Scheduler == nil {
		deps.Scheduler = typing.RealScheduler
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &Controller{
		config:   config,
		deps:     deps,
		inbox:    newMailbox(),
		updates:  make(chan struct{}, 1),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.quit:
			return
		case <-c.inbox.signal:
			for _, op := range c.inbox.drain() {
				op()
			}
		}
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) error {
	select {
	case <-c.quit:
		return ErrStopped
	default:
	}

	done := make(chan struct{})
	c.inbox.push(func() {
		fn()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-c.loopDone:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// postFor queues fn for the room generation gen. Results for a room that has
// since been left or re-entered are dropped.
func (c *Controller) postFor(gen uint64, what string, fn func(r *room)) {
	c.inbox.push(func() { c.runFor(gen, what, fn) })
}

func (c *Controller) runFor(gen uint64, what string, fn func(r *room)) {
	r := c.room
	if r == nil || r.gen != gen {
		metrics.StaleResults.Inc()
		log.Printf("session: discarding stale %s gen=%d", what, gen)
		return
	}
	fn(r)
}

// notify signals Updates without blocking.
func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Updates delivers a signal after state changes; read Snapshot on receipt.
// Signals coalesce. The channel is closed by Stop.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// Stop leaves the current room and terminates the loop.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		_ = c.call(c.teardown)
		close(c.quit)
		<-c.loopDone
		close(c.updates)
	})
}

// -----------------------------------------------------------------------
// Room lifecycle
// -----------------------------------------------------------------------

// Enter switches the session to roomID. The previous room, if any, is torn
// down first. History loading and the stream connection start concurrently;
// Enter does not wait for either. Entering the room the session is already
// connected to is a no-op; entering it again after the stream closed starts a
// fresh session.
func (c *Controller) Enter(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("session: enter: empty room id")
	}
	return c.call(func() {
		if r := c.room; r != nil && r.id == roomID && r.conn.State() != stream.StateClosed {
			return
		}
		c.teardown()
		c.start(roomID)
	})
}

// JoinRoom registers membership of roomID, then enters it.
func (c *Controller) JoinRoom(ctx context.Context, roomID string) error {
	if c.deps.Membership != nil {
		if err := c.deps.Membership.Join(ctx, roomID); err != nil {
			return fmt.Errorf("session: join room %s: %w", roomID, err)
		}
	}
	return c.Enter(roomID)
}

// Leave tears the current room down and returns to Idle. Nothing is
// persisted.
func (c *Controller) Leave() error {
	return c.call(c.teardown)
}

// LeaveRoom gives up membership of the current room and then leaves it. The
// session is torn down even if the membership call fails.
func (c *Controller) LeaveRoom(ctx context.Context) error {
	var roomID string
	if err := c.call(func() {
		if c.room != nil {
			roomID = c.room.id
		}
	}); err != nil {
		return err
	}
	if roomID == "" {
		return ErrNoRoom
	}

	var leaveErr error
	if c.deps.Membership != nil {
		leaveErr = c.deps.Membership.Leave(ctx, roomID)
	}

	if err := c.call(func() {
		if c.room != nil && c.room.id == roomID {
			c.teardown()
		}
	}); err != nil {
		return err
	}
	if leaveErr != nil {
		return fmt.Errorf("session: leave room %s: %w", roomID, leaveErr)
	}
	return nil
}

func (c *Controller) start(roomID string) {
	c.gen++
	gen := c.gen

	r := newRoom(roomID, gen, c.deps.Self, c.config, c.scheduler(gen))
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.typing.OnExpire(func(string) { c.notify() })
	c.room = r

	log.Printf("session: entering room=%s gen=%d", roomID, gen)

	c.fetch(r, 1, fetchInitial)
	r.conn = c.deps.Opener.Open(r.ctx, roomID, stream.Callbacks{
		OnOpen: func() {
			c.postFor(gen, "stream open", c.onOpen)
		},
		OnEvent: func(ev stream.Event) {
			c.postFor(gen, "event "+ev.Type, func(r *room) {
				r.dispatcher.Dispatch(ev)
				c.notify()
			})
		},
		OnClose: func(err error) {
			c.inbox.push(func() {
				// teardown closed it; nothing is waiting for this.
				if r.closedLocally {
					return
				}
				c.runFor(gen, "stream close", func(r *room) { c.onClose(r, err) })
			})
		},
	})
	c.fetchHint(r)
	c.notify()
}

// teardown closes the connection, clears both trackers and discards the
// room. Late results for it are dropped by postFor.
func (c *Controller) teardown() {
	r := c.room
	if r == nil {
		return
	}
	r.state = StateClosing
	log.Printf("session: leaving room=%s gen=%d", r.id, r.gen)

	r.closedLocally = true
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.cancel()
	r.dropLive()

	c.room = nil
	c.notify()
}

// scheduler runs typing expiry callbacks on the loop.
func (c *Controller) scheduler(gen uint64) typing.Scheduler {
	return typing.SchedulerFunc(func(d time.Duration, f func()) typing.Timer {
		return c.deps.Scheduler.AfterFunc(d, func() {
			c.postFor(gen, "typing expiry", func(*room) { f() })
		})
	})
}

func (c *Controller) onOpen(r *room) {
	r.connected = true
	r.connDone = true
	c.activate(r)
	c.notify()
}

func (c *Controller) onClose(r *room, err error) {
	if err != nil {
		log.Printf("session: stream lost room=%s: %v", r.id, err)
	}
	r.connDone = true
	r.dropLive()
	c.activate(r)
	c.notify()
}

// activate moves Loading to Active once history and the connection have
// each resolved.
func (c *Controller) activate(r *room) {
	if r.state == StateLoading && r.historyDone && r.connDone {
		r.state = StateActive
		log.Printf("session: room=%s active connected=%v messages=%d", r.id, r.connected, r.timeline.Len())
	}
}

// -----------------------------------------------------------------------
// History
// -----------------------------------------------------------------------

func (c *Controller) fetch(r *room, page int, kind fetchKind) {
	ctx, gen, roomID, limit := r.ctx, r.gen, r.id, c.config.PageSize
	go func() {
		msgs, err := c.deps.History.Fetch(ctx, roomID, limit, page)
		c.postFor(gen, "history "+kind.String(), func(r *room) {
			c.onHistory(r, kind, page, msgs, err)
		})
	}()
}

func (c *Controller) onHistory(r *room, kind fetchKind, page int, msgs []chat.Message, err error) {
	if err != nil {
		log.Printf("session: history %s room=%s page=%d: %v", kind, r.id, page, err)
		r.historyErr = err
	}

	switch kind {
	case fetchInitial:
		r.historyDone = true
		if err == nil {
			r.timeline.LoadHistory(msgs)
			if r.page < 1 {
				r.page = 1
			}
		}
	case fetchRefresh:
		r.refreshing = false
		r.historyDone = true
		if err == nil {
			// Confirmed messages that arrived while the page was in flight
			// may be newer than it; keep them behind the page.
			r.timeline.Replace(r.refreshLive)
			r.timeline.LoadHistory(msgs)
			r.page = 1
			r.exhausted = false
			r.historyErr = nil
		}
		r.refreshLive = nil
	case fetchOlder:
		r.loadingOlder = false
		if err == nil {
			if len(msgs) == 0 {
				r.exhausted = true
			} else {
				r.timeline.LoadHistory(msgs)
				r.page = page
			}
		}
	}

	c.activate(r)
	c.notify()
}

// Refresh replaces the timeline with a fresh first history page, dropping
// pending optimistic entries and system notices. Confirmed messages received
// while the fetch is in flight are kept after the page unless it already
// holds them. It returns once the fetch is issued.
func (c *Controller) Refresh() error {
	var rerr error
	err := c.call(func() {
		r := c.room
		if r == nil {
			rerr = ErrNoRoom
			return
		}
		if r.refreshing {
			return
		}
		r.refreshing = true
		r.refreshLive = nil
		c.fetch(r, 1, fetchRefresh)
		c.fetchHint(r)
	})
	if err != nil {
		return err
	}
	return rerr
}

// LoadOlder fetches the page after the highest one merged and merges it in
// front of the timeline. It is a no-op while one is in flight or after an
// empty page.
func (c *Controller) LoadOlder() error {
	var rerr error
	err := c.call(func() {
		r := c.room
		if r == nil {
			rerr = ErrNoRoom
			return
		}
		if r.loadingOlder || r.exhausted {
			return
		}
		r.loadingOlder = true
		c.fetch(r, r.page+1, fetchOlder)
	})
	if err != nil {
		return err
	}
	return rerr
}

func (c *Controller) fetchHint(r *room) {
	if c.deps.Hint == nil {
		return
	}
	ctx, gen, roomID, timeout := r.ctx, r.gen, r.id, c.config.HintTimeout
	go func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		n, err := c.deps.Hint.OnlineHint(ctx, roomID)
		if err != nil {
			log.Printf("session: online hint room=%s: %v", roomID, err)
			return
		}
		c.postFor(gen, "online hint", func(r *room) {
			r.hint = n
			c.notify()
		})
	}()
}

// -----------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------

// Send appends content optimistically and transmits it. It returns the
// temporary identity of the entry. Validation failures return the chat
// sentinel errors without touching the timeline; a transport failure rolls
// the entry back and returns a *SendError carrying the content.
func (c *Controller) Send(content string) (string, error) {
	var (
		tempID  string
		sendErr error
	)
	err := c.call(func() {
		r := c.room
		if r == nil {
			sendErr = ErrNoRoom
			return
		}

		m, err := r.timeline.SendOptimistic(content)
		if err != nil {
			sendErr = err
			return
		}
		c.notify()

		if err := r.conn.Send(protocol.TypeMessageSend, protocol.SendMessageMsg{Content: m.Content}); err != nil {
			restored, _ := r.timeline.Rollback(m.ID)
			metrics.RollbacksTotal.Inc()
			metrics.OutboundTotal.WithLabelValues(protocol.TypeMessageSend, "error").Inc()
			log.Printf("session: send failed room=%s temp=%s: %v", r.id, m.ID, err)
			sendErr = &SendError{Content: restored, Err: err}
			return
		}
		metrics.OutboundTotal.WithLabelValues(protocol.TypeMessageSend, "ok").Inc()
		tempID = m.ID
	})
	if err != nil {
		return "", err
	}
	return tempID, sendErr
}

// Typing signals that the acting user is composing. Pings are sent at most
// once per cooldown window; it reports whether one was sent.
func (c *Controller) Typing() (bool, error) {
	var (
		sent bool
		terr error
	)
	err := c.call(func() {
		r := c.room
		if r == nil {
			terr = ErrNoRoom
			return
		}
		if r.conn.State() != stream.StateOpen {
			terr = stream.ErrNotOpen
			return
		}
		if !r.throttle.AllowAt(c.deps.Now()) {
			return
		}
		if err := r.conn.Send(protocol.TypeTypingPing, protocol.TypingPingMsg{}); err != nil {
			metrics.OutboundTotal.WithLabelValues(protocol.TypeTypingPing, "error").Inc()
			terr = err
			return
		}
		metrics.OutboundTotal.WithLabelValues(protocol.TypeTypingPing, "ok").Inc()
		sent = true
	})
	if err != nil {
		return false, err
	}
	return sent, terr
}

// Snapshot returns the current view. With no room entered it reports
// StateIdle and nothing else.
func (c *Controller) Snapshot() (View, error) {
	var v View
	err := c.call(func() {
		if c.room == nil {
			v = View{State: StateIdle}
			return
		}
		v = c.room.view()
	})
	return v, err
}

// IsSendError reports whether err carries content to restore, and returns it.
func IsSendError(err error) (string, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se.Content, true
	}
	return "", false
}
