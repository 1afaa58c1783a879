package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/roomsync/internal/protocol"
	"github.com/whisper/roomsync/internal/stream"
)

func TestSubjects(t *testing.T) {
	if got := EventsSubject("12"); got != "room.12.events" {
		t.Errorf("unexpected events subject %q", got)
	}
	if got := SendSubject("12"); got != "room.12.send" {
		t.Errorf("unexpected send subject %q", got)
	}
}

func TestRoomConn_HandleMsg(t *testing.T) {
	var got []stream.Event
	c := &RoomConn{
		RoomID: "1",
		cb:     stream.Callbacks{OnEvent: func(ev stream.Event) { got = append(got, ev) }},
		done:   make(chan struct{}),
	}
	c.state.Store(int32(stream.StateOpen))

	for _, data := range []string{
		`{"type":"room.typing","user_id":4,"user_name":"dee"}`,
		`garbage`,
		`{"type":"message.new","user_id":4,"content":"missing id"}`,
		`{"type":"room.user_left","userId":"4"}`,
	} {
		c.handleMsg(&nats.Msg{Subject: EventsSubject("1"), Data: []byte(data)})
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 decoded events, got %d", len(got))
	}
	if got[0].Type != protocol.TypeUserTyping {
		t.Errorf("expected typing first, got %q", got[0].Type)
	}
	if m, ok := got[1].Msg.(protocol.PresenceMsg); !ok || m.UserID != "4" {
		t.Errorf("unexpected presence event %+v", got[1].Msg)
	}
}

func TestRoomConn_IgnoresEventsAfterClose(t *testing.T) {
	called := false
	c := &RoomConn{
		RoomID: "1",
		cb:     stream.Callbacks{OnEvent: func(stream.Event) { called = true }},
		done:   make(chan struct{}),
	}
	c.Close()
	c.handleMsg(&nats.Msg{Data: []byte(`{"type":"user.online","user_id":1}`)})
	if called {
		t.Fatal("closed stream must not deliver events")
	}
}

func TestRoomConn_SendRequiresOpen(t *testing.T) {
	c := &RoomConn{RoomID: "1", done: make(chan struct{})}
	if err := c.Send(protocol.TypeMessageSend, protocol.SendMessageMsg{Content: "hi"}); !errors.Is(err, stream.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen while connecting, got %v", err)
	}
	c.Close()
	if err := c.Send(protocol.TypeMessageSend, protocol.SendMessageMsg{Content: "hi"}); !errors.Is(err, stream.ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestRoomConn_CloseFiresOnce(t *testing.T) {
	n := 0
	c := &RoomConn{RoomID: "1", cb: stream.Callbacks{OnClose: func(error) { n++ }}, done: make(chan struct{})}
	c.Close()
	c.Close()
	if n != 1 {
		t.Fatalf("expected OnClose once, got %d", n)
	}
}

// Tests below require a running NATS server on localhost:4222.
func TestRoomConn_RoundTrip(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.UserID = "7"
	peer, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer peer.Close()

	outbound := make(chan *nats.Msg, 1)
	if err := peer.Subscribe(SendSubject("rt"), func(m *nats.Msg) { outbound <- m }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	opened := make(chan struct{}, 1)
	events := make(chan stream.Event, 1)
	closed := make(chan error, 1)
	c := NewOpener(cfg).Open(context.Background(), "rt", stream.Callbacks{
		OnOpen:  func() { opened <- struct{}{} },
		OnEvent: func(ev stream.Event) { events <- ev },
		OnClose: func(err error) { closed <- err },
	})

	select {
	case <-opened:
	case err := <-closed:
		t.Fatalf("closed before open: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("stream never opened")
	}

	msg := nats.NewMsg(EventsSubject("rt"))
	msg.Data = []byte(`{"type":"user.online","user_id":9}`)
	if err := peer.PublishMsg(msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Type != protocol.TypeUserOnline {
			t.Errorf("unexpected event %q", ev.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered")
	}

	if err := c.Send(protocol.TypeTypingPing, protocol.TypingPingMsg{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case m := <-outbound:
		if m.Header.Get(HeaderUser) != "7" {
			t.Errorf("expected user header 7, got %q", m.Header.Get(HeaderUser))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("outbound message not received")
	}

	c.Close()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("explicit close should report nil, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("close not reported")
	}
}

func TestNATSClient_Unsubscribe(t *testing.T) {
	client, err := NewNATSClient(DefaultNATSConfig())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer client.Close()

	got := make(chan struct{}, 4)
	subject := EventsSubject("unsub")
	if err := client.Subscribe(subject, func(*nats.Msg) { got <- struct{}{} }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Unsubscribe(subject); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := client.Unsubscribe(subject); err == nil {
		t.Error("expected error unsubscribing twice")
	}

	msg := nats.NewMsg(subject)
	msg.Data = []byte(`{"type":"user.online","user_id":9}`)
	if err := client.PublishMsg(msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	select {
	case <-got:
		t.Error("handler ran after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}
