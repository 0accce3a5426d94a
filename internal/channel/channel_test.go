package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/innosphere/chatsync/internal/bus"
	"github.com/innosphere/chatsync/internal/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func waitTopic(t *testing.T, ch <-chan bus.Event, topic string) bus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Topic == topic {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", topic)
		}
	}
}

func TestReceivePublishesToBus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("token"); got != "tok-1" {
			t.Errorf("token = %q", got)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		frame := `{"type":"new_message","id":5,"sender_id":42,"receiver_id":1,"sender_name":"Sarah Chen","content":"Hello","timestamp":"2026-02-01T10:30:00"}`
		if err := conn.Write(r.Context(), websocket.MessageText, []byte(frame)); err != nil {
			t.Error(err)
		}
		time.Sleep(100 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	b := bus.New()
	events, unsub := b.Subscribe("channel.", 16)
	defer unsub()

	m := New(srv.URL, "tok-1", b, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Open(ctx)
	defer m.Close()

	waitTopic(t, events, bus.TopicChannelUp)
	evt := waitTopic(t, events, bus.TopicChannelMessage)
	msg, ok := evt.Payload.(*wire.ChannelEvent)
	if !ok {
		t.Fatalf("payload type %T", evt.Payload)
	}
	if msg.ID != 5 || msg.SenderID != 42 || msg.Content != "Hello" {
		t.Errorf("event = %+v", msg)
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		conn.Write(ctx, websocket.MessageText, []byte(`not json`))
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"presence","id":1}`))
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"new_message","id":7,"sender_id":42,"receiver_id":1,"content":"After garbage","timestamp":"2026-02-01T10:30:00"}`))
		time.Sleep(100 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	b := bus.New()
	events, unsub := b.Subscribe(bus.TopicChannelMessage, 16)
	defer unsub()

	m := New(srv.URL, "tok-1", b, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Open(ctx)
	defer m.Close()

	evt := waitTopic(t, events, bus.TopicChannelMessage)
	msg := evt.Payload.(*wire.ChannelEvent)
	if msg.ID != 7 {
		t.Errorf("got id %d, want the frame after the garbage", msg.ID)
	}
}

func TestSendBeforeOpenIsUnavailable(t *testing.T) {
	m := New("http://127.0.0.1:0", "tok-1", bus.New(), zap.NewNop())
	err := m.Send(context.Background(), wire.SendFrame{ReceiverID: 42, Content: "Ping"})
	if err != ErrUnavailable {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestSendFrameReachesServer(t *testing.T) {
	received := make(chan wire.SendFrame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var frame wire.SendFrame
		if json.Unmarshal(data, &frame) == nil {
			received <- frame
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	b := bus.New()
	events, unsub := b.Subscribe(bus.TopicChannelUp, 4)
	defer unsub()

	m := New(srv.URL, "tok-1", b, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Open(ctx)
	defer m.Close()

	waitTopic(t, events, bus.TopicChannelUp)
	if err := m.Send(ctx, wire.SendFrame{ReceiverID: 42, Content: "Hello", TempID: "abc-1"}); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-received:
		if frame.ReceiverID != 42 || frame.Content != "Hello" || frame.TempID != "abc-1" {
			t.Errorf("frame = %+v", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	if testing.Short() {
		t.Skip("reconnect backoff")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Drop every connection immediately; the client should keep
		// coming back.
		conn.Close(websocket.StatusInternalError, "drop")
	}))
	defer srv.Close()

	b := bus.New()
	events, unsub := b.Subscribe("channel.", 32)
	defer unsub()

	m := New(srv.URL, "tok-1", b, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Open(ctx)
	defer m.Close()

	waitTopic(t, events, bus.TopicChannelUp)
	waitTopic(t, events, bus.TopicChannelDown)
	waitTopic(t, events, bus.TopicChannelReconnecting)
	waitTopic(t, events, bus.TopicChannelUp)
}
