package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"aftercoin.ai/internal/protocol"
)

type stubSubmitter struct {
	last protocol.ActionRequest
	res  protocol.Result
}

func (s *stubSubmitter) Submit(_ context.Context, req protocol.ActionRequest) protocol.Result {
	s.last = req
	return s.res
}

type serverMsg struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Result protocol.Result `json:"result"`
	Event  protocol.Event  `json:"event"`
}

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) serverMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg serverMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSubscribeAndReceiveEvents(t *testing.T) {
	hub := NewHub(nil, log.New(io.Discard, "", 0))
	conn := dialTestHub(t, hub)

	send(t, conn, map[string]any{
		"type": "subscribe", "id": "s1", "channels": []string{protocol.ChannelEvents},
	})
	ack := readMsg(t, conn)
	if ack.Type != "result" || ack.ID != "s1" || !ack.Result.OK {
		t.Fatalf("subscribe ack: %+v", ack)
	}

	// An event on another channel never arrives; the subscribed one does.
	hub.Publish(protocol.NewEvent(protocol.ChannelMarket, "price_update", nil))
	hub.Publish(protocol.NewEvent(protocol.ChannelEvents, "hour_advanced", map[string]any{"hour": 1}))

	msg := readMsg(t, conn)
	if msg.Type != "event" {
		t.Fatalf("message type: %+v", msg)
	}
	if msg.Event.Channel != protocol.ChannelEvents || msg.Event.Type != "hour_advanced" {
		t.Fatalf("event: %+v", msg.Event)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(nil, log.New(io.Discard, "", 0))
	conn := dialTestHub(t, hub)

	send(t, conn, map[string]any{
		"type": "subscribe", "id": "s1", "channels": []string{protocol.ChannelMarket},
	})
	readMsg(t, conn)
	send(t, conn, map[string]any{
		"type": "unsubscribe", "id": "s2", "channels": []string{protocol.ChannelMarket},
	})
	readMsg(t, conn)

	hub.Publish(protocol.NewEvent(protocol.ChannelMarket, "price_update", nil))
	// The next read should only ever see the ping we send to flush.
	send(t, conn, map[string]any{"type": "subscribe", "id": "s3", "channels": []string{}})
	msg := readMsg(t, conn)
	if msg.Type != "result" || msg.ID != "s3" {
		t.Fatalf("unexpected delivery: %+v", msg)
	}
}

func TestActionSubmitOverSocket(t *testing.T) {
	stub := &stubSubmitter{res: protocol.Ok("no action", nil)}
	hub := NewHub(stub, log.New(io.Discard, "", 0))
	conn := dialTestHub(t, hub)

	send(t, conn, map[string]any{
		"type": "action", "id": "a1",
		"request": map[string]any{"actor": 1, "kind": "none"},
	})
	msg := readMsg(t, conn)
	if msg.Type != "result" || msg.ID != "a1" || !msg.Result.OK {
		t.Fatalf("action ack: %+v", msg)
	}
	if stub.last.Actor != 1 || stub.last.Kind != protocol.ActNone {
		t.Fatalf("submitted request: %+v", stub.last)
	}
}

func TestActionRejectedWithoutSubmitter(t *testing.T) {
	hub := NewHub(nil, log.New(io.Discard, "", 0))
	conn := dialTestHub(t, hub)

	send(t, conn, map[string]any{
		"type": "action", "id": "a1",
		"request": map[string]any{"actor": 1, "kind": "none"},
	})
	msg := readMsg(t, conn)
	if msg.Result.OK || msg.Result.Code != protocol.ErrInternal {
		t.Fatalf("expected rejection: %+v", msg.Result)
	}

	// SetSubmitter flips the hub live without a reconnect.
	hub.SetSubmitter(&stubSubmitter{res: protocol.Ok("no action", nil)})
	send(t, conn, map[string]any{
		"type": "action", "id": "a2",
		"request": map[string]any{"actor": 1, "kind": "none"},
	})
	msg = readMsg(t, conn)
	if !msg.Result.OK {
		t.Fatalf("action after wiring: %+v", msg.Result)
	}
}

func TestMalformedActionGetsBadRequest(t *testing.T) {
	hub := NewHub(&stubSubmitter{res: protocol.Ok("", nil)}, log.New(io.Discard, "", 0))
	conn := dialTestHub(t, hub)

	send(t, conn, map[string]any{
		"type": "action", "id": "a1",
		"request": map[string]any{"actor": 0, "kind": "none"},
	})
	msg := readMsg(t, conn)
	if msg.Result.OK || msg.Result.Code != protocol.ErrBadRequest {
		t.Fatalf("expected bad request: %+v", msg.Result)
	}
}
