package rpc

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"alcove/core/events"
	"alcove/native/market"
)

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	server, node := newHandlerServer(t)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?type=market."
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test complete")

	deadline := time.Now().Add(time.Second)
	for node.Bus().SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed to the bus")
		}
		time.Sleep(10 * time.Millisecond)
	}

	listUSDQ(t, server)

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("unexpected message type: %v", msgType)
	}
	var evt events.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != market.EventTypeMarketListed {
		t.Fatalf("event type: %s", evt.Type)
	}
	if evt.Attributes["asset"] != "USDQ" {
		t.Fatalf("event attributes: %v", evt.Attributes)
	}
}

func TestEventStreamFiltersByTypePrefix(t *testing.T) {
	server, node := newHandlerServer(t)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A prefix no event carries: the listing must not come through.
	addr := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?type=governance."
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test complete")

	deadline := time.Now().Add(time.Second)
	for node.Bus().SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed to the bus")
		}
		time.Sleep(10 * time.Millisecond)
	}

	listUSDQ(t, server)

	readCtx, readCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer readCancel()
	if _, _, err := conn.Read(readCtx); err == nil {
		t.Fatalf("filtered stream delivered an event")
	}
}
