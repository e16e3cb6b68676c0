package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xelth-com/parcelseal/internal/models"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return out
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 1 })

	err := hub.Publish(context.Background(), Event{
		Type:      EventStatusChanged,
		PackageID: "P1",
		From:      models.StatusOutForDelivery,
		To:        models.StatusDelivered,
		At:        time.Now(),
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := readEvent(t, conn)
	if got["type"] != EventStatusChanged || got["to"] != "delivered" {
		t.Errorf("Unexpected event: %v", got)
	}
}

func TestHubHonoursSubscriptions(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 1 })

	if err := conn.WriteJSON(map[string]interface{}{"type": "SUBSCRIBE", "msgId": "m1", "packageIds": []string{"P2"}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if ack := readEvent(t, conn); ack["type"] != "ACK" || ack["msgId"] != "m1" {
		t.Fatalf("Expected ACK, got %v", ack)
	}

	ctx := context.Background()
	hub.Publish(ctx, Event{Type: EventScanAlert, PackageID: "P1"})
	hub.Publish(ctx, Event{Type: EventScanAlert, PackageID: "P2"})

	if got := readEvent(t, conn); got["packageId"] != "P2" {
		t.Errorf("Expected only the P2 event, got %v", got)
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	waitFor(t, func() bool { return hub.Count() == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.Count() == 0 })

	if err := hub.Publish(context.Background(), Event{Type: EventStatusChanged}); err != nil {
		t.Errorf("Publish with no clients: %v", err)
	}
}

func TestEventCarriesNoRecipientData(t *testing.T) {
	data, _ := json.Marshal(Event{Type: EventStatusChanged, PackageID: "P1"})
	for _, field := range []string{"recipient", "name", "address", "phone", "email"} {
		if strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("Event JSON exposes %q: %s", field, data)
		}
	}
}
