package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cleancity-backend/internal/middleware"
	"cleancity-backend/internal/models"
)

const testSecret = "test-secret"

func dial(t *testing.T, srvURL string, user *models.User) *websocket.Conn {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, user, time.Now())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	url := "ws" + strings.TrimPrefix(srvURL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitConnected(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !hub.IsUserConnected(userID) {
		if time.Now().After(deadline) {
			t.Fatalf("user %s never registered", userID)
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
	var event map[string]interface{}
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Unmarshal(%s): %v", data, err)
	}
	return event
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(HandleWebSocket(hub, testSecret))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})
	return hub, srv
}

func TestDeliverPushesNotification(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv.URL, &models.User{ID: "resident-1", Email: "r@example.com", Role: models.RoleResident})
	waitConnected(t, hub, "resident-1")

	n := &models.Notification{ID: "n-1", RecipientID: "resident-1", Type: models.NotifyBinCollected, Title: "Bin collected"}
	if err := hub.Deliver(context.Background(), n); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	event := readEvent(t, conn)
	if event["type"] != "notification" {
		t.Fatalf("type = %v, want notification", event["type"])
	}
	data, _ := event["data"].(map[string]interface{})
	if data["id"] != "n-1" {
		t.Fatalf("data.id = %v, want n-1", data["id"])
	}
}

func TestDeliverToOfflineUserIsNoop(t *testing.T) {
	hub, _ := startHub(t)
	if err := hub.Deliver(context.Background(), &models.Notification{RecipientID: "nobody"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}

func TestCollectorLocationReachesAdmins(t *testing.T) {
	hub, srv := startHub(t)
	admin := dial(t, srv.URL, &models.User{ID: "admin-1", Email: "a@example.com", Role: models.RoleAdmin})
	collector := dial(t, srv.URL, &models.User{ID: "collector-1", Email: "c@example.com", Role: models.RoleCollector})
	waitConnected(t, hub, "admin-1")
	waitConnected(t, hub, "collector-1")

	msg := `{"type":"location_update","data":{"latitude":37.3,"longitude":-121.9,"route_id":"route-1"}}`
	if err := collector.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	event := readEvent(t, admin)
	if event["type"] != "collector_location" {
		t.Fatalf("type = %v, want collector_location", event["type"])
	}
	data, _ := event["data"].(map[string]interface{})
	if data["collector_id"] != "collector-1" || data["route_id"] != "route-1" {
		t.Fatalf("data = %v", data)
	}
}

func TestRejectsMissingToken(t *testing.T) {
	_, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("Dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("response = %v, want 401", resp)
	}
}
