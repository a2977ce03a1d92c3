package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/payments"
	"github.com/mbd888/interpay/internal/scheduler"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func addClient(t *testing.T, h *Hub, sub Subscription) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, 16), sub: sub}
	h.register <- c
	return c
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var e Event
		require.NoError(t, json.Unmarshal(msg, &e))
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected event %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientWants(t *testing.T) {
	task := &Event{Type: EventTaskFailed, Subject: "1760713200000-a1b2"}
	payment := &Event{Type: EventPaymentInitiated, Subject: "voice-1"}

	tests := []struct {
		name    string
		sub     Subscription
		event   *Event
		matches bool
	}{
		{"all events", Subscription{AllEvents: true}, task, true},
		{"empty subscription", Subscription{}, payment, true},
		{"type match", Subscription{EventTypes: []EventType{EventTaskFailed}}, task, true},
		{"type mismatch", Subscription{EventTypes: []EventType{EventTaskFailed}}, payment, false},
		{"subject match", Subscription{Subjects: []string{"voice-1"}}, payment, true},
		{"subject mismatch", Subscription{Subjects: []string{"voice-2"}}, payment, false},
		{"type and subject", Subscription{
			EventTypes: []EventType{EventPaymentInitiated},
			Subjects:   []string{"voice-1"},
		}, payment, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &Client{sub: tc.sub}
			assert.Equal(t, tc.matches, c.wants(tc.event))
		})
	}
}

func TestHub_PublishesPaymentEvents(t *testing.T) {
	h := startHub(t)
	c := addClient(t, h, Subscription{AllEvents: true})

	s := &payments.Session{
		Key:              "voice-1",
		ContinueToken:    "secret",
		AuthorizationURL: "https://auth.test/interact/1",
		Intent: payments.Intent{
			Amount:             decimal.RequireFromString("150"),
			AssetCode:          "MXN",
			RecipientWalletURL: "https://ilp.test/bob",
			Kind:               payments.KindVoice,
		},
	}
	h.PaymentInitiated(context.Background(), s)

	e := receive(t, c)
	assert.Equal(t, EventPaymentInitiated, e.Type)
	assert.Equal(t, "voice-1", e.Subject)
	data := e.Data.(map[string]any)
	assert.Equal(t, "https://auth.test/interact/1", data["authorizationUrl"])
	assert.NotContains(t, data, "continueToken")

	h.PaymentCompleted(context.Background(), s, &openpayments.OutgoingPayment{ID: "https://ilp.test/rs/outgoing-payments/1"})
	e = receive(t, c)
	assert.Equal(t, EventPaymentCompleted, e.Type)
	assert.Contains(t, e.Data, "outgoingPayment")
}

func TestHub_PublishesTaskEvents(t *testing.T) {
	h := startHub(t)
	failures := addClient(t, h, Subscription{EventTypes: []EventType{EventTaskFailed}})
	one := addClient(t, h, Subscription{Subjects: []string{"task-1"}})

	h.TaskAwaitingApproval(context.Background(), &scheduler.Task{ID: "task-1", State: scheduler.StateAwaitingApproval})
	h.TaskFailed(context.Background(), &scheduler.Task{ID: "task-2", State: scheduler.StateError, ErrorDetail: "boom"})
	h.TaskCompleted(context.Background(), &scheduler.Task{ID: "task-1", State: scheduler.StateCompleted})

	e := receive(t, failures)
	assert.Equal(t, "task-2", e.Subject)
	assert.Equal(t, "boom", e.Data.(map[string]any)["error"])
	assertNothing(t, failures)

	assert.Equal(t, EventTaskAwaitingApproval, receive(t, one).Type)
	assert.Equal(t, EventTaskCompleted, receive(t, one).Type)
}

func TestHub_Stats(t *testing.T) {
	h := startHub(t)
	c := addClient(t, h, Subscription{AllEvents: true})

	h.TaskFailed(context.Background(), &scheduler.Task{ID: "x"})
	receive(t, c)

	stats := h.Stats()
	assert.Equal(t, 1, stats["connectedClients"])
	assert.Equal(t, int64(1), stats["totalEvents"])
	assert.Equal(t, int64(1), stats["peakClients"])

	h.unregister <- c
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"] == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats()["peakClients"])
}

func TestHub_ContextCancellationClosesClients(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	c := addClient(t, h, Subscription{})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	_, open := <-c.send
	assert.False(t, open)
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(Subscription{Subjects: []string{"task-9"}}))
	require.Eventually(t, func() bool { return h.Stats()["connectedClients"] == 1 }, time.Second, 10*time.Millisecond)

	// The subscription update races the broadcasts, so keep publishing
	// until the filtered event arrives.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		h.TaskFailed(context.Background(), &scheduler.Task{ID: "other"})
		h.TaskCompleted(context.Background(), &scheduler.Task{ID: "task-9"})

		var e Event
		require.NoError(t, conn.ReadJSON(&e))
		if e.Subject == "other" {
			continue
		}
		assert.Equal(t, EventTaskCompleted, e.Type)
		assert.Equal(t, "task-9", e.Subject)
		break
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewHub(nil).WithAllowedOrigins([]string{"https://app.example"})

	req := func(origin string) *http.Request {
		r := httptest.NewRequest("GET", "http://api.example/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, h.checkOrigin(req("")))
	assert.True(t, h.checkOrigin(req("https://app.example")))
	assert.True(t, h.checkOrigin(req("http://api.example")))
	assert.False(t, h.checkOrigin(req("https://evil.example")))
}

func TestHandleWebSocket_AfterShutdown(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
