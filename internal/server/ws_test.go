package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/nosegoes/internal/game"
	"github.com/ayusman/nosegoes/internal/logging"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/api/events", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

// readUntil skips messages until one matches.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	for {
		m := read(t, conn)
		if match(m) {
			return m
		}
	}
}

func TestHub_SnapshotThenEvents(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server)
	defer ts.Close()

	conn := dial(t, ts.URL)

	first := read(t, conn)
	assert.Equal(t, "snapshot", first.Type)
	state := first.State.(map[string]any)
	assert.Equal(t, "waiting", state["state"])

	require.Eventually(t, func() bool { return f.server.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.app.Start())

	m := readUntil(t, conn, func(m Message) bool { return m.Type == "event" && m.Event.Kind == game.EventTick })
	assert.Equal(t, 3, m.Event.Countdown)
	assert.Equal(t, game.CueBeep, m.Event.Cue)
}

func TestHub_Commands(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server)
	defer ts.Close()

	conn := dial(t, ts.URL)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(command{Type: "start"}))
	readUntil(t, conn, func(m Message) bool {
		return m.Type == "event" && m.Event.Kind == game.EventState && m.Event.State == game.StateCountdown
	})

	require.NoError(t, conn.WriteJSON(command{Type: "start"}))
	m := readUntil(t, conn, func(m Message) bool { return m.Type == "error" })
	assert.Contains(t, m.Error, "invalid transition")

	require.NoError(t, conn.WriteJSON(command{Type: "reset"}))
	readUntil(t, conn, func(m Message) bool {
		return m.Type == "event" && m.Event.Kind == game.EventState && m.Event.State == game.StateWaiting
	})
	assert.Equal(t, game.StateWaiting, f.app.View().State)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := NewHub(nil, nil, logging.Discard())
	c := &client{send: make(chan []byte, 1)}
	h.clients[c] = struct{}{}

	h.Publish(game.Event{Kind: game.EventTick})
	assert.Equal(t, 1, h.Clients())

	h.Publish(game.Event{Kind: game.EventTick})
	assert.Equal(t, 0, h.Clients(), "a full send buffer drops the client")

	_, open := <-c.send
	assert.True(t, open, "buffered message is still delivered")
	_, open = <-c.send
	assert.False(t, open)
}

func TestHub_Close(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server)
	defer ts.Close()

	conn := dial(t, ts.URL)
	read(t, conn)
	require.Eventually(t, func() bool { return f.server.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	f.server.Hub().Close()
	assert.Zero(t, f.server.Hub().Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_EventDuringSnapshotFollowsIt(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	hub := NewHub(nil, func() any {
		close(entered)
		<-release
		return map[string]string{"state": "waiting"}
	}, logging.Discard())
	defer hub.Close()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	go func() {
		<-entered
		published := make(chan struct{})
		go func() {
			hub.Publish(game.Event{Kind: game.EventState, State: game.StateCountdown})
			close(published)
		}()
		select {
		case <-published:
		case <-time.After(50 * time.Millisecond):
		}
		close(release)
	}()

	conn := dial(t, ts.URL)
	assert.Equal(t, "snapshot", read(t, conn).Type)

	m := read(t, conn)
	require.Equal(t, "event", m.Type)
	assert.Equal(t, game.StateCountdown, m.Event.State)
}
