package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VoiceFM/model"
)

func dialHub(t *testing.T, srv *httptest.Server, channel string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?channel=" + channel
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubDeliversChannelEvents(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	s := New(Options{Sessions: newFixture(t, "").manager, Hub: hub})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c1 := dialHub(t, srv, "c1")
	all := dialHub(t, srv, "")
	require.Eventually(t, func() bool {
		return hub.ClientCount("c1") == 1 && hub.ClientCount("") == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Notify(ctx, model.Event{ChannelID: "c2", Kind: model.EventQueueEmpty, Message: "播放列表为空，即将退出频道"}))
	require.NoError(t, hub.Notify(ctx, model.Event{
		ChannelID: "c1",
		Kind:      model.EventNowPlaying,
		Track:     &model.Track{ID: "1", Title: "晴天"},
		Message:   "正在播放: 晴天 - 周杰伦",
	}))

	msg := readEvent(t, c1)
	assert.Equal(t, MsgTypeEvent, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, model.EventNowPlaying, msg.Event.Kind)
	assert.Equal(t, "1", msg.Event.Track.ID)

	first := readEvent(t, all)
	second := readEvent(t, all)
	assert.Equal(t, "c2", first.Event.ChannelID)
	assert.Equal(t, "c1", second.Event.ChannelID)
}

func TestHubPing(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	s := New(Options{Sessions: newFixture(t, "").manager, Hub: hub})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialHub(t, srv, "c1")
	require.Eventually(t, func() bool { return hub.ClientCount("c1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	assert.Equal(t, MsgTypePong, readEvent(t, conn).Type)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount("c1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubNotifyAfterStop(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Stop()
	hub.Stop()
	assert.NoError(t, hub.Notify(context.Background(), model.Event{ChannelID: "c1"}))
}
