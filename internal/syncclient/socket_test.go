package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/testutil"
	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	connects chan struct{}
	events   chan types.Event
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connects: make(chan struct{}, 8),
		events:   make(chan types.Event, 8),
	}
}

func (h *recordingHandler) OnConnect()             { h.connects <- struct{}{} }
func (h *recordingHandler) OnEvent(ev types.Event) { h.events <- ev }

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

// serveSocket upgrades every request and hands the connection to session.
func serveSocket(t *testing.T, session func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		session(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJoin(t *testing.T, conn *websocket.Conn) clientFrame {
	t.Helper()
	var frame clientFrame
	assert.NoError(t, conn.ReadJSON(&frame))
	assert.NotNil(t, frame.Join)
	return frame
}

func ack(conn *websocket.Conn, id, code int) error {
	return conn.WriteJSON(serverFrame{Id: id, Response: &frameResponse{ResponseCode: code}})
}

func newTestSocket(t *testing.T, url string) *Socket {
	s := NewSocket(testutil.TestLogger(t), url, "secret", alice)
	s.newBackOff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}
	return s
}

func TestSocket_JoinAndEvents(t *testing.T) {
	typing := make(chan typingSignal, 1)
	srv := serveSocket(t, func(conn *websocket.Conn) {
		join := readJoin(t, conn)
		assert.Equal(t, alice, join.Join.UserId)
		if !assert.NoError(t, ack(conn, join.Id, http.StatusOK)) {
			return
		}

		env, err := types.EncodeEvent(types.MessageCreated{
			ConversationId: "c1",
			Message:        types.Message{Id: 7, ConversationId: "c1", SenderId: bob, ReceiverId: alice},
		})
		assert.NoError(t, err)
		assert.NoError(t, conn.WriteJSON(serverFrame{Event: env}))

		var frame clientFrame
		if assert.NoError(t, conn.ReadJSON(&frame)) && assert.NotNil(t, frame.Typing) {
			assert.Greater(t, frame.Id, join.Id)
			typing <- *frame.Typing
		}
		// hold the connection until the client goes away
		conn.ReadMessage()
	})

	s := newTestSocket(t, srv.URL)
	assert.ErrorIs(t, s.SendTyping("c1", true), ErrNotConnected)

	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, h) }()

	waitFor(t, h.connects)
	ev := waitFor(t, h.events)
	mc, ok := ev.(types.MessageCreated)
	require.True(t, ok)
	assert.Equal(t, int64(7), mc.Message.Id)

	require.NoError(t, s.SendTyping("c1", true))
	assert.Equal(t, typingSignal{ConversationId: "c1", Typing: true}, waitFor(t, typing))

	cancel()
	assert.NoError(t, waitFor(t, done))
}

func TestSocket_Reconnects(t *testing.T) {
	var sessions atomic.Int32
	srv := serveSocket(t, func(conn *websocket.Conn) {
		join := readJoin(t, conn)
		assert.NoError(t, ack(conn, join.Id, http.StatusOK))
		if sessions.Add(1) == 1 {
			// drop the first connection right after the join
			return
		}
		conn.ReadMessage()
	})

	s := newTestSocket(t, srv.URL)
	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, h) }()

	waitFor(t, h.connects)
	waitFor(t, h.connects)
	assert.Equal(t, int32(2), sessions.Load())

	cancel()
	assert.NoError(t, waitFor(t, done))
}

func TestSocket_JoinRejected(t *testing.T) {
	srv := serveSocket(t, func(conn *websocket.Conn) {
		join := readJoin(t, conn)
		assert.NoError(t, ack(conn, join.Id, http.StatusForbidden))
		conn.ReadMessage()
	})

	s := newTestSocket(t, srv.URL)
	err := s.Run(context.Background(), newRecordingHandler())
	assert.ErrorIs(t, err, errJoinRejected)
}

func TestSocket_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newTestSocket(t, srv.URL)
	err := s.Run(context.Background(), newRecordingHandler())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewSocket_URL(t *testing.T) {
	tcases := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws"},
		{"https://chat.example.com/", "wss://chat.example.com/ws"},
	}

	for _, tc := range tcases {
		t.Run(tc.base, func(t *testing.T) {
			s := NewSocket(testutil.TestLogger(t), tc.base, "", alice)
			assert.Equal(t, tc.want, s.url)
			assert.Empty(t, s.header.Get("Authorization"))
		})
	}
}
