package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ahanafabid01/Next-Youth-sub000/internal/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	socketWriteWait   = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	maxReconnectDelay = 30 * time.Second
)

var ErrNotConnected = errors.New("socket not connected")

// errJoinRejected ends Run: the server refused the user room.
var errJoinRejected = errors.New("join rejected")

// SocketHandler receives what the socket reads. Calls come from the
// socket's read goroutine.
type SocketHandler interface {
	OnConnect()
	OnEvent(types.Event)
}

type clientFrame struct {
	Id     int           `json:"id,omitempty"`
	Join   *joinFrame    `json:"join,omitempty"`
	Typing *typingSignal `json:"typing,omitempty"`
}

type joinFrame struct {
	UserId int `json:"user_id"`
}

type typingSignal struct {
	ConversationId string `json:"conversation_id"`
	Typing         bool   `json:"typing"`
}

type serverFrame struct {
	Id       int             `json:"id,omitempty"`
	Response *frameResponse  `json:"response,omitempty"`
	Event    *types.Envelope `json:"event,omitempty"`
}

type frameResponse struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

// Socket is the push connection. It joins the user's room after every
// dial and re-dials with exponential backoff when the connection drops.
type Socket struct {
	log    *slog.Logger
	url    string
	header http.Header
	userId int
	dialer *websocket.Dialer

	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	conn   *websocket.Conn
	nextId int
}

// NewSocket returns a socket for the server at baseURL (http or https),
// authenticated with token.
func NewSocket(logger *slog.Logger, baseURL, token string, userId int) *Socket {
	wsURL := strings.TrimSuffix(baseURL, "/")
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	return &Socket{
		log:    logger,
		url:    wsURL + "/ws",
		header: header,
		userId: userId,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = maxReconnectDelay
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run keeps the socket connected until ctx is done or the server rejects
// the join.
func (s *Socket) Run(ctx context.Context, h SocketHandler) error {
	for {
		conn, joinId, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = s.readLoop(ctx, conn, joinId, h)
		s.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errJoinRejected) || errors.Is(err, ErrUnauthorized) {
			return err
		}
		s.log.Warn("socket disconnected", "error", err)
	}
}

func (s *Socket) connect(ctx context.Context) (*websocket.Conn, int, error) {
	var conn *websocket.Conn

	op := func() error {
		c, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return backoff.Permanent(ErrUnauthorized)
			}
			return fmt.Errorf("websocket connect: %w", err)
		}
		conn = c
		return nil
	}
	notify := func(err error, d time.Duration) {
		s.log.Info("socket dial failed, retrying", "error", err, "in", d)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx), notify); err != nil {
		return nil, 0, err
	}

	s.setConn(conn)
	joinId, err := s.write(clientFrame{Join: &joinFrame{UserId: s.userId}})
	if err != nil {
		s.setConn(nil)
		conn.Close()
		return nil, 0, fmt.Errorf("send join: %w", err)
	}

	return conn, joinId, nil
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn, joinId int, h SocketHandler) error {
	// unblock ReadJSON when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		switch {
		case frame.Response != nil && frame.Id == joinId:
			if frame.Response.ResponseCode != http.StatusOK {
				return fmt.Errorf("%w: %d %s", errJoinRejected, frame.Response.ResponseCode, frame.Response.Error)
			}
			h.OnConnect()
		case frame.Response != nil:
			if frame.Response.ResponseCode >= http.StatusBadRequest {
				s.log.Warn("server rejected frame", "id", frame.Id, "code", frame.Response.ResponseCode, "error", frame.Response.Error)
			}
		case frame.Event != nil:
			ev, err := types.DecodeEvent(frame.Event)
			if err != nil {
				s.log.Warn("decode event", "error", err)
				continue
			}
			h.OnEvent(ev)
		}
	}
}

func (s *Socket) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// write sends frame with the next frame id and returns that id.
func (s *Socket) write(frame clientFrame) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return 0, ErrNotConnected
	}

	s.nextId++
	frame.Id = s.nextId
	s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return frame.Id, s.conn.WriteJSON(frame)
}

// SendTyping relays a typing signal for conversationId.
func (s *Socket) SendTyping(conversationId string, typing bool) error {
	_, err := s.write(clientFrame{Typing: &typingSignal{ConversationId: conversationId, Typing: typing}})
	return err
}
