// Package hub implements the coordination endpoint: it tracks the open tabs
// of every user over websocket, elects the first tab as sync driver and
// relays sync traffic between tabs of the same user.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mikenoired/synapse-sub000/internal/client/worker"
	"github.com/mikenoired/synapse-sub000/internal/logging"
)

const (
	initTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 16
)

type session struct {
	conn   *websocket.Conn
	send   chan *worker.Envelope
	userID string
}

// Hub keeps per-user session lists in registration order. The first session
// of a list is the user's sync driver.
type Hub struct {
	mu       sync.Mutex
	sessions map[string][]*session
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func New(logger logging.Logger) *Hub {
	return &Hub{
		sessions: make(map[string][]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("module", "hub"),
	}
}

// ServeHTTP upgrades the connection and runs the session until the tab
// disconnects or sends STOP. The first frame must be INIT.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(ctx, "websocket upgrade failed", "error", err)
		return
	}

	userID, err := h.awaitInit(conn)
	if err != nil {
		h.logger.Warn(ctx, "session rejected", "error", err)
		conn.Close()
		return
	}

	s := &session{
		conn:   conn,
		send:   make(chan *worker.Envelope, sendBuffer),
		userID: userID,
	}
	leader := h.register(s)
	h.logger.Info(ctx, "tab registered", "user_id", userID, "leader", leader)

	go s.writeLoop()
	s.deliver(mustEnvelope(worker.TypeInitSuccess, worker.InitSuccessPayload{Leader: leader}))

	h.readLoop(ctx, s)

	h.unregister(ctx, s)
	conn.Close()
}

func (h *Hub) awaitInit(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(initTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var env worker.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return "", err
	}
	if env.Type != worker.TypeInit {
		return "", errUnexpectedFrame(env.Type)
	}
	var p worker.InitPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", err
	}
	if p.UserID == "" {
		return "", errMissingUser
	}
	return p.UserID, nil
}

func (h *Hub) readLoop(ctx context.Context, s *session) {
	for {
		var env worker.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case worker.TypeSyncNow:
			h.toLeader(s.userID, &env)
		case worker.TypeSyncUpdate, worker.TypeBroadcast:
			h.fanOut(s, &env)
		case worker.TypeStop:
			return
		default:
			h.logger.Debug(ctx, "ignoring frame", "type", env.Type, "user_id", s.userID)
		}
	}
}

func (h *Hub) register(s *session) (leader bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.userID] = append(h.sessions[s.userID], s)
	return len(h.sessions[s.userID]) == 1
}

// unregister removes the session and, when the driver left, promotes the
// oldest surviving tab.
func (h *Hub) unregister(ctx context.Context, s *session) {
	h.mu.Lock()
	tabs := h.sessions[s.userID]
	idx := -1
	for i, t := range tabs {
		if t == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		h.mu.Unlock()
		return
	}
	tabs = append(tabs[:idx], tabs[idx+1:]...)
	if len(tabs) == 0 {
		delete(h.sessions, s.userID)
	} else {
		h.sessions[s.userID] = tabs
	}
	var promoted *session
	if idx == 0 && len(tabs) > 0 {
		promoted = tabs[0]
	}
	h.mu.Unlock()

	close(s.send)
	if promoted != nil {
		h.logger.Info(ctx, "promoting tab", "user_id", s.userID)
		promoted.deliver(mustEnvelope(worker.TypeInitSuccess, worker.InitSuccessPayload{Leader: true}))
	}
}

// toLeader relays a frame to the user's driver tab.
func (h *Hub) toLeader(userID string, env *worker.Envelope) {
	h.mu.Lock()
	var leader *session
	if tabs := h.sessions[userID]; len(tabs) > 0 {
		leader = tabs[0]
	}
	h.mu.Unlock()
	if leader != nil {
		leader.deliver(env)
	}
}

// fanOut relays a frame to every other tab of the sender's user.
func (h *Hub) fanOut(from *session, env *worker.Envelope) {
	h.mu.Lock()
	tabs := append([]*session(nil), h.sessions[from.userID]...)
	h.mu.Unlock()
	for _, t := range tabs {
		if t != from {
			t.deliver(env)
		}
	}
}

// TabCount reports the number of registered tabs for a user.
func (h *Hub) TabCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[userID])
}

// deliver drops the frame when the session's queue is full, a stuck tab
// must not block the hub.
func (s *session) deliver(env *worker.Envelope) {
	defer func() { recover() }() // send may race the channel close on unregister
	select {
	case s.send <- env:
	default:
	}
}

func (s *session) writeLoop() {
	for env := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteJSON(env); err != nil {
			return
		}
	}
}

func mustEnvelope(msgType string, payload any) *worker.Envelope {
	env, err := worker.NewEnvelope(msgType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

type errUnexpectedFrame string

func (e errUnexpectedFrame) Error() string {
	return "expected INIT frame, got " + string(e)
}

var errMissingUser = errors.New("INIT without user id")
