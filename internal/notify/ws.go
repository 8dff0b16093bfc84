package notify

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession is a connected driver's websocket, write-serialized.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry tracks connected driver sessions and delivers events addressed
// to them. Events without a driver id, and drivers without a session, are
// skipped: other notifiers in the fanout carry those.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[driverID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, driverID)
}

func (r *WSRegistry) Publish(ctx context.Context, ev Event) error {
	if ev.DriverID == "" {
		return nil
	}
	r.mu.RLock()
	s, ok := r.sessions[ev.DriverID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Send(ev)
}
