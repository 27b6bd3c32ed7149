package dispatch

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-consensus/internal/models"
)

// WSSession is one connected member client.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(n)
}

// WSRegistry holds live member sessions and pushes notifications to
// whoever is connected. Members without a session just miss the live
// push; the Kafka sink still carries the event.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, userID)
	}
}

func (r *WSRegistry) Notify(ctx context.Context, n models.Notification) error {
	r.mu.RLock()
	s, ok := r.sessions[n.UserID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Send(n)
}
