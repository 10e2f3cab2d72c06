package controllers

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

var errSessionClosed = errors.New("session closed")

// wsSession is one websocket client. gorilla allows a single concurrent
// writer, so writes take writeLock; the lock is a channel so a send can
// give up when its context ends.
type wsSession struct {
	id       string
	remoteIP string
	conn     *websocket.Conn

	open      atomic.Bool
	writeLock chan struct{}
}

func newSession(conn *websocket.Conn, remoteIP string) *wsSession {
	s := &wsSession{
		id:        uuid.NewString(),
		remoteIP:  remoteIP,
		conn:      conn,
		writeLock: make(chan struct{}, 1),
	}
	s.open.Store(true)
	return s
}

func (s *wsSession) ID() string {
	return s.id
}

func (s *wsSession) IsOpen() bool {
	return s.open.Load()
}

func (s *wsSession) Send(ctx context.Context, msg []byte) error {
	if !s.IsOpen() {
		return errSessionClosed
	}
	select {
	case s.writeLock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writeLock }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		// a failed write leaves the connection unusable
		s.Close()
		return err
	}
	return nil
}

func (s *wsSession) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *wsSession) Close() {
	if s.open.CompareAndSwap(true, false) {
		s.conn.Close()
	}
}
