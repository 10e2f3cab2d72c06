package service

import "context"

// Session is one connected client. Implementations must be safe for
// concurrent use and must tolerate Send after close.
type Session interface {
	ID() string
	IsOpen() bool
	Send(ctx context.Context, msg []byte) error
}
