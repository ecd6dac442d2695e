package internal

import (
	"context"
	"net"
)

// Backend is an interface for a server that handles client connections
// accepted by a frontend.
type Backend interface {
	// Identifier returns a uniquely identifying string.
	Identifier() string

	// Init is called before a Backend is started as a hook for the Backend to
	// perform any necessary initialization before it can accept clients.
	Init(ctx context.Context) error

	// Serve handles a client connection until it closes or ctx is cancelled.
	// The Backend owns conn and closes it before returning.
	Serve(ctx context.Context, conn net.Conn) error
}
