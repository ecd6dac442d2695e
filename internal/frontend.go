package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core"
)

// frontend implements the concurrent client connection logic.
//
// Connections are accepted on Address and handed to the Backend, each on its
// own goroutine.
type frontend struct {
	Address string
	Backend Backend
	Config  *core.Config
	Logger  *logrus.Logger

	clients  *clientList
	listener *net.TCPListener
}

// Start initializes the server backend and opens a TCP socket for the specified server.
// A blocking loop for accepting client connections is spun off in its own goroutine and
// added to the WaitGroup. Context cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if err := f.Backend.Init(ctx); err != nil {
		return fmt.Errorf("error initializing %s server: %w", f.Backend.Identifier(), err)
	}

	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", f.Address, err)
	}
	f.listener = socket
	f.clients = newClientList()

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// Addr returns the address the frontend is listening on once started.
func (f *frontend) Addr() net.Addr {
	return f.listener.Addr()
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address %w", err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}

	return socket, nil
}

func (f *frontend) serverFull() bool {
	return f.Config.MaxConnections > 0 && f.clients.len() >= f.Config.MaxConnections
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines for the Backend to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Infof("[%s] waiting for connections on %v", f.Backend.Identifier(), socket.Addr())

	connections := make(chan *net.TCPConn)
	go func() {
		defer close(connections)
		for {
			// Poll until we can accept more clients.
			for f.serverFull() {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}

			connection, err := socket.AcceptTCP()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				f.Logger.Warnf("failed to accept connection: %v", err)
				continue
			}

			select {
			case connections <- connection:
			case <-ctx.Done():
				connection.Close()
				return
			}
		}
	}()

	clientWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection, ok := <-connections:
			if !ok {
				break handleLoop
			}
			clientWg.Add(1)
			go f.acceptClient(ctx, connection, clientWg)
		}
	}

	socket.Close()
	f.Logger.Infof("[%v] shutting down (waiting for connections to close)", f.Backend.Identifier())
	clientWg.Wait()
	f.Logger.Infof("[%v] exited", f.Backend.Identifier())
}

// acceptClient registers the connection and hands it to the Backend, which
// only returns once the client has disconnected.
func (f *frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()
	defer f.closeConnectionAndRecover(f.Backend.Identifier(), connection)

	f.clients.add(connection)
	f.Logger.Infof("[%s] accepted connection from %s", f.Backend.Identifier(), connection.RemoteAddr())

	if err := f.Backend.Serve(ctx, connection); err != nil {
		f.Logger.Warnf("[%s] error in client communication with %s: %v",
			f.Backend.Identifier(), connection.RemoteAddr(), err)
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics, disconnects the
// client, and removes them from the list regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(serverName string, c net.Conn) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			c.RemoteAddr(), err, debug.Stack())
	}

	// The Backend normally closed it already.
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		f.Logger.Warnf("failed to close client connection: %s", err)
	}

	f.clients.remove(c)

	f.Logger.Infof("[%s] disconnected client %s", serverName, c.RemoteAddr())
}
