// Package server emulates the game server for a single client, serving the
// player's captured home village and rotating through captured enemies.
package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/debug"
	"github.com/jankrod/barchomat/internal/core/pdu"
	"github.com/jankrod/barchomat/internal/village"
)

// DefaultMaxIOErrors is the number of consecutive transport errors tolerated
// before the client is assumed to have crashed.
const DefaultMaxIOErrors = 100

const nonceLength = 24

var (
	// ErrTooManyIOErrors ends a session whose transport keeps failing.
	ErrTooManyIOErrors = errors.New("too many consecutive I/O errors; client likely crashed")
	// ErrNoEnemyVillages is returned when the client asks to attack and no
	// enemy villages have been captured.
	ErrNoEnemyVillages = errors.New("no enemy villages. Have you captured some data with the proxy?")
)

type State int32

const (
	AwaitingLogin State = iota
	Handshaking
	Ready
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingLogin:
		return "AwaitingLogin"
	case Handshaking:
		return "Handshaking"
	case Ready:
		return "Ready"
	case Terminated:
		return "Terminated"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// SessionState is the per client state of a session.
type SessionState struct {
	UserID int64
	// Index of the next enemy village to serve.
	NextVillage int
	// The home village has unsaved changes.
	Dirty bool
}

// Session serves one client connection.
type Session struct {
	Conn    *pdu.Connection
	Factory *codec.Factory
	Store   village.Store
	// Serve war villages when attacking.
	War         bool
	MaxIOErrors int
	Logger      logrus.FieldLogger
	Metrics     *debug.Metrics

	// Source of handshake nonces and timestamps; crypto/rand and time.Now
	// unless set.
	Nonce func() ([]byte, error)
	Now   func() time.Time

	SessionState

	state    int32
	shutdown int32
}

// Serve processes the session on its own goroutine until the client
// disconnects, the session fails or Shutdown is called. Cancelling ctx calls
// Shutdown; a read in progress is only interrupted by closing the connection.
func (s *Session) Serve(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.run()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.Shutdown()
		return <-done
	}
}

// Shutdown asks the session to stop before processing the next PDU.
func (s *Session) Shutdown() {
	atomic.StoreInt32(&s.shutdown, 1)
}

func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) setState(state State) {
	atomic.StoreInt32(&s.state, int32(state))
}

func (s *Session) running() bool {
	return atomic.LoadInt32(&s.shutdown) == 0
}

func (s *Session) maxIOErrors() int {
	if s.MaxIOErrors > 0 {
		return s.MaxIOErrors
	}
	return DefaultMaxIOErrors
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Session) run() error {
	s.setState(AwaitingLogin)
	defer s.setState(Terminated)
	s.Metrics.SessionOpened()
	defer s.Metrics.SessionClosed()

	ioErrors := 0
	for s.running() {
		p, err := s.Conn.In.Read()
		if err != nil {
			if errors.Is(err, pdu.ErrEndOfStream) {
				s.Logger.Infof("%s done", s.Conn.Name)
				return nil
			}
			ioErrors++
			s.Logger.Errorf("error count %d: %v", ioErrors, err)
			if ioErrors > s.maxIOErrors() {
				return ErrTooManyIOErrors
			}
			continue
		}
		s.Logger.Debugf("incoming %v", p)

		request, err := s.Factory.FromPdu(p)
		if err != nil {
			s.Logger.Debugf("can't respond to %v: %v", p, err)
			s.Metrics.DecodeError("server")
			continue
		}

		response, err := s.handle(request)
		if err != nil {
			return err
		}
		if response != nil {
			s.Logger.Debugf("responding to %s with %s", request.Type, response.Type)
			out, err := s.Factory.ToPdu(response)
			if err != nil {
				s.Logger.Errorf("couldn't encode %s: %v", response.Type, err)
				continue
			}
			if err := s.Conn.Out.Write(out); err != nil {
				ioErrors++
				s.Logger.Errorf("error count %d: %v", ioErrors, err)
				if ioErrors > s.maxIOErrors() {
					return ErrTooManyIOErrors
				}
				continue
			}
		}
		ioErrors = 0
	}

	s.Logger.Infof("%s shut down", s.Conn.Name)
	return nil
}

// handle returns the response to request, if any. Errors end the session.
func (s *Session) handle(request *codec.Message) (*codec.Message, error) {
	if s.State() == AwaitingLogin {
		if request.Type != codec.Login {
			s.Logger.Debugf("ignoring %s before login", request.Type)
			return nil, nil
		}
		if err := s.login(request); err != nil {
			return nil, fmt.Errorf("key exchange did not complete: %w", err)
		}
		return nil, nil
	}

	switch request.Type {
	case codec.EndClientTurn:
		return s.endTurn(request)
	case codec.AttackResult:
		return s.loadHome()
	case codec.KeepAlive, codec.SetDeviceToken:
		return s.Factory.NewMessage(codec.ServerKeepAlive)
	default:
		s.Logger.Debugf("not handling %s from %s", request.Type, s.Conn.Name)
		return nil, nil
	}
}

func (s *Session) send(msg *codec.Message) error {
	p, err := s.Factory.ToPdu(msg)
	if err != nil {
		return err
	}
	return s.Conn.Out.Write(p)
}
