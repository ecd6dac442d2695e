package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core"
	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/data"
	"github.com/jankrod/barchomat/internal/core/debug"
	"github.com/jankrod/barchomat/internal/core/encryption"
	"github.com/jankrod/barchomat/internal/core/pdu"
	"github.com/jankrod/barchomat/internal/village"
)

// Server accepts game clients and runs a Session for each of them against a
// shared village Store.
type Server struct {
	Name    string
	Config  *core.Config
	Factory *codec.Factory
	Logger  *logrus.Logger
	Metrics *debug.Metrics

	// Source of captured villages, used to build Store if it isn't set.
	Villages data.SnapshotRepository
	Store    village.Store
	// Defaults to the game's RC4 suite.
	Suite encryption.Suite
}

func (s *Server) Identifier() string {
	return s.Name
}

func (s *Server) Init(ctx context.Context) error {
	if s.Suite == nil {
		s.Suite = encryption.NewRC4Suite()
	}
	if s.Store != nil {
		return nil
	}

	if s.Villages == nil {
		s.Villages = &data.DirRepository{Dir: s.Config.Server.VillagesDir}
	}
	manager, err := village.NewManager(s.Factory, s.Config.Server.HomeFile, s.Villages, s.Logger)
	if err != nil {
		return fmt.Errorf("error loading villages: %w", err)
	}
	s.Store = manager
	return nil
}

// Serve runs a session for conn until the client disconnects or ctx is
// cancelled. conn is closed on return.
func (s *Server) Serve(ctx context.Context, conn net.Conn) error {
	name := conn.RemoteAddr().String()
	c, err := pdu.NewConnection(name, conn, s.Suite)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()
	if limit := s.Config.Protocol.MaxPduLength; limit > 0 {
		c.In.MaxPayloadLength = limit
	}

	// The session stops at its next PDU once ctx is done. Closing the
	// transport is the only way to interrupt a blocked read, so that waits
	// for the grace period.
	finished := make(chan struct{})
	defer close(finished)
	stop := context.AfterFunc(ctx, func() {
		if grace := s.Config.Server.ShutdownGrace; grace > 0 {
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-finished:
				return
			}
		}
		c.Close()
	})
	defer stop()

	session := &Session{
		Conn:        c,
		Factory:     s.Factory,
		Store:       s.Store,
		War:         s.Config.Server.War,
		MaxIOErrors: s.Config.Server.MaxIOErrors,
		Logger:      s.Logger.WithField("client", name),
		Metrics:     s.Metrics,
	}
	return session.Serve(ctx)
}
