// Package proxy relays a game client's session to the real server, keying
// both legs from the observed handshake and capturing the villages that pass
// through.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core"
	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/data"
	"github.com/jankrod/barchomat/internal/core/debug"
	"github.com/jankrod/barchomat/internal/core/encryption"
	"github.com/jankrod/barchomat/internal/core/pdu"
	"github.com/jankrod/barchomat/internal/relay"
)

// Proxy sits between a game client and the upstream server.
type Proxy struct {
	Name    string
	Config  *core.Config
	Factory *codec.Factory
	Logger  *logrus.Logger
	Metrics *debug.Metrics

	// Repositories captured messages are saved to in addition to the
	// configured save directory.
	Repositories []data.SnapshotRepository
	// Optional edit applied to every decodable message in both directions.
	// Built from the configured overrides if not set.
	Edit relay.MessageFunc
	// Defaults to the game's RC4 suite.
	Suite encryption.Suite
	// Defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)

	saveTypes []string
}

func (p *Proxy) Identifier() string {
	return p.Name
}

func (p *Proxy) Init(ctx context.Context) error {
	if p.Config.Proxy.UpstreamAddress == "" {
		return errors.New("no upstream address configured")
	}
	if p.Suite == nil {
		p.Suite = encryption.NewRC4Suite()
	}
	if p.Dial == nil {
		p.Dial = (&net.Dialer{}).DialContext
	}

	if dir := p.Config.Proxy.SaveDir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating capture directory: %w", err)
		}
		p.Repositories = append(p.Repositories, &data.DirRepository{Dir: dir})
	}
	if p.Edit == nil && len(p.Config.Proxy.Overrides) > 0 {
		p.Edit = relay.Overrides(p.Config.Proxy.Overrides)
	}
	if !p.Config.Proxy.SaveAll {
		p.saveTypes = relay.VillageTypes
	}
	return nil
}

// Serve relays one client connection until either side disconnects or ctx is
// cancelled. The client connection is closed on return.
func (p *Proxy) Serve(ctx context.Context, conn net.Conn) error {
	logger := p.Logger.WithField("client", conn.RemoteAddr().String())

	upstream, err := p.Dial(ctx, "tcp", p.Config.Proxy.UpstreamAddress)
	if err != nil {
		conn.Close()
		return fmt.Errorf("error connecting to %s: %w", p.Config.Proxy.UpstreamAddress, err)
	}
	logger.Infof("connected to %s", upstream.RemoteAddr())

	client, err := pdu.NewConnection("client", conn, p.Suite)
	if err != nil {
		conn.Close()
		upstream.Close()
		return err
	}
	server, err := pdu.NewConnection("server", upstream, p.Suite)
	if err != nil {
		conn.Close()
		upstream.Close()
		return err
	}
	if limit := p.Config.Protocol.MaxPduLength; limit > 0 {
		client.In.MaxPayloadLength = limit
		server.In.MaxPayloadLength = limit
	}

	closeBoth := func() {
		client.Close()
		server.Close()
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	clientFilter, serverFilter := p.filters(client, server, logger)

	pipes := []struct {
		pipe   *relay.Pipe
		filter relay.Filter
	}{
		{pipe: relay.NewPipe("client", client.In, server.Out), filter: clientFilter},
		{pipe: relay.NewPipe("server", server.In, client.Out), filter: serverFilter},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(pipes))
	for i, pp := range pipes {
		pp.pipe.Logger = logger
		pp.pipe.Metrics = p.Metrics

		wg.Add(1)
		go func(i int, pipe *relay.Pipe, filter relay.Filter) {
			defer wg.Done()
			if err := pipe.Run(ctx, filter); err != nil {
				errs[i] = err
				// Unblock the other direction.
				closeBoth()
			}
		}(i, pp.pipe, pp.filter)
	}
	wg.Wait()
	closeBoth()

	if ctx.Err() != nil {
		return nil
	}
	return errors.Join(errs...)
}

// filters builds the client-to-server and server-to-client filter chains.
func (p *Proxy) filters(client, server *pdu.Connection, logger logrus.FieldLogger) (relay.Filter, relay.Filter) {
	keys := relay.NewKeyListener(p.Factory, client, server, logger)
	clientChain := relay.Chain{keys.ClientFilter()}
	serverChain := relay.Chain{keys.ServerFilter()}

	if p.Config.Debugging.PacketLoggingEnabled {
		clientChain = append(clientChain, relay.NewLoggingFilter(p.Logger, "client", p.Factory))
		serverChain = append(serverChain, relay.NewLoggingFilter(p.Logger, "server", p.Factory))
	}

	if len(p.Repositories) > 0 {
		saver := relay.NewMessageSaver(p.Factory, logger, p.saveTypes, p.Repositories...)
		saver.Metrics = p.Metrics
		clientChain = append(clientChain, saver)
		serverChain = append(serverChain, saver)
	}

	if p.Edit != nil {
		transformer := relay.NewTransformer(p.Factory.WithAllFields(), p.Edit, logger)
		transformer.Metrics = p.Metrics
		clientChain = append(clientChain, transformer)
		serverChain = append(serverChain, transformer)
	}
	return clientChain, serverChain
}
