package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/encryption"
	"github.com/jankrod/barchomat/internal/core/pdu"
	"github.com/jankrod/barchomat/internal/relay"
)

// bufferConn feeds captured bytes to a pdu.Connection.
type bufferConn struct {
	*bytes.Buffer
}

func (bufferConn) Close() error { return nil }

// direction is one side of the captured session.
type direction struct {
	name   string
	data   bufferConn
	conn   *pdu.Connection
	filter relay.Filter
}

// frameReady reports whether a whole frame is buffered.
func (d *direction) frameReady() bool {
	b := d.data.Bytes()
	if len(b) < pdu.HeaderSize {
		return false
	}
	length := int(b[2])<<16 | int(b[3])<<8 | int(b[4])
	return len(b) >= pdu.HeaderSize+length
}

type sniffer struct {
	factory *codec.Factory
	port    uint16
	out     io.Writer
	logger  logrus.FieldLogger
	saver   *relay.MessageSaver

	client *direction
	server *direction
}

func newSniffer(factory *codec.Factory, port uint16, out io.Writer) *sniffer {
	logger := logrus.New()
	logger.SetOutput(out)

	s := &sniffer{factory: factory, port: port, out: out, logger: logger}
	s.reset()
	return s
}

// reset starts tracking a new session.
func (s *sniffer) reset() {
	suite := encryption.NewRC4Suite()
	s.client = &direction{name: "client", data: bufferConn{&bytes.Buffer{}}}
	s.server = &direction{name: "server", data: bufferConn{&bytes.Buffer{}}}
	// Neither suite call can fail for RC4.
	s.client.conn, _ = pdu.NewConnection("client", s.client.data, suite)
	s.server.conn, _ = pdu.NewConnection("server", s.server.data, suite)

	keys := relay.NewKeyListener(s.factory, s.client.conn, s.server.conn, s.logger)
	s.client.filter = keys.ClientFilter()
	s.server.filter = keys.ServerFilter()
}

func (s *sniffer) startReading(packets chan gopacket.Packet) {
	for packet := range packets {
		layer := packet.Layer(layers.LayerTypeTCP)
		if layer == nil {
			continue
		}
		tcp := layer.(*layers.TCP)

		var d *direction
		switch {
		case uint16(tcp.DstPort) == s.port:
			d = s.client
		case uint16(tcp.SrcPort) == s.port:
			d = s.server
		default:
			continue
		}

		if tcp.SYN && !tcp.ACK {
			fmt.Fprintln(s.out, "-- new session --")
			s.reset()
			continue
		}
		s.handlePayload(d, tcp.Payload)
	}
}

// handlePayload buffers a segment and prints every frame it completes.
func (s *sniffer) handlePayload(d *direction, payload []byte) {
	d.data.Write(payload)

	for d.frameReady() {
		p, err := d.conn.In.Read()
		if err != nil {
			fmt.Fprintf(s.out, "%s: %v\n", d.name, err)
			return
		}
		if _, err := d.filter.Filter(p); err != nil {
			fmt.Fprintf(s.out, "%s: %v\n", d.name, err)
		}
		if s.saver != nil {
			_, _ = s.saver.Filter(p)
		}
		s.print(d, p)
	}
}

func (s *sniffer) print(d *direction, p *pdu.Pdu) {
	msg, err := s.factory.FromPdu(p)
	if err != nil {
		fmt.Fprintf(s.out, "%s %v: %v\n", d.name, p, err)
		return
	}
	fmt.Fprintf(s.out, "%s %v\n", d.name, msg)
}
