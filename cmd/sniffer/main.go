// Command sniffer decodes a game session from a packet capture, decrypting it
// with the keys exchanged in the handshake.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/data"
	"github.com/jankrod/barchomat/internal/core/schema"
	"github.com/jankrod/barchomat/internal/relay"
)

var (
	file       = flag.String("f", "", "pcap file to read")
	serverPort = flag.Uint("p", 9339, "Port of the game server")
	schemaFile = flag.String("schema", "setup/protocol.yaml", "Protocol schema")
	saveDir    = flag.String("save", "", "Save captured villages to this directory")
)

func main() {
	flag.Parse()
	if *file == "" {
		exit("usage: sniffer -f capture.pcap [-p port] [-schema file] [-save dir]")
	}

	resolver, err := schema.Load(*schemaFile)
	if err != nil {
		exit("error loading schema: %v", err)
	}
	factory := codec.NewFactory(resolver, codec.Options{})

	f, err := os.Open(*file)
	if err != nil {
		exit("error opening capture: %v", err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		exit("error reading capture: %v", err)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	s := newSniffer(factory, uint16(*serverPort), w)
	if *saveDir != "" {
		if err := os.MkdirAll(*saveDir, 0755); err != nil {
			exit("error creating %s: %v", *saveDir, err)
		}
		s.saver = relay.NewMessageSaver(factory, s.logger, relay.VillageTypes, &data.DirRepository{Dir: *saveDir})
	}

	packetSource := gopacket.NewPacketSource(reader, reader.LinkType())
	s.startReading(packetSource.Packets())
}

func exit(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}
