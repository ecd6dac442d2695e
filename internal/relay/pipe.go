// Package relay streams PDUs from one framed stream to another through a
// filter. The proxy builds one Pipe per direction of a connection.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core/debug"
	"github.com/jankrod/barchomat/internal/core/pdu"
)

type Source interface {
	Read() (*pdu.Pdu, error)
}

type Sink interface {
	Write(p *pdu.Pdu) error
	Close() error
}

// Pipe moves PDUs from Source to Sink.
type Pipe struct {
	// Name for logs and metrics.
	Name   string
	Source Source
	Sink   Sink
	// Close the sink when the source reaches end of stream.
	PropagateEOF bool

	Logger  logrus.FieldLogger
	Metrics *debug.Metrics
}

func NewPipe(name string, source Source, sink Sink) *Pipe {
	return &Pipe{
		Name:         name,
		Source:       source,
		Sink:         sink,
		PropagateEOF: true,
		Logger:       logrus.StandardLogger(),
	}
}

// FilterThrough relays one PDU through filter. An end of stream from the
// source is returned as is, after closing the sink if PropagateEOF is set.
func (p *Pipe) FilterThrough(filter Filter) error {
	in, err := p.Source.Read()
	if err != nil {
		if errors.Is(err, pdu.ErrEndOfStream) && p.PropagateEOF {
			if closeErr := p.Sink.Close(); closeErr != nil {
				p.Logger.Debugf("[%s] error closing sink: %v", p.Name, closeErr)
			}
		}
		return err
	}

	out, err := filter.Filter(in)
	if err != nil {
		return fmt.Errorf("[%s] filtering %v: %w", p.Name, in, err)
	}
	if out == nil {
		p.Metrics.PduDropped(p.Name)
		return nil
	}

	if err := p.Sink.Write(out); err != nil {
		return err
	}
	p.Metrics.PduRelayed(p.Name)
	return nil
}

// Run relays PDUs until the source reaches end of stream, which is not
// reported as an error, or until ctx is cancelled or relaying fails.
func (p *Pipe) Run(ctx context.Context, filter Filter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.FilterThrough(filter); err != nil {
			if errors.Is(err, pdu.ErrEndOfStream) {
				p.Logger.Infof("[%s] end of stream", p.Name)
				return nil
			}
			return err
		}
	}
}
