package relay

import (
	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/pdu"
)

// Filter inspects or transforms a PDU on its way through a Pipe. Returning a
// nil PDU drops it.
type Filter interface {
	Filter(p *pdu.Pdu) (*pdu.Pdu, error)
}

type FilterFunc func(p *pdu.Pdu) (*pdu.Pdu, error)

func (f FilterFunc) Filter(p *pdu.Pdu) (*pdu.Pdu, error) { return f(p) }

// PassThrough forwards every PDU unchanged.
var PassThrough Filter = FilterFunc(func(p *pdu.Pdu) (*pdu.Pdu, error) { return p, nil })

// Chain runs filters in order, feeding each the output of the previous one.
// Processing stops once a filter drops the PDU.
type Chain []Filter

func (c Chain) Filter(p *pdu.Pdu) (*pdu.Pdu, error) {
	var err error
	for _, f := range c {
		p, err = f.Filter(p)
		if err != nil || p == nil {
			return nil, err
		}
	}
	return p, nil
}

// NewLoggingFilter logs every PDU passing through. At debug level the decoded
// message is logged too when factory is set.
func NewLoggingFilter(logger *logrus.Logger, name string, factory *codec.Factory) Filter {
	log := logger.WithField("pipe", name)
	return FilterFunc(func(p *pdu.Pdu) (*pdu.Pdu, error) {
		typeName := "unknown"
		if factory != nil {
			if n, ok := factory.Resolver.StructNameForID(p.ID); ok {
				typeName = n
			}
		}
		log.Infof("%s (%d) %d bytes", typeName, p.ID, len(p.Payload))

		if factory != nil && typeName != "unknown" && log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			if msg, err := factory.FromPdu(p); err != nil {
				log.Debugf("could not decode %s: %v", typeName, err)
			} else {
				log.Debugf("%v", msg)
			}
		}
		return p, nil
	})
}
