package relay

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/debug"
	"github.com/jankrod/barchomat/internal/core/pdu"
)

// MessageFunc edits a decoded message. Returning nil drops the message.
type MessageFunc func(msg *codec.Message) (*codec.Message, error)

// Transformer decodes each PDU, applies a MessageFunc and re-encodes the
// result. PDUs that can't be decoded are forwarded untouched.
type Transformer struct {
	Factory *codec.Factory
	Edit    MessageFunc
	Logger  logrus.FieldLogger
	Metrics *debug.Metrics
}

// NewTransformer returns a Transformer applying edit, or re-encoding messages
// unchanged if edit is nil.
func NewTransformer(factory *codec.Factory, edit MessageFunc, logger logrus.FieldLogger) *Transformer {
	return &Transformer{Factory: factory, Edit: edit, Logger: logger}
}

func (t *Transformer) Filter(p *pdu.Pdu) (*pdu.Pdu, error) {
	msg, err := t.Factory.FromPdu(p)
	if err != nil {
		if !errors.Is(err, codec.ErrUnknownMessage) {
			t.Logger.Warnf("forwarding %v undecoded: %v", p, err)
			t.Metrics.DecodeError("transform")
		}
		return p, nil
	}

	if t.Edit != nil {
		if msg, err = t.Edit(msg); err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, nil
		}
	}

	out, err := t.Factory.ToPdu(msg)
	if err != nil {
		return nil, err
	}
	out.Version = p.Version
	return out, nil
}

// Overrides returns a MessageFunc that sets numeric fields by message type,
// e.g. {"OwnHomeData": {"remainingShield": 0}}. Names match without regard
// to case since config keys are lower cased. A field keeps its wire type and
// fields that aren't numbers or booleans are left alone.
func Overrides(overrides map[string]map[string]int64) MessageFunc {
	byType := make(map[string]map[string]int64, len(overrides))
	for typeName, fields := range overrides {
		lowered := make(map[string]int64, len(fields))
		for name, v := range fields {
			lowered[strings.ToLower(name)] = v
		}
		byType[strings.ToLower(typeName)] = lowered
	}

	return func(msg *codec.Message) (*codec.Message, error) {
		fields, ok := byType[strings.ToLower(msg.Type)]
		if !ok {
			return msg, nil
		}
		for _, f := range msg.Fields() {
			v, ok := fields[strings.ToLower(f.Name)]
			if !ok {
				continue
			}
			switch f.Value.(type) {
			case int8:
				msg.Set(f.Name, int8(v))
			case int32:
				msg.Set(f.Name, int32(v))
			case int64:
				msg.Set(f.Name, v)
			case bool:
				msg.Set(f.Name, v != 0)
			}
		}
		return msg, nil
	}
}
