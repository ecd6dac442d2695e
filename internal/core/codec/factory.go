package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core/encryption"
	"github.com/jankrod/barchomat/internal/core/pdu"
	"github.com/jankrod/barchomat/internal/core/schema"
)

// Names of the messages the proxy and server act on.
const (
	Login                = "Login"
	Encryption           = "Encryption"
	LoginOk              = "LoginOk"
	OwnHomeData          = "OwnHomeData"
	EnemyHomeData        = "EnemyHomeData"
	VisitedHomeData      = "VisitedHomeData"
	WarHomeData          = "WarHomeData"
	HomeBattleReplayData = "HomeBattleReplayData"
	EndClientTurn        = "EndClientTurn"
	AttackResult         = "AttackResult"
	KeepAlive            = "KeepAlive"
	ServerKeepAlive      = "ServerKeepAlive"
	SetDeviceToken       = "SetDeviceToken"
	UnknownInfoResponse  = "UnknownInfoResponse"
)

// Options tunes decoding.
type Options struct {
	MaxArrayLength int
	AllFields      bool
	Logger         logrus.FieldLogger
}

// Factory converts between PDUs and Messages using a schema.
type Factory struct {
	Resolver *schema.Resolver

	decoder Decoder
	encoder Encoder
}

func NewFactory(resolver *schema.Resolver, opts Options) *Factory {
	return &Factory{
		Resolver: resolver,
		decoder: Decoder{
			Resolver:       resolver,
			Logger:         opts.Logger,
			MaxArrayLength: opts.MaxArrayLength,
			AllFields:      opts.AllFields,
		},
		encoder: Encoder{Resolver: resolver},
	}
}

// WithAllFields returns a Factory sharing f's schema that keeps unnamed
// fields when decoding. Messages that are re-encoded must be decoded this way
// or their unnamed fields are written back as zero.
func (f *Factory) WithAllFields() *Factory {
	c := *f
	c.decoder.AllFields = true
	return &c
}

// NewMessage returns an empty message of the named type, or an error when the
// schema has no such struct.
func (f *Factory) NewMessage(typeName string) (*Message, error) {
	if _, ok := f.Resolver.Struct(typeName); !ok {
		return nil, &schema.SchemaError{Name: typeName, Reason: "unknown struct"}
	}
	return NewMessage(typeName), nil
}

// FromPdu decodes the payload of p. ErrUnknownMessage is returned when the
// schema has no message with p's id.
func (f *Factory) FromPdu(p *pdu.Pdu) (*Message, error) {
	name, ok := f.Resolver.StructNameForID(p.ID)
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownMessage, p.ID)
	}
	return f.Decode(name, p.Payload)
}

// ToPdu encodes msg as the payload of a PDU with the message's id.
func (f *Factory) ToPdu(msg *Message) (*pdu.Pdu, error) {
	id, ok := f.Resolver.IDForStructName(msg.Type)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownMessage, msg.Type)
	}
	payload, err := f.Encode(msg)
	if err != nil {
		return nil, err
	}
	return &pdu.Pdu{ID: id, Payload: payload}, nil
}

// Decode reads a whole payload as the named struct.
func (f *Factory) Decode(typeName string, payload []byte) (*Message, error) {
	v, err := f.decoder.DecodeNamed(typeName, NewBitReader(bytes.NewReader(payload)))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", typeName, err)
	}
	msg, ok := v.(*Message)
	if !ok {
		return nil, &schema.SchemaError{Name: typeName, Reason: "not a struct"}
	}
	return msg, nil
}

func (f *Factory) Encode(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	out := NewBitWriter(&buf)
	if err := f.encoder.EncodeNamed(msg.Type, msg, out); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Type, err)
	}
	if err := out.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromStream reads one plaintext frame, as stored in .pdu capture files, and
// decodes it.
func (f *Factory) FromStream(r io.Reader) (*Message, error) {
	p, err := pdu.NewReader(r, encryption.NoopCipher{}).Read()
	if err != nil {
		return nil, err
	}
	return f.FromPdu(p)
}

// WriteStream is the mirror of FromStream.
func (f *Factory) WriteStream(w io.Writer, msg *Message) error {
	p, err := f.ToPdu(msg)
	if err != nil {
		return err
	}
	return pdu.NewWriter(w, encryption.NoopCipher{}).Write(p)
}
