package relay

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/encryption"
	"github.com/jankrod/barchomat/internal/core/pdu"
)

// KeyListener watches the handshake from both sides of a proxied session and
// installs the session key on both connections once the server has sent its
// nonce. The client's seed comes from its Login, the nonce from the server's
// Encryption message.
type KeyListener struct {
	Factory *codec.Factory
	Client  *pdu.Connection
	Server  *pdu.Connection
	Logger  logrus.FieldLogger

	mu   sync.Mutex
	seed *int32
}

func NewKeyListener(factory *codec.Factory, client, server *pdu.Connection, logger logrus.FieldLogger) *KeyListener {
	return &KeyListener{Factory: factory, Client: client, Server: server, Logger: logger}
}

// ClientFilter observes traffic from the client.
func (k *KeyListener) ClientFilter() Filter {
	return FilterFunc(k.observeLogin)
}

// ServerFilter observes traffic from the server.
func (k *KeyListener) ServerFilter() Filter {
	return FilterFunc(k.observeEncryption)
}

func (k *KeyListener) observeLogin(p *pdu.Pdu) (*pdu.Pdu, error) {
	if !k.is(p, codec.Login) {
		return p, nil
	}

	login, err := k.Factory.FromPdu(p)
	if err != nil {
		return nil, fmt.Errorf("decoding login: %w", err)
	}
	seed, ok := login.Int("clientSeed")
	if !ok {
		return nil, fmt.Errorf("no client seed in login")
	}
	userID, _ := login.Long("userId")
	k.Logger.Infof("login from user %d", userID)

	k.mu.Lock()
	k.seed = &seed
	k.mu.Unlock()
	return p, nil
}

func (k *KeyListener) observeEncryption(p *pdu.Pdu) (*pdu.Pdu, error) {
	if !k.is(p, codec.Encryption) {
		return p, nil
	}

	k.mu.Lock()
	seed := k.seed
	k.mu.Unlock()
	if seed == nil {
		return nil, fmt.Errorf("server sent a nonce before the client logged in")
	}

	msg, err := k.Factory.FromPdu(p)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption: %w", err)
	}
	nonce, ok := msg.Bytes("serverRandom")
	if !ok {
		return nil, fmt.Errorf("no nonce in encryption message")
	}

	key := encryption.Scramble(*seed, nonce)
	if err := k.Server.SetKey(key); err != nil {
		return nil, err
	}
	// The message carrying the nonce still reaches the client under the old key.
	if err := k.Client.SetKeyAfterNextWrite(key); err != nil {
		return nil, err
	}
	k.Logger.Infof("session keyed")
	return p, nil
}

func (k *KeyListener) is(p *pdu.Pdu, typeName string) bool {
	id, ok := k.Factory.Resolver.IDForStructName(typeName)
	return ok && p.ID == id
}
