package server

import (
	"crypto/rand"
	"fmt"
	"strconv"

	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/encryption"
)

// EndClientTurn command ids.
const (
	MoveBuildingCommand  = 501
	BuyDecorationCommand = 512
	GoHomeCommand        = 603
	FindEnemyCommand     = 700
)

// login performs the key exchange and sends the messages a client expects
// before it shows the home village.
func (s *Session) login(login *codec.Message) error {
	s.setState(Handshaking)

	userID, ok := login.Long("userId")
	if !ok {
		return &codec.ProtocolError{Msg: "no user id in login"}
	}
	s.UserID = userID

	seed, ok := login.Get("clientSeed")
	clientSeed, isInt := seed.(int32)
	if !ok || !isInt {
		return &codec.ProtocolError{Msg: "expected client seed in login message"}
	}

	nonce, err := s.nonce()
	if err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	enc, err := s.Factory.NewMessage(codec.Encryption)
	if err != nil {
		return err
	}
	enc.Set("serverRandom", nonce)
	enc.Set("version", int32(1))
	if err := s.send(enc); err != nil {
		return err
	}
	if err := s.Conn.SetKey(encryption.Scramble(clientSeed, nonce)); err != nil {
		return err
	}
	s.Logger.Infof("sent Encryption")

	loginOk, err := s.Factory.NewMessage(codec.LoginOk)
	if err != nil {
		return err
	}
	userToken, _ := login.Get("userToken")
	majorVersion, _ := login.Get("majorVersion")
	minorVersion, _ := login.Get("minorVersion")
	loginOk.Set("userId", userID)
	loginOk.Set("homeId", userID)
	loginOk.Set("userToken", userToken)
	loginOk.Set("majorVersion", majorVersion)
	loginOk.Set("minorVersion", minorVersion)
	loginOk.Set("revision", int32(3))
	loginOk.Set("environment", "prod")
	loginOk.Set("loginCount", int32(60))
	loginOk.Set("timeOnline", int32(6110))
	loginOk.Set("f12", int32(14))
	loginOk.Set("facebookAppId", "297484437009394")
	loginOk.Set("lastLoginDate", strconv.FormatInt(s.now().Unix(), 10))
	loginOk.Set("joinDate", "1436580824000")
	loginOk.Set("country", "US")
	if err := s.send(loginOk); err != nil {
		return err
	}
	s.Logger.Infof("sent LoginOk")

	home, err := s.loadHome()
	if err != nil {
		return err
	}
	if err := s.send(home); err != nil {
		return err
	}
	s.Logger.Infof("sent OwnHomeData")

	info, err := s.Factory.NewMessage(codec.UnknownInfoResponse)
	if err != nil {
		return err
	}
	for i, v := range []int32{4, 16, 1651423, 40, 1077978, 12} {
		info.Set(fmt.Sprintf("f%d", i+1), v)
	}
	if err := s.send(info); err != nil {
		return err
	}

	s.setState(Ready)
	return nil
}

func (s *Session) nonce() ([]byte, error) {
	if s.Nonce != nil {
		return s.Nonce()
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// endTurn applies the commands of an EndClientTurn in order. Moves and
// purchases continue the turn; a command that loads a village ends it and
// supplies the response, as does any command that isn't understood.
func (s *Session) endTurn(turn *codec.Message) (*codec.Message, error) {
	var response *codec.Message
	var err error

	commands, _ := turn.Messages("commands")
commandLoop:
	for _, command := range commands {
		id, ok := command.Int("id")
		if !ok {
			continue
		}
		s.Metrics.Command(id)

		switch id {
		case FindEnemyCommand:
			response, err = s.loadEnemy()
			break commandLoop

		case GoHomeCommand:
			response, err = s.loadHome()
			break commandLoop

		case MoveBuildingCommand:
			x, _ := command.Int("x")
			y, _ := command.Int("y")
			buildingID, _ := command.Int("buildingId")
			s.Logger.Debugf("moving %d to %d, %d", buildingID, x, y)
			if s.Store.MoveBuilding(buildingID, x, y) {
				s.Dirty = true
			} else {
				s.Logger.Errorf("couldn't find building %d", buildingID)
			}

		case BuyDecorationCommand:
			x, _ := command.Int("x")
			y, _ := command.Int("y")
			typeID, _ := command.Int("buildingId")
			s.Logger.Debugf("adding %d at %d, %d", typeID, x, y)
			if s.Store.AddBuilding(typeID, x, y) {
				s.Dirty = true
			} else {
				s.Logger.Errorf("can't add objects of type %d", typeID)
			}

		default:
			s.Logger.Debugf("not processing command %d from client", id)
			break commandLoop
		}
	}

	if s.Dirty {
		if saveErr := s.Store.Save(); saveErr != nil {
			s.Logger.Errorf("couldn't save home village: %v", saveErr)
		} else {
			s.Dirty = false
		}
	}
	return response, err
}

func (s *Session) loadHome() (*codec.Message, error) {
	home, err := s.Store.HomeSnapshot()
	if err != nil {
		return nil, fmt.Errorf("loading home village: %w", err)
	}
	// No shield, so that attacking doesn't ask for confirmation.
	home.Set("remainingShield", int32(0))
	home.Set("age", int32(4))
	home.Set("timeStamp", int32(s.now().Unix()-4))
	return home, nil
}

func (s *Session) loadEnemy() (*codec.Message, error) {
	enemy, err := s.Store.EnemySnapshot(s.NextVillage, s.War)
	s.NextVillage++
	if err != nil {
		return nil, fmt.Errorf("loading enemy village: %w", err)
	}
	if enemy == nil {
		return nil, ErrNoEnemyVillages
	}
	enemy.Set("timeStamp", int32(s.now().Unix()))
	return enemy, nil
}
