package village

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/data"
	"github.com/jankrod/barchomat/internal/core/encryption"
	"github.com/jankrod/barchomat/internal/core/pdu"
)

// ErrNoHome is returned when there is no captured home village to serve.
var ErrNoHome = errors.New("no home village found; capture one with the proxy first")

// Store is the game state a server session reads and mutates.
type Store interface {
	// HomeSnapshot returns the player's village as an OwnHomeData message
	// the caller may modify.
	HomeSnapshot() (*codec.Message, error)
	// EnemySnapshot returns the index'th enemy village as an EnemyHomeData
	// message, wrapping around the available villages, or nil if there are none.
	EnemySnapshot(index int, war bool) (*codec.Message, error)
	MoveBuilding(objectID, x, y int32) bool
	AddBuilding(typeID, x, y int32) bool
	Save() error
}

// Manager is a Store backed by captured snapshots. The home village is read
// from HomeFile if set, otherwise it is the latest OwnHomeData in the
// repository. Saving writes back to wherever the home came from.
type Manager struct {
	Factory  *codec.Factory
	HomeFile string
	Villages data.SnapshotRepository
	Logger   logrus.FieldLogger

	mu      sync.Mutex
	home    *codec.Message
	village *Village
}

func NewManager(factory *codec.Factory, homeFile string, villages data.SnapshotRepository, logger logrus.FieldLogger) (*Manager, error) {
	m := &Manager{
		Factory:  factory.WithAllFields(),
		HomeFile: homeFile,
		Villages: villages,
		Logger:   logger,
	}
	if err := m.loadHome(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadHome() error {
	var frame []byte
	if m.HomeFile != "" {
		b, err := os.ReadFile(m.HomeFile)
		if err != nil {
			return fmt.Errorf("reading home village: %w", err)
		}
		frame = b
	} else {
		homes, err := m.Villages.FindSnapshots(codec.OwnHomeData)
		if err != nil {
			return fmt.Errorf("finding home village: %w", err)
		}
		if len(homes) == 0 {
			return ErrNoHome
		}
		frame = homes[len(homes)-1].Payload
	}

	home, err := m.Factory.FromStream(bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("decoding home village: %w", err)
	}
	if home.Type != codec.OwnHomeData {
		return fmt.Errorf("home village is a %s, not %s", home.Type, codec.OwnHomeData)
	}

	doc, _ := home.Str("homeVillage")
	village, err := ParseVillage(doc)
	if err != nil {
		return err
	}

	m.home = home
	m.village = village
	return nil
}

func (m *Manager) HomeSnapshot() (*codec.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// snapshot renders the current village into a copy of the home message.
func (m *Manager) snapshot() (*codec.Message, error) {
	doc, err := m.village.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding village: %w", err)
	}
	home := m.home.Clone()
	home.Set("homeVillage", string(doc))
	return home, nil
}

func (m *Manager) EnemySnapshot(index int, war bool) (*codec.Message, error) {
	if index < 0 {
		return nil, fmt.Errorf("invalid village index %d", index)
	}

	var snapshots []data.Snapshot
	var err error
	if war {
		if snapshots, err = m.Villages.FindSnapshots(codec.WarHomeData); err != nil {
			return nil, err
		}
	}
	if len(snapshots) == 0 {
		if snapshots, err = m.Villages.FindSnapshots(codec.EnemyHomeData); err != nil {
			return nil, err
		}
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	s := snapshots[index%len(snapshots)]
	m.Logger.Debugf("loading enemy village %s", s.FileName())
	village, err := m.Factory.FromStream(bytes.NewReader(s.Payload))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.FileName(), err)
	}
	if village.Type == codec.EnemyHomeData {
		return village, nil
	}
	return asEnemy(village), nil
}

// asEnemy copies the fields of another village message that EnemyHomeData
// shares.
func asEnemy(village *codec.Message) *codec.Message {
	enemy := codec.NewMessage(codec.EnemyHomeData)
	for _, f := range village.Fields() {
		enemy.Set(f.Name, f.Value)
	}
	return enemy
}

func (m *Manager) MoveBuilding(objectID, x, y int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.village.Move(objectID, x, y)
}

func (m *Manager) AddBuilding(typeID, x, y int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.village.Add(typeID, x, y)
}

func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	home, err := m.snapshot()
	if err != nil {
		return err
	}
	p, err := m.Factory.ToPdu(home)
	if err != nil {
		return fmt.Errorf("encoding home village: %w", err)
	}
	var frame bytes.Buffer
	if err := pdu.NewWriter(&frame, encryption.NoopCipher{}).Write(p); err != nil {
		return err
	}

	if m.HomeFile == "" {
		homeID, _ := home.Long("homeId")
		return m.Villages.SaveSnapshot(&data.Snapshot{
			Type:       codec.OwnHomeData,
			Label:      fmt.Sprint(homeID),
			HomeID:     homeID,
			CapturedAt: time.Now(),
			Payload:    frame.Bytes(),
		})
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.HomeFile), ".home-*.pdu")
	if err != nil {
		return fmt.Errorf("saving home village: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(frame.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("saving home village: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("saving home village: %w", err)
	}
	return os.Rename(tmp.Name(), m.HomeFile)
}
