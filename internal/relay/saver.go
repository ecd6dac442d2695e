package relay

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/data"
	"github.com/jankrod/barchomat/internal/core/debug"
	"github.com/jankrod/barchomat/internal/core/encryption"
	"github.com/jankrod/barchomat/internal/core/pdu"
)

// VillageTypes are the messages saved by default: everything the server
// emulator can serve, plus replays.
var VillageTypes = []string{
	codec.OwnHomeData,
	codec.VisitedHomeData,
	codec.EnemyHomeData,
	codec.WarHomeData,
	codec.HomeBattleReplayData,
}

// MessageSaver is a Filter that records PDUs as snapshots. Failures are
// logged and never stop the PDU from being forwarded.
type MessageSaver struct {
	Factory      *codec.Factory
	Repositories []data.SnapshotRepository
	Logger       logrus.FieldLogger
	Metrics      *debug.Metrics

	// Message types to save. Empty saves everything.
	types map[string]bool
	now   func() time.Time
}

// NewMessageSaver saves messages of the given types, or of every type if
// none are given.
func NewMessageSaver(factory *codec.Factory, logger logrus.FieldLogger, types []string, repos ...data.SnapshotRepository) *MessageSaver {
	s := &MessageSaver{
		Factory:      factory,
		Repositories: repos,
		Logger:       logger,
		types:        make(map[string]bool),
		now:          time.Now,
	}
	for _, t := range types {
		s.types[t] = true
	}
	return s
}

func (s *MessageSaver) Filter(p *pdu.Pdu) (*pdu.Pdu, error) {
	typeName, known := s.Factory.Resolver.StructNameForID(p.ID)
	if !known {
		typeName = strconv.Itoa(int(p.ID))
	}
	if len(s.types) > 0 && !s.types[typeName] {
		return p, nil
	}

	var frame bytes.Buffer
	if err := pdu.NewWriter(&frame, encryption.NoopCipher{}).Write(p); err != nil {
		s.Logger.Errorf("couldn't save %s: %v", typeName, err)
		return p, nil
	}
	snapshot := &data.Snapshot{
		Type:       typeName,
		CapturedAt: s.now(),
		Payload:    frame.Bytes(),
	}

	if known {
		if msg, err := s.Factory.FromPdu(p); err != nil {
			s.Logger.Warnf("can't write JSON for %s: %v", typeName, err)
		} else {
			snapshot.HomeID, _ = msg.Long("homeId")
			snapshot.Label = sanitize(s.guessName(msg))
			if doc, err := json.MarshalIndent(msg, "", "  "); err != nil {
				s.Logger.Warnf("can't write JSON for %s: %v", typeName, err)
			} else {
				snapshot.Document = doc
			}
		}
	}

	for _, repo := range s.Repositories {
		if err := repo.SaveSnapshot(snapshot); err != nil {
			s.Logger.Errorf("couldn't save %s: %v", typeName, err)
		}
	}
	s.Metrics.MessageSaved(typeName)
	return p, nil
}

// guessName extracts a human readable name for the village or replay in
// msg, or "" if there isn't one.
func (s *MessageSaver) guessName(msg *codec.Message) string {
	switch msg.Type {
	case codec.OwnHomeData, codec.VisitedHomeData, codec.EnemyHomeData:
		if id, ok := msg.Long("homeId"); ok {
			return strconv.FormatInt(id, 10)
		}

	case codec.WarHomeData:
		var village struct {
			Name string `json:"name"`
		}
		if err := unmarshalField(msg, "homeVillage", &village); err != nil {
			s.Logger.Warnf("couldn't extract name from %s: %v", msg.Type, err)
		}
		return village.Name

	case codec.HomeBattleReplayData:
		var replay struct {
			Defender struct {
				Name string `json:"name"`
			} `json:"defender"`
		}
		if err := unmarshalField(msg, "replay", &replay); err != nil {
			s.Logger.Warnf("couldn't extract name from %s: %v", msg.Type, err)
		}
		return replay.Defender.Name
	}
	return ""
}

func unmarshalField(msg *codec.Message, field string, v interface{}) error {
	doc, _ := msg.Str(field)
	return json.Unmarshal([]byte(doc), v)
}

// sanitize makes a label safe to use in a file name.
func sanitize(label string) string {
	t := runes.Map(func(r rune) rune {
		if r < ' ' || strings.ContainsRune(`:\/]`, r) {
			return '_'
		}
		return r
	})
	out, _, err := transform.String(t, label)
	if err != nil {
		return ""
	}
	return out
}
