package data

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TimestampLayout is the capture time format used in snapshot file names.
const TimestampLayout = "2006-01-02-15-04-05"

// Snapshot is a captured message: the plaintext frame as it would appear in a
// .pdu file plus a JSON rendering of the decoded message.
type Snapshot struct {
	ID         uint64 `gorm:"primaryKey"`
	Type       string `gorm:"index; not null"`
	Label      string
	HomeID     int64 `gorm:"index"`
	CapturedAt time.Time
	Payload    []byte `gorm:"not null"`
	Document   []byte
}

// FileName is the base name a snapshot is stored under, without extension.
func (s *Snapshot) FileName() string {
	return fmt.Sprintf("%s[%s]%s", s.Type, s.Label, s.CapturedAt.Format(TimestampLayout))
}

// SnapshotRepository stores captured snapshots.
type SnapshotRepository interface {
	SaveSnapshot(s *Snapshot) error
	// FindSnapshots returns the snapshots of the given message types in
	// capture order.
	FindSnapshots(types ...string) ([]Snapshot, error)
}

func SaveSnapshot(db *gorm.DB, s *Snapshot) error {
	return db.Create(s).Error
}

// FindSnapshotsByType returns every snapshot of the given types, oldest first.
func FindSnapshotsByType(db *gorm.DB, types ...string) ([]Snapshot, error) {
	var snapshots []Snapshot
	err := db.Where("type IN ?", types).Order("captured_at, id").Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// FindLatestSnapshot returns the newest snapshot of the type captured for
// homeID, or nil if there is none.
func FindLatestSnapshot(db *gorm.DB, typeName string, homeID int64) (*Snapshot, error) {
	var snapshots []Snapshot
	err := db.Where("type = ? AND home_id = ?", typeName, homeID).
		Order("captured_at desc, id desc").
		Limit(1).
		Find(&snapshots).Error
	if err != nil || len(snapshots) == 0 {
		return nil, err
	}
	return &snapshots[0], nil
}

// DBRepository is a SnapshotRepository backed by the database.
type DBRepository struct {
	DB *gorm.DB
}

func (r *DBRepository) SaveSnapshot(s *Snapshot) error {
	return SaveSnapshot(r.DB, s)
}

func (r *DBRepository) FindSnapshots(types ...string) ([]Snapshot, error) {
	return FindSnapshotsByType(r.DB, types...)
}
