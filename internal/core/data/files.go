package data

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DirRepository is a SnapshotRepository storing each snapshot as a .pdu file
// and, when it has one, a .json file in Dir.
type DirRepository struct {
	Dir string
}

func (r *DirRepository) SaveSnapshot(s *Snapshot) error {
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", r.Dir, err)
	}

	base := filepath.Join(r.Dir, s.FileName())
	if err := os.WriteFile(base+".pdu", s.Payload, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if s.Document != nil {
		if err := os.WriteFile(base+".json", s.Document, 0644); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
	}
	return nil
}

// FindSnapshots reads every <Type>[label]timestamp.pdu file of the given
// types, ordered by file name.
func (r *DirRepository) FindSnapshots(types ...string) ([]Snapshot, error) {
	var paths []string
	for _, t := range types {
		matches, err := filepath.Glob(filepath.Join(r.Dir, t+"*.pdu"))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if typeName, _, _ := ParseFileName(filepath.Base(m)); typeName == t {
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)

	snapshots := make([]Snapshot, 0, len(paths))
	for _, p := range paths {
		payload, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot: %w", err)
		}
		typeName, label, capturedAt := ParseFileName(filepath.Base(p))
		snapshots = append(snapshots, Snapshot{
			Type:       typeName,
			Label:      label,
			CapturedAt: capturedAt,
			Payload:    payload,
		})
	}
	return snapshots, nil
}

// ParseFileName splits a snapshot file name into its message type, label and
// capture time. Names that don't follow the pattern yield the name without
// extension as the type.
func ParseFileName(name string) (typeName, label string, capturedAt time.Time) {
	name = strings.TrimSuffix(name, filepath.Ext(name))

	open := strings.IndexByte(name, '[')
	closing := strings.LastIndexByte(name, ']')
	if open < 0 || closing < open {
		return name, "", time.Time{}
	}

	capturedAt, _ = time.ParseInLocation(TimestampLayout, name[closing+1:], time.Local)
	return name[:open], name[open+1 : closing], capturedAt
}
