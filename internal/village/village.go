// Package village holds the player's home village and the captured enemy
// villages served by the server emulator.
package village

import (
	"encoding/json"
	"fmt"
)

// OIDRadix separates the category of an object id from its offset or level.
const OIDRadix = 1000000

// Categories of placed objects, as found in object ids (category*OIDRadix + offset).
const (
	PlacedBuilding   = 500
	PlacedTrap       = 504
	PlacedDecoration = 506
)

// Categories of catalog types, as found in type ids (category*OIDRadix + n).
const (
	BuildingType   = 1
	TrapType       = 12
	DecorationType = 18
)

// Building is a placed building, trap or decoration. Keys other than the
// type and position are kept as they were read.
type Building struct {
	Data int32
	X    int32
	Y    int32

	extra map[string]json.RawMessage
}

func (b *Building) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &b.extra); err != nil {
		return err
	}
	for key, dst := range map[string]*int32{"data": &b.Data, "x": &b.X, "y": &b.Y} {
		if raw, ok := b.extra[key]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return fmt.Errorf("building %s: %w", key, err)
			}
			delete(b.extra, key)
		}
	}
	return nil
}

func (b Building) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(b.extra)+3)
	for k, v := range b.extra {
		out[k] = v
	}
	out["data"] = b.Data
	out["x"] = b.X
	out["y"] = b.Y
	return json.Marshal(out)
}

// Village is the part of the homeVillage document the server modifies.
type Village struct {
	Buildings []*Building
	Traps     []*Building
	Decos     []*Building

	extra map[string]json.RawMessage
}

func ParseVillage(doc string) (*Village, error) {
	v := &Village{}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return nil, fmt.Errorf("parsing village: %w", err)
	}
	return v, nil
}

func (v *Village) collections() map[string]*[]*Building {
	return map[string]*[]*Building{
		"buildings": &v.Buildings,
		"traps":     &v.Traps,
		"decos":     &v.Decos,
	}
}

func (v *Village) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &v.extra); err != nil {
		return err
	}
	for key, dst := range v.collections() {
		if raw, ok := v.extra[key]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return fmt.Errorf("village %s: %w", key, err)
			}
			// Object ids are positions, so a null entry can't be skipped.
			for i, o := range *dst {
				if o == nil {
					return fmt.Errorf("village %s: entry %d is null", key, i)
				}
			}
			delete(v.extra, key)
		}
	}
	return nil
}

func (v *Village) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(v.extra)+3)
	for k, raw := range v.extra {
		out[k] = raw
	}
	for key, src := range v.collections() {
		if *src != nil {
			out[key] = *src
		}
	}
	return json.Marshal(out)
}

// Move relocates the object with the given object id. It reports false, and
// changes nothing, if the id doesn't name a placed object.
func (v *Village) Move(objectID, x, y int32) bool {
	offset := int(objectID % OIDRadix)

	var objects []*Building
	switch objectID / OIDRadix {
	case PlacedBuilding:
		objects = v.Buildings
	case PlacedTrap:
		objects = v.Traps
	case PlacedDecoration:
		objects = v.Decos
	default:
		return false
	}

	if offset < 0 || offset >= len(objects) || objects[offset] == nil {
		return false
	}
	objects[offset].X = x
	objects[offset].Y = y
	return true
}

// Add places a new object of a catalog type. It reports false if the type
// id isn't a building, trap or decoration.
func (v *Village) Add(typeID, x, y int32) bool {
	b := &Building{Data: typeID, X: x, Y: y}

	switch typeID / OIDRadix {
	case BuildingType:
		v.Buildings = append(v.Buildings, b)
	case TrapType:
		v.Traps = append(v.Traps, b)
	case DecorationType:
		v.Decos = append(v.Decos, b)
	default:
		return false
	}
	return true
}
