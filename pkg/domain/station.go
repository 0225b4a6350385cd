package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role selects which coordination subsystem a node runs.
type Role string

const (
	RoleHub    Role = "HUB"
	RoleRemote Role = "REMOTE"
)

// ParseRole accepts the role names case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleHub:
		return RoleHub, nil
	case RoleRemote:
		return RoleRemote, nil
	default:
		return "", fmt.Errorf("invalid role %q: expected HUB or REMOTE", s)
	}
}

// Position is the physical coordinate of a station.
type Position struct {
	X int `json:"x" yaml:"x" mapstructure:"x"`
	Y int `json:"y" yaml:"y" mapstructure:"y"`
	Z int `json:"z" yaml:"z" mapstructure:"z"`
}

// StationIdentity describes who a node is.
// Role changes only take full effect after the coordination subsystem restarts.
type StationIdentity struct {
	ID       string   `json:"id" yaml:"id" mapstructure:"id"`
	Label    string   `json:"label" yaml:"label" mapstructure:"label"`
	Role     Role     `json:"role" yaml:"role" mapstructure:"role"`
	Position Position `json:"position" yaml:"position" mapstructure:"position"`
}

// IsHub reports whether the identity carries the hub role.
func (i StationIdentity) IsHub() bool {
	return i.Role == RoleHub
}

// SwitchDevice is one track switch owned by a station.
// Only the owning station mutates it, on local or hub-issued commands.
type SwitchDevice struct {
	Index       int    `json:"index" yaml:"index" mapstructure:"index"`
	Actuator    string `json:"actuator" yaml:"actuator" mapstructure:"actuator"`
	Parking     bool   `json:"parking" yaml:"parking" mapstructure:"parking"`
	BayDetector string `json:"bay_detector,omitempty" yaml:"bay_detector,omitempty" mapstructure:"bay_detector"`
	BayActuator string `json:"bay_actuator,omitempty" yaml:"bay_actuator,omitempty" mapstructure:"bay_actuator"`
	State       bool   `json:"state" yaml:"state" mapstructure:"state"`
}

// HasBay reports whether the switch leads into a parking bay with its own detector.
func (s SwitchDevice) HasBay() bool {
	return s.Parking && s.BayDetector != ""
}

// BayState is the occupancy of one parking bay, driven by its debounced detector.
type BayState struct {
	SwitchIndex int       `json:"switch_index"`
	Occupied    bool      `json:"occupied"`
	LastToggle  time.Time `json:"last_toggle"`
}

// StationRecord is the hub's soft-state view of a station.
// Records are created on registration or an unseen heartbeat and are never deleted while the hub runs.
type StationRecord struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Position      Position       `json:"position"`
	HasTrain      bool           `json:"has_train"`
	PlayersNearby bool           `json:"players_nearby"`
	Online        bool           `json:"online"`
	LastSeen      time.Time      `json:"last_seen"`
	Switches      []SwitchDevice `json:"switches,omitempty"`
}
