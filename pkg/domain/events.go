package domain

import "time"

// EventType defines the category of a station event.
type EventType string

const (
	EventArrived  EventType = "arrived"
	EventDeparted EventType = "departed"
)

// MainDetector is the Source of events raised by a station's main detector rail.
const MainDetector = -1

// StationEvent is a debounced presence change at a station.
// Source is MainDetector or the switch index of the bay whose detector toggled.
type StationEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Source    int       `json:"source"`
}

// IsMain reports whether the event came from the main detector.
func (e StationEvent) IsMain() bool {
	return e.Source == MainDetector
}
