package domain

import "time"

// Phase is the step of a station's departure sequence.
type Phase string

const (
	PhaseIdle          Phase = "IDLE"
	PhaseAwaitingTrain Phase = "AWAITING_TRAIN"
	PhaseCountdown     Phase = "COUNTDOWN"
	PhaseDispatching   Phase = "DISPATCHING"
	PhaseAutoPark      Phase = "AUTO_PARK"
	PhaseAutoReturn    Phase = "AUTO_RETURN"
)

// Origin records who created a departure intent.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// DepartureIntent is the single pending departure of a station.
type DepartureIntent struct {
	DestinationID    string        `json:"destination_id"`
	DestinationLabel string        `json:"destination_label,omitempty"`
	Phase            Phase         `json:"phase"`
	Remaining        time.Duration `json:"remaining,omitempty"`
	Countdown        time.Duration `json:"-"`
	Origin           Origin        `json:"origin"`
}

// Active reports whether the intent is still in flight.
func (d DepartureIntent) Active() bool {
	return d.DestinationID != "" && d.Phase != PhaseIdle && d.Phase != ""
}
