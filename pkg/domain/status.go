package domain

// NodeStatus is the observable state of a node, as shown on its display.
type NodeStatus struct {
	Identity      StationIdentity `json:"identity"`
	HubID         string          `json:"hub_id,omitempty"`
	HasTrain      bool            `json:"has_train"`
	PlayersNearby bool            `json:"players_nearby"`
	Intent        DepartureIntent `json:"intent"`
	LastError     string          `json:"last_error,omitempty"`
	Lock          *SwitchLock     `json:"lock,omitempty"`
	Stations      []StationRecord `json:"stations"`
	Bays          []BayState      `json:"bays"`
	Switches      []SwitchDevice  `json:"switches"`
}
