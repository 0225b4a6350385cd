package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/aretw0/railhub/pkg/domain"
)

// Registry is the hub's soft-state table of stations.
// Records are created by REGISTER or by the first heartbeat of an unknown sender
// and live until the hub stops. Online is advisory.
type Registry struct {
	mu         sync.Mutex
	records    map[string]*domain.StationRecord
	staleAfter time.Duration
	now        func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(staleAfter time.Duration, now func() time.Time) *Registry {
	if staleAfter <= 0 {
		staleAfter = domain.DefaultStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		records:    make(map[string]*domain.StationRecord),
		staleAfter: staleAfter,
		now:        now,
	}
}

// Register upserts a station from its announcement. It reports whether the record is new.
func (r *Registry) Register(identity domain.StationIdentity, switches []domain.SwitchDevice) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[identity.ID]
	if !ok {
		rec = &domain.StationRecord{ID: identity.ID}
		r.records[identity.ID] = rec
	}
	rec.Label = identity.Label
	rec.Position = identity.Position
	rec.Switches = append([]domain.SwitchDevice(nil), switches...)
	rec.Online = true
	rec.LastSeen = r.now()
	return !ok
}

// Heartbeat refreshes a station, creating it if unseen. It reports whether the record is new.
func (r *Registry) Heartbeat(id string, hb domain.HeartbeatPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		rec = &domain.StationRecord{ID: id, Label: id}
		r.records[id] = rec
	}
	if hb.Label != "" {
		rec.Label = hb.Label
	}
	rec.HasTrain = hb.HasTrain
	rec.PlayersNearby = hb.PlayersNearby
	rec.Online = true
	rec.LastSeen = r.now()
	return !ok
}

// SetHasTrain updates the presence flag of a known station.
func (r *Registry) SetHasTrain(id string, hasTrain bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.HasTrain = hasTrain
	}
}

// Get returns a copy of one record.
func (r *Registry) Get(id string) (domain.StationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.StationRecord{}, false
	}
	return copyRecord(rec), true
}

// Snapshot returns copies of every record ordered by id.
func (r *Registry) Snapshot() []domain.StationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.StationRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sweep marks records not seen within the stale window as offline and returns their ids.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []string
	cutoff := r.now().Add(-r.staleAfter)
	for id, rec := range r.records {
		if rec.Online && rec.LastSeen.Before(cutoff) {
			rec.Online = false
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// Online counts records currently online.
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Online {
			n++
		}
	}
	return n
}

func copyRecord(rec *domain.StationRecord) domain.StationRecord {
	out := *rec
	out.Switches = append([]domain.SwitchDevice(nil), rec.Switches...)
	return out
}
