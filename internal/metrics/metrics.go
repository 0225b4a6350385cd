// Package metrics exposes the Prometheus instruments of a railhub node.
//
// Every method is safe on a nil *Collector, so components can record
// unconditionally and tests can leave the collector out.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/aretw0/railhub/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the node's metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	LockState       prometheus.Gauge
	LockReleases    *prometheus.CounterVec
	StationsOnline  prometheus.Gauge
	Dispatches      *prometheus.CounterVec
	Heartbeats      *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec
	Toggles         *prometheus.CounterVec
}

// New registers the node metrics against reg, defaulting to the global registry when nil.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	lockState, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "railhub_lock_state",
		Help: "Switch lock phase: 0 unlocked, 1 pending, 2 locked.",
	}), "railhub_lock_state")
	if err != nil {
		return nil, err
	}
	releases, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railhub_lock_releases_total",
		Help: "Switch lock releases, labeled by reason.",
	}, []string{"reason"}), "railhub_lock_releases_total")
	if err != nil {
		return nil, err
	}
	online, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "railhub_stations_online",
		Help: "Registered stations currently considered online.",
	}), "railhub_stations_online")
	if err != nil {
		return nil, err
	}
	dispatches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railhub_dispatches_total",
		Help: "Dispatch attempts, labeled by rail and outcome.",
	}, []string{"rail", "outcome"}), "railhub_dispatches_total")
	if err != nil {
		return nil, err
	}
	heartbeats, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railhub_heartbeats_total",
		Help: "Heartbeats sent or received, labeled by direction.",
	}, []string{"direction"}), "railhub_heartbeats_total")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railhub_messages_dropped_total",
		Help: "Inbound messages discarded, labeled by reason.",
	}, []string{"reason"}), "railhub_messages_dropped_total")
	if err != nil {
		return nil, err
	}
	toggles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "railhub_detector_toggles_total",
		Help: "Debounced detector toggles, labeled by detector.",
	}, []string{"detector"}), "railhub_detector_toggles_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		LockState:       lockState,
		LockReleases:    releases,
		StationsOnline:  online,
		Dispatches:      dispatches,
		Heartbeats:      heartbeats,
		MessagesDropped: dropped,
		Toggles:         toggles,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// SetLockState records the current lock phase.
func (c *Collector) SetLockState(state domain.LockState) {
	if c == nil {
		return
	}
	switch state {
	case domain.LockPending:
		c.LockState.Set(1)
	case domain.LockLocked:
		c.LockState.Set(2)
	default:
		c.LockState.Set(0)
	}
}

// LockReleased counts one release.
func (c *Collector) LockReleased(reason domain.ReleaseReason) {
	if c == nil {
		return
	}
	c.LockReleases.WithLabelValues(string(reason)).Inc()
}

// SetStationsOnline records the online station count.
func (c *Collector) SetStationsOnline(n int) {
	if c == nil {
		return
	}
	c.StationsOnline.Set(float64(n))
}

// Dispatched counts one dispatch attempt. rail is "main" or "bay".
func (c *Collector) Dispatched(rail, outcome string) {
	if c == nil {
		return
	}
	c.Dispatches.WithLabelValues(rail, outcome).Inc()
}

// Heartbeat counts a heartbeat. direction is "sent" or "received".
func (c *Collector) Heartbeat(direction string) {
	if c == nil {
		return
	}
	c.Heartbeats.WithLabelValues(direction).Inc()
}

// Dropped counts a discarded inbound message.
func (c *Collector) Dropped(reason string) {
	if c == nil {
		return
	}
	c.MessagesDropped.WithLabelValues(reason).Inc()
}

// Toggled counts a debounced detector toggle.
func (c *Collector) Toggled(detector string) {
	if c == nil {
		return
	}
	c.Toggles.WithLabelValues(detector).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
