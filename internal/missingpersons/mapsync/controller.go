// Package mapsync keeps the selected person, the map camera and the open
// marker popup in step.
//
// A selection flies the camera to the person's cluster and then opens the
// cluster's popup once the marker exists. Markers render asynchronously, so
// the open is retried on a fixed interval for a bounded number of attempts,
// or short-circuited by MarkerReady when the map reports the marker.
package mapsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/platform/logger"
	"relief_portal_backend/platform/metrics"
)

// State is the controller's position in the selection lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateCentering State = "centering"
	StatePopupOpen State = "popup_open"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultMaxAttempts  = 20
)

// ErrPopupTimeout is reported when a marker never became ready.
var ErrPopupTimeout = errors.New("mapsync: marker not ready after max attempts")

// Marker is a rendered cluster marker.
type Marker interface {
	OpenPopup()
}

// MapView is the map the controller drives. Implementations must not call
// back into the Controller from these methods.
type MapView interface {
	FlyTo(pos domain.Coordinate)
	Marker(key string) (Marker, bool)
}

// Options bounds the popup readiness wait.
type Options struct {
	PollInterval time.Duration
	// MaxAttempts counts the immediate attempt.
	MaxAttempts int
	// OnTimeout, when set, is called after a selection gave up waiting.
	OnTimeout func(personID int64, clusterKey string)
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	State            State  `json:"state"`
	SelectedPersonID *int64 `json:"selectedPersonId"`
	ClusterKey       string `json:"clusterKey,omitempty"`
	OnMap            bool   `json:"onMap"`
	FlyTos           int    `json:"flyTos"`
}

// Controller is safe for concurrent use.
type Controller struct {
	mu   sync.Mutex
	view MapView
	opts Options
	log  *logger.Logger

	clusters   []domain.LocationCluster
	state      State
	selected   *int64
	clusterKey string
	flyTos     int

	generation uint64
	cancel     context.CancelFunc
	closed     bool
	wg         sync.WaitGroup
}

// New creates an idle controller.
func New(view MapView, opts Options, log *logger.Logger) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Controller{view: view, opts: opts, log: log, state: StateIdle}
}

// SetClusters replaces the clusters on the map. Any selection is dropped
// because the selected person may no longer be visible.
func (c *Controller) SetClusters(clusters []domain.LocationCluster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.stopLocked()
	c.clusters = clusters
	c.resetLocked()
}

// Select makes personID the selection and reports whether the person has a
// marker on the map. A person without one stays selected with the
// controller idle.
func (c *Controller) Select(personID int64) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	if c.selected != nil && *c.selected == personID && c.clusterKey != "" {
		switch c.state {
		case StateCentering:
			c.mu.Unlock()
			return true
		case StatePopupOpen:
			if c.reopenLocked() {
				c.mu.Unlock()
				return true
			}
		}
	}

	c.stopLocked()
	id := personID
	c.selected = &id

	cluster, ok := domain.FindCluster(c.clusters, personID)
	if !ok {
		c.clusterKey = ""
		c.state = StateIdle
		c.mu.Unlock()
		c.log.Debug("selected person has no marker", "person_id", personID)
		return false
	}

	c.clusterKey = cluster.Key
	c.state = StateCentering
	c.flyTos++
	c.view.FlyTo(cluster.Position)

	if c.tryOpenLocked() {
		c.mu.Unlock()
		return true
	}
	gen := c.generation
	if c.opts.MaxAttempts == 1 {
		c.mu.Unlock()
		c.timeout(gen, personID, cluster.Key)
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.poll(ctx, gen, personID, cluster.Key)
	return true
}

// MarkerReady is the map's notification that the marker for key rendered.
func (c *Controller) MarkerReady(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateCentering || c.clusterKey != key {
		return
	}
	if c.tryOpenLocked() {
		c.stopLocked()
	}
}

// Clear drops the selection.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()
	c.resetLocked()
}

// Close stops any pending wait. Later calls are no-ops.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()

	c.wg.Wait()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state,
		ClusterKey: c.clusterKey,
		OnMap:      c.clusterKey != "",
		FlyTos:     c.flyTos,
	}
	if c.selected != nil {
		id := *c.selected
		snap.SelectedPersonID = &id
	}
	return snap
}

func (c *Controller) poll(ctx context.Context, gen uint64, personID int64, key string) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 2; attempt <= c.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if !c.currentLocked(gen) {
			c.mu.Unlock()
			return
		}
		if c.tryOpenLocked() {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}

	c.timeout(gen, personID, key)
}

func (c *Controller) timeout(gen uint64, personID int64, key string) {
	c.mu.Lock()
	if !c.currentLocked(gen) {
		c.mu.Unlock()
		return
	}
	// The list selection stays; only the map gives up.
	c.state = StateIdle
	c.mu.Unlock()

	metrics.PopupTimeoutsTotal.Inc()
	c.log.Warn("popup open abandoned",
		"person_id", personID,
		"cluster_key", key,
		"attempts", c.opts.MaxAttempts,
		"error", ErrPopupTimeout,
	)
	if c.opts.OnTimeout != nil {
		c.opts.OnTimeout(personID, key)
	}
}

func (c *Controller) currentLocked(gen uint64) bool {
	return !c.closed && c.generation == gen && c.state == StateCentering
}

func (c *Controller) tryOpenLocked() bool {
	marker, ok := c.view.Marker(c.clusterKey)
	if !ok {
		return false
	}
	marker.OpenPopup()
	c.state = StatePopupOpen
	return true
}

// reopenLocked re-centres on the open cluster without starting a new wait.
func (c *Controller) reopenLocked() bool {
	cluster, ok := domain.FindCluster(c.clusters, *c.selected)
	if !ok || cluster.Key != c.clusterKey {
		return false
	}
	marker, ok := c.view.Marker(cluster.Key)
	if !ok {
		return false
	}
	c.flyTos++
	c.view.FlyTo(cluster.Position)
	marker.OpenPopup()
	return true
}

// stopLocked invalidates any in-flight wait.
func (c *Controller) stopLocked() {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) resetLocked() {
	c.selected = nil
	c.clusterKey = ""
	c.state = StateIdle
}
