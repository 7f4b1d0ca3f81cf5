package dashboard

import (
	"context"
	"sync"

	"relief_portal_backend/internal/events"
	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/internal/missingpersons/mapsync"
	"relief_portal_backend/platform/logger"

	"github.com/google/uuid"
)

// virtualMap is the server-side stand-in for the browser map. It remembers
// the camera and which markers the client reported as rendered, and turns
// controller calls into events for the client.
type virtualMap struct {
	sessionID uuid.UUID
	bus       events.Bus
	log       *logger.Logger

	mu        sync.Mutex
	camera    *domain.Coordinate
	ready     map[string]struct{}
	openPopup string
	closed    bool
}

func newVirtualMap(sessionID uuid.UUID, bus events.Bus, log *logger.Logger) *virtualMap {
	return &virtualMap{
		sessionID: sessionID,
		bus:       bus,
		log:       log,
		ready:     make(map[string]struct{}),
	}
}

// FlyTo implements mapsync.MapView.
func (m *virtualMap) FlyTo(pos domain.Coordinate) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.camera = &pos
	m.openPopup = ""
	m.mu.Unlock()

	m.publish(events.CameraFlyTo{
		BaseEvent:    events.NewBaseEvent(),
		SessionScope: events.SessionScope{SessionID: m.sessionID},
		Position:     pos,
	})
}

// Marker implements mapsync.MapView.
func (m *virtualMap) Marker(key string) (mapsync.Marker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false
	}
	if _, ok := m.ready[key]; !ok {
		return nil, false
	}
	return marker{m: m, key: key}, true
}

func (m *virtualMap) markReady(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready[key] = struct{}{}
}

// retain forgets readiness of markers that are no longer on the map.
func (m *virtualMap) retain(clusters []domain.LocationCluster) {
	keep := make(map[string]struct{}, len(clusters))
	for _, c := range clusters {
		keep[c.Key] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.ready {
		if _, ok := keep[key]; !ok {
			delete(m.ready, key)
		}
	}
	if _, ok := keep[m.openPopup]; !ok {
		m.openPopup = ""
	}
}

func (m *virtualMap) state() (camera *domain.Coordinate, openPopup string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.camera != nil {
		c := *m.camera
		camera = &c
	}
	return camera, m.openPopup
}

func (m *virtualMap) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *virtualMap) open(key string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.openPopup = key
	m.mu.Unlock()

	m.publish(events.PopupOpened{
		BaseEvent:    events.NewBaseEvent(),
		SessionScope: events.SessionScope{SessionID: m.sessionID},
		ClusterKey:   key,
	})
}

// publish delivers synchronously so clients see camera and popup events in
// the order the controller issued them.
func (m *virtualMap) publish(event events.Event) {
	if err := m.bus.PublishSync(context.Background(), event); err != nil {
		m.log.Warn("map event delivery failed", "event", event.EventName(), "error", err)
	}
}

type marker struct {
	m   *virtualMap
	key string
}

func (mk marker) OpenPopup() { mk.m.open(mk.key) }
