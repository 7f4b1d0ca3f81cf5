// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// SessionEvent is implemented by every event scoped to one dashboard session.
type SessionEvent interface {
	Event
	DashboardSessionID() uuid.UUID
}

// SessionScope carries the owning dashboard session.
type SessionScope struct {
	SessionID uuid.UUID `json:"sessionId"`
}

// DashboardSessionID returns the owning session.
func (s SessionScope) DashboardSessionID() uuid.UUID { return s.SessionID }

// =============================================================================
// Dashboard Session Events
// =============================================================================

// DashboardSessionOpened is published once a session has its first cluster set.
type DashboardSessionOpened struct {
	BaseEvent
	SessionScope
	FilterSource string             `json:"filterSource"`
	Filter       domain.FilterState `json:"filter"`
}

func (e DashboardSessionOpened) EventName() string { return "dashboard.session.opened" }

// DashboardSessionClosed is published when a session is closed or expires.
type DashboardSessionClosed struct {
	BaseEvent
	SessionScope
	Reason string `json:"reason"`
}

func (e DashboardSessionClosed) EventName() string { return "dashboard.session.closed" }

// ClustersUpdated is published after every completed rebuild.
type ClustersUpdated struct {
	BaseEvent
	SessionScope
	Generation      uint64             `json:"generation"`
	Filter          domain.FilterState `json:"filter"`
	ClusterCount    int                `json:"clusterCount"`
	VisibleCount    int                `json:"visibleCount"`
	DroppedCount    int                `json:"droppedCount"`
	FailedLocations []string           `json:"failedLocations,omitempty"`
}

func (e ClustersUpdated) EventName() string { return "dashboard.clusters.updated" }

// =============================================================================
// Map Events
// =============================================================================

// CameraFlyTo is published when the map camera should move.
type CameraFlyTo struct {
	BaseEvent
	SessionScope
	Position domain.Coordinate `json:"position"`
}

func (e CameraFlyTo) EventName() string { return "map.camera.fly_to" }

// PopupOpened is published when a cluster popup is opened.
type PopupOpened struct {
	BaseEvent
	SessionScope
	ClusterKey string `json:"clusterKey"`
}

func (e PopupOpened) EventName() string { return "map.popup.opened" }

// PopupTimedOut is published when a popup open was abandoned because the
// marker never rendered.
type PopupTimedOut struct {
	BaseEvent
	SessionScope
	PersonID   int64  `json:"personId"`
	ClusterKey string `json:"clusterKey"`
}

func (e PopupTimedOut) EventName() string { return "map.popup.timed_out" }

// NavigationRequested is published when "view details" is activated on a
// popup member.
type NavigationRequested struct {
	BaseEvent
	SessionScope
	PersonID int64  `json:"personId"`
	Route    string `json:"route"`
}

func (e NavigationRequested) EventName() string { return "map.navigation.requested" }
