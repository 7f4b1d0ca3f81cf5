// Package notification forwards dashboard domain events to the browser.
// This module subscribes to events and inverts the dependency: the
// dashboard never needs to know how clients are connected.
package notification

import (
	"context"
	"fmt"

	"relief_portal_backend/internal/events"
	"relief_portal_backend/internal/notification/sse"
	"relief_portal_backend/platform/logger"

	"github.com/google/uuid"
)

// SessionPublisher delivers events to the streams of one session.
type SessionPublisher interface {
	Publish(sessionID uuid.UUID, event sse.Event)
	CloseSession(sessionID uuid.UUID)
}

// Module handles all notification-related event subscriptions.
type Module struct {
	sse SessionPublisher
	log *logger.Logger
}

// New creates the notification module.
func New(publisher SessionPublisher, log *logger.Logger) *Module {
	return &Module{sse: publisher, log: log}
}

// RegisterHandlers subscribes the module to the events it forwards.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.ClustersUpdated{}.EventName(), m)
	bus.Subscribe(events.CameraFlyTo{}.EventName(), m)
	bus.Subscribe(events.PopupOpened{}.EventName(), m)
	bus.Subscribe(events.PopupTimedOut{}.EventName(), m)
	bus.Subscribe(events.NavigationRequested{}.EventName(), m)
	bus.Subscribe(events.DashboardSessionClosed{}.EventName(), m)
}

// Handle implements events.Handler.
func (m *Module) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.ClustersUpdated:
		m.publish(e, sse.EventClustersUpdated, "", map[string]interface{}{
			"generation":   e.Generation,
			"filter":       e.Filter,
			"clusterCount": e.ClusterCount,
			"visibleCount": e.VisibleCount,
			"droppedCount": e.DroppedCount,
		})
	case events.CameraFlyTo:
		m.publish(e, sse.EventCameraFlyTo, "", e.Position)
	case events.PopupOpened:
		m.publish(e, sse.EventPopupOpened, "", map[string]string{"clusterKey": e.ClusterKey})
	case events.PopupTimedOut:
		m.publish(e, sse.EventPopupTimeout, "marker did not render in time", map[string]interface{}{
			"personId":   e.PersonID,
			"clusterKey": e.ClusterKey,
		})
	case events.NavigationRequested:
		m.publish(e, sse.EventNavigate, "", map[string]interface{}{
			"personId": e.PersonID,
			"route":    e.Route,
		})
	case events.DashboardSessionClosed:
		m.publish(e, sse.EventSessionClosed, e.Reason, nil)
		m.sse.CloseSession(e.SessionID)
	default:
		return fmt.Errorf("notification: unexpected event %s", event.EventName())
	}
	return nil
}

func (m *Module) publish(e events.SessionEvent, eventType sse.EventType, message string, data interface{}) {
	m.sse.Publish(e.DashboardSessionID(), sse.Event{
		Type:    eventType,
		Message: message,
		Data:    data,
	})
}
