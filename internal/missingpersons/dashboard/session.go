package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"relief_portal_backend/internal/events"
	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/internal/missingpersons/mapsync"
	"relief_portal_backend/platform/apperr"
	"relief_portal_backend/platform/logger"
	"relief_portal_backend/platform/metrics"

	"github.com/google/uuid"
)

var errSessionClosed = apperr.Gone("dashboard session closed")

// View is a consistent snapshot of a session.
type View struct {
	SessionID        uuid.UUID                         `json:"sessionId"`
	Generation       uint64                            `json:"generation"`
	Filter           domain.FilterState                `json:"filter"`
	FilterSource     domain.FilterSource               `json:"filterSource"`
	Search           string                            `json:"search"`
	Clusters         []domain.LocationCluster          `json:"clusters"`
	Bounds           *domain.Bounds                    `json:"bounds,omitempty"`
	Persons          domain.Page[domain.PersonSummary] `json:"persons"`
	Map              mapsync.Snapshot                  `json:"map"`
	Camera           *domain.Coordinate                `json:"camera,omitempty"`
	OpenPopup        string                            `json:"openPopup,omitempty"`
	DroppedPersonIDs []int64                           `json:"droppedPersonIds"`
	FailedLocations  map[string]string                 `json:"failedLocations,omitempty"`
	FetchFailed      bool                              `json:"fetchFailed"`
}

// Session is one open dashboard. All methods are safe for concurrent use.
type Session struct {
	id         uuid.UUID
	svc        *Service
	viewer     domain.Viewer
	mapView    *virtualMap
	controller *mapsync.Controller
	log        *logger.Logger

	mu           sync.Mutex
	records      []domain.MissingPersonRecord
	fetchFailed  bool
	filter       domain.FilterState
	filterSource domain.FilterSource
	search       string
	visible      []domain.MissingPersonRecord
	clusters     []domain.LocationCluster
	bounds       *domain.Bounds
	dropped      []int64
	failed       map[string]string
	page         int
	generation   uint64
	closed       bool
	lastSeen     time.Time
}

func newSession(svc *Service, viewer domain.Viewer) *Session {
	id := uuid.New()
	log := svc.log.WithSession(id.String())
	vm := newVirtualMap(id, svc.bus, log)

	s := &Session{
		id:       id,
		svc:      svc,
		viewer:   viewer,
		mapView:  vm,
		log:      log,
		page:     1,
		lastSeen: svc.now(),
	}

	opts := svc.opts.MapSync
	opts.OnTimeout = s.popupTimedOut
	s.controller = mapsync.New(vm, opts, log)
	return s
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// View returns the current snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// SelectState applies an explicit state choice and rebuilds the map.
// Blank or "all" widens to every state.
func (s *Session) SelectState(ctx context.Context, state string) (View, error) {
	s.mu.Lock()
	if err := s.activeLocked(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	s.filter = s.filter.SelectState(state)
	s.mu.Unlock()

	return s.rebuildView(ctx)
}

// SelectDistrict applies an explicit district choice within the current
// state. "all" keeps the state and drops the district constraint.
func (s *Session) SelectDistrict(ctx context.Context, district string) (View, error) {
	s.mu.Lock()
	if err := s.activeLocked(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	next, err := s.filter.SelectDistrict(district, s.svc.regions)
	if err != nil {
		s.mu.Unlock()
		return View{}, filterError(err, district)
	}
	s.filter = next
	s.mu.Unlock()

	return s.rebuildView(ctx)
}

// Search narrows the person list. The map is unaffected.
func (s *Session) Search(query string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.activeLocked(); err != nil {
		return View{}, err
	}
	if query != s.search {
		s.search = query
		s.page = 1
	}
	return s.viewLocked(), nil
}

// Page moves the person list to page n, clamped to the valid range.
func (s *Session) Page(n int) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.activeLocked(); err != nil {
		return View{}, err
	}
	s.page = n
	return s.viewLocked(), nil
}

// Select selects a person from the list or a search result and drives the
// map to its cluster.
func (s *Session) Select(personID int64) (View, error) {
	if err := s.touch(); err != nil {
		return View{}, err
	}
	s.controller.Select(personID)
	return s.View(), nil
}

// ClearSelection drops the selection.
func (s *Session) ClearSelection() (View, error) {
	if err := s.touch(); err != nil {
		return View{}, err
	}
	s.controller.Clear()
	return s.View(), nil
}

// MarkerReady records that the client rendered the marker for key.
func (s *Session) MarkerReady(key string) (View, error) {
	if err := s.touch(); err != nil {
		return View{}, err
	}
	s.mapView.markReady(key)
	s.controller.MarkerReady(key)
	return s.View(), nil
}

// ViewDetails requests navigation to a visible person's detail route.
func (s *Session) ViewDetails(ctx context.Context, personID int64) (string, error) {
	s.mu.Lock()
	if err := s.activeLocked(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if _, ok := domain.FindCluster(s.clusters, personID); !ok {
		s.mu.Unlock()
		return "", apperr.NotFound("person is not on the map")
	}
	s.mu.Unlock()

	route := DetailRoute(personID)
	s.svc.bus.Publish(ctx, events.NavigationRequested{
		BaseEvent:    events.NewBaseEvent(),
		SessionScope: events.SessionScope{SessionID: s.id},
		PersonID:     personID,
		Route:        route,
	})
	return route, nil
}

// Refresh refetches the records, keeping the current filter.
func (s *Session) Refresh(ctx context.Context) (View, error) {
	if err := s.touch(); err != nil {
		return View{}, err
	}

	records, failed := s.svc.fetchRecords(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, errSessionClosed
	}
	s.records = records
	s.fetchFailed = failed
	s.mu.Unlock()

	return s.rebuildView(ctx)
}

// DetailRoute is the client route of a person's detail page.
func DetailRoute(personID int64) string {
	return fmt.Sprintf("/missing-persons/%d", personID)
}

func (s *Session) rebuildView(ctx context.Context) (View, error) {
	if err := s.rebuild(ctx); err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// rebuild resolves and clusters the visible records. A rebuild overtaken by
// a newer one, or finishing after Close, is discarded.
func (s *Session) rebuild(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.generation++
	gen := s.generation
	filter := s.filter
	visible := domain.FilterVisible(s.records, filter)
	s.mu.Unlock()

	// Lookups carry their own timeouts; a client hanging up must not blank
	// the map for its next request.
	batch := s.svc.resolver.ResolveAll(context.WithoutCancel(ctx), domain.DistinctLocations(visible))
	result := domain.BuildClusters(visible, batch.Resolved)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.generation != gen {
		s.mu.Unlock()
		s.log.Debug("discarding superseded rebuild", "generation", gen)
		return nil
	}

	s.visible = visible
	s.clusters = result.Clusters
	s.dropped = result.Dropped
	s.failed = failureMessages(batch.Failed)
	s.bounds = nil
	if b, ok := domain.ClusterBounds(result.Clusters); ok {
		s.bounds = &b
	}
	s.page = 1
	s.mapView.retain(result.Clusters)
	s.controller.SetClusters(result.Clusters)
	s.lastSeen = s.svc.now()
	s.mu.Unlock()

	if n := len(result.Dropped); n > 0 {
		metrics.ClusterDroppedRecordsTotal.Add(float64(n))
		s.log.Warn("records left off the map", "count", n, "failed_locations", len(batch.Failed))
	}

	s.svc.bus.Publish(ctx, events.ClustersUpdated{
		BaseEvent:       events.NewBaseEvent(),
		SessionScope:    events.SessionScope{SessionID: s.id},
		Generation:      gen,
		Filter:          filter,
		ClusterCount:    len(result.Clusters),
		VisibleCount:    len(visible),
		DroppedCount:    len(result.Dropped),
		FailedLocations: sortedKeys(batch.Failed),
	})
	return nil
}

func (s *Session) viewLocked() View {
	s.lastSeen = s.svc.now()

	listed := make([]domain.PersonSummary, 0, len(s.visible))
	for _, r := range s.visible {
		if domain.MatchesSearch(r, s.search) {
			listed = append(listed, r.Summary())
		}
	}
	page := domain.Paginate(listed, s.svc.opts.PageSize, s.page)
	s.page = page.CurrentPage

	camera, openPopup := s.mapView.state()

	v := View{
		SessionID:        s.id,
		Generation:       s.generation,
		Filter:           s.filter,
		FilterSource:     s.filterSource,
		Search:           s.search,
		Clusters:         s.clusters,
		Bounds:           s.bounds,
		Persons:          page,
		Map:              s.controller.Snapshot(),
		Camera:           camera,
		OpenPopup:        openPopup,
		DroppedPersonIDs: s.dropped,
		FailedLocations:  s.failed,
		FetchFailed:      s.fetchFailed,
	}
	if v.Clusters == nil {
		v.Clusters = []domain.LocationCluster{}
	}
	if v.DroppedPersonIDs == nil {
		v.DroppedPersonIDs = []int64{}
	}
	return v
}

func (s *Session) touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Session) activeLocked() error {
	if s.closed {
		return errSessionClosed
	}
	s.lastSeen = s.svc.now()
	return nil
}

func (s *Session) lastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.controller.Close()
	s.mapView.close()

	s.log.Info("dashboard session closed", "reason", reason)
	s.svc.bus.Publish(context.Background(), events.DashboardSessionClosed{
		BaseEvent:    events.NewBaseEvent(),
		SessionScope: events.SessionScope{SessionID: s.id},
		Reason:       reason,
	})
}

func (s *Session) popupTimedOut(personID int64, clusterKey string) {
	s.svc.bus.Publish(context.Background(), events.PopupTimedOut{
		BaseEvent:    events.NewBaseEvent(),
		SessionScope: events.SessionScope{SessionID: s.id},
		PersonID:     personID,
		ClusterKey:   clusterKey,
	})
}

func filterError(err error, district string) error {
	switch {
	case errors.Is(err, domain.ErrNoStateSelected):
		return apperr.Validation("select a state before a district").WithDetails(map[string]string{"district": "state required"})
	case errors.Is(err, domain.ErrUnknownDistrict):
		return apperr.Validation("unknown district").WithDetails(map[string]string{"district": district})
	default:
		return apperr.Wrap(apperr.KindInternal, "filter update failed", err)
	}
}

func failureMessages(failed map[string]error) map[string]string {
	if len(failed) == 0 {
		return nil
	}
	out := make(map[string]string, len(failed))
	for q, err := range failed {
		out[q] = err.Error()
	}
	return out
}

func sortedKeys(m map[string]error) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
