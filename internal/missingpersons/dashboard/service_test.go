package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relief_portal_backend/internal/events"
	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/internal/missingpersons/geocode"
	"relief_portal_backend/internal/missingpersons/mapsync"
	"relief_portal_backend/internal/portalapi"
	"relief_portal_backend/internal/regions"
	"relief_portal_backend/platform/apperr"
	"relief_portal_backend/platform/logger"
)

var (
	panaji = domain.Coordinate{Lat: 15.49, Lon: 73.82}
	margao = domain.Coordinate{Lat: 15.27, Lon: 73.96}
	kochi  = domain.Coordinate{Lat: 9.93, Lon: 76.26}
)

func testRecords() []domain.MissingPersonRecord {
	return []domain.MissingPersonRecord{
		{ID: 1, FullName: "Asha Naik", LastSeenLocation: "Panaji, Goa", State: "Goa", District: "North Goa"},
		{ID: 2, FullName: "Ravi Gaonkar", LastSeenLocation: "Panaji, Goa", State: "Goa", District: "North Goa"},
		{ID: 3, FullName: "Meera Dessai", LastSeenLocation: "Margao, Goa", State: "Goa", District: "South Goa"},
		{ID: 4, FullName: "Found Person", LastSeenLocation: "Panaji, Goa", State: "Goa", District: "North Goa", IsFound: true},
		{ID: 5, FullName: "Joseph Kurian", LastSeenLocation: "Kochi, Kerala", State: "Kerala", District: "Ernakulam"},
		{ID: 6, FullName: "Lost Trail", LastSeenLocation: "Atlantis", State: "Goa", District: "North Goa"},
	}
}

type fakeSource struct {
	mu         sync.Mutex
	records    []domain.MissingPersonRecord
	listErr    error
	agency     domain.AgencyProfile
	agencyErr  error
	detailErr  error
	agencyHits int
}

func (f *fakeSource) ListMissingPersons(context.Context) ([]domain.MissingPersonRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeSource) GetMissingPerson(_ context.Context, id int64) (domain.MissingPersonRecord, error) {
	if f.detailErr != nil {
		return domain.MissingPersonRecord{}, f.detailErr
	}
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.MissingPersonRecord{}, portalapi.ErrNotFound
}

func (f *fakeSource) GetAgencyProfile(context.Context, int64) (domain.AgencyProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agencyHits++
	if f.agencyErr != nil {
		return domain.AgencyProfile{}, f.agencyErr
	}
	return f.agency, nil
}

type fakeResolver struct {
	mu        sync.Mutex
	known     map[string]domain.Coordinate
	calls     int
	onResolve func(call int)
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{known: map[string]domain.Coordinate{
		"Panaji, Goa":   panaji,
		"Margao, Goa":   margao,
		"Kochi, Kerala": kochi,
	}}
}

func (f *fakeResolver) ResolveAll(_ context.Context, queries []string) geocode.Batch {
	f.mu.Lock()
	f.calls++
	call := f.calls
	hook := f.onResolve
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	batch := geocode.Batch{Resolved: map[string]domain.Coordinate{}, Failed: map[string]error{}}
	for _, q := range queries {
		if c, ok := f.known[q]; ok {
			batch.Resolved[q] = c
		} else {
			batch.Failed[q] = geocode.ErrNoMatch
		}
	}
	batch.Lookups = len(queries)
	return batch
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.EventName())
	}
	return out
}

type harness struct {
	svc      *Service
	source   *fakeSource
	resolver *fakeResolver
	bus      *events.InMemoryBus
	log      *eventLog
}

func newHarness(t *testing.T, mapOpts ...mapsync.Options) *harness {
	t.Helper()
	// Popup waits never time out unless a test asks for it.
	opts := mapsync.Options{PollInterval: time.Hour, MaxAttempts: 3}
	if len(mapOpts) > 0 {
		opts = mapOpts[0]
	}
	ref, err := regions.Default()
	if err != nil {
		t.Fatalf("load regions: %v", err)
	}

	h := &harness{
		source:   &fakeSource{records: testRecords(), agency: domain.AgencyProfile{ID: 7, State: "Goa", District: "North Goa"}},
		resolver: newFakeResolver(),
		bus:      events.NewInMemoryBus(logger.Nop()),
		log:      &eventLog{},
	}
	for _, name := range []string{
		events.DashboardSessionOpened{}.EventName(),
		events.DashboardSessionClosed{}.EventName(),
		events.ClustersUpdated{}.EventName(),
		events.CameraFlyTo{}.EventName(),
		events.PopupOpened{}.EventName(),
		events.PopupTimedOut{}.EventName(),
		events.NavigationRequested{}.EventName(),
	} {
		h.bus.Subscribe(name, h.log)
	}

	h.svc = New(h.source, h.resolver, ref, h.bus, Options{
		PageSize: 4,
		IdleTTL:  time.Minute,
		MapSync:  opts,
	}, logger.Nop())
	t.Cleanup(func() {
		h.svc.Shutdown()
		h.bus.Wait()
	})
	return h
}

func waitForEvent(t *testing.T, l *eventLog, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, n := range l.names() {
			if n == name {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("event %s was never published", name)
}

func agencyViewer() domain.Viewer {
	id := int64(7)
	return domain.Viewer{ActingAgencyID: &id}
}

func clusterIDs(c domain.LocationCluster) []int64 {
	ids := make([]int64, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestOpenWithAgencyScopesToDistrict(t *testing.T) {
	h := newHarness(t)

	_, view, err := h.svc.Open(context.Background(), agencyViewer())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := domain.DistrictScope("Goa", "North Goa")
	if view.Filter != want {
		t.Fatalf("expected %+v, got %+v", want, view.Filter)
	}
	if view.FilterSource != domain.SourceAgency {
		t.Fatalf("expected agency source, got %s", view.FilterSource)
	}
	if len(view.Clusters) != 1 {
		t.Fatalf("expected one cluster, got %d", len(view.Clusters))
	}
	if ids := clusterIDs(view.Clusters[0]); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("expected panaji cluster {1,2}, got %v", ids)
	}
	if len(view.DroppedPersonIDs) != 1 || view.DroppedPersonIDs[0] != 6 {
		t.Fatalf("expected unresolvable record 6 dropped, got %v", view.DroppedPersonIDs)
	}
	if view.FailedLocations["Atlantis"] == "" {
		t.Fatalf("expected Atlantis to be reported as failed")
	}
}

func TestFilterCascadeTransitions(t *testing.T) {
	h := newHarness(t)
	sess, _, err := h.svc.Open(context.Background(), agencyViewer())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	view, err := sess.SelectDistrict(context.Background(), "all")
	if err != nil {
		t.Fatalf("select all districts: %v", err)
	}
	if view.Filter != domain.StateScope("Goa") {
		t.Fatalf("expected state scope Goa, got %+v", view.Filter)
	}
	if len(view.Clusters) != 2 {
		t.Fatalf("expected panaji and margao clusters, got %d", len(view.Clusters))
	}
	if ids := clusterIDs(view.Clusters[0]); len(ids) != 2 {
		t.Fatalf("expected first cluster {1,2}, got %v", ids)
	}
	if ids := clusterIDs(view.Clusters[1]); len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("expected second cluster {3}, got %v", ids)
	}

	view, err = sess.SelectState(context.Background(), "Kerala")
	if err != nil {
		t.Fatalf("select state: %v", err)
	}
	if view.Filter != domain.StateScope("Kerala") || view.Filter.District != "" {
		t.Fatalf("expected Kerala with district unset, got %+v", view.Filter)
	}
	if len(view.Clusters) != 1 || view.Clusters[0].Position != kochi {
		t.Fatalf("expected the kochi cluster, got %+v", view.Clusters)
	}

	if _, err := sess.SelectDistrict(context.Background(), "North Goa"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for a district outside Kerala, got %v", err)
	}

	view, err = sess.SelectState(context.Background(), "all")
	if err != nil {
		t.Fatalf("select all states: %v", err)
	}
	if view.Filter != domain.AllScope() {
		t.Fatalf("expected all scope, got %+v", view.Filter)
	}
	if _, err := sess.SelectDistrict(context.Background(), "Ernakulam"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error without a state, got %v", err)
	}
}

func TestAgencyCacheUsedWhenLiveFetchFails(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.svc.Open(context.Background(), agencyViewer()); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.source.mu.Lock()
	h.source.agencyErr = portalapi.ErrFetchFailed
	h.source.mu.Unlock()

	_, view, err := h.svc.Open(context.Background(), agencyViewer())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if view.FilterSource != domain.SourceAgencyCached {
		t.Fatalf("expected cached agency source, got %s", view.FilterSource)
	}
	if view.Filter != domain.DistrictScope("Goa", "North Goa") {
		t.Fatalf("unexpected filter %+v", view.Filter)
	}
}

func TestAgencyUnavailableFallsBackToProfile(t *testing.T) {
	h := newHarness(t)
	h.source.agencyErr = portalapi.ErrFetchFailed

	viewer := agencyViewer()
	viewer.ProfileState = "Kerala"
	_, view, err := h.svc.Open(context.Background(), viewer)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if view.FilterSource != domain.SourceProfile || view.Filter != domain.StateScope("Kerala") {
		t.Fatalf("expected profile fallback, got %s %+v", view.FilterSource, view.Filter)
	}
}

func TestFetchFailureShowsEmptySet(t *testing.T) {
	h := newHarness(t)
	h.source.listErr = portalapi.ErrFetchFailed

	_, view, err := h.svc.Open(context.Background(), domain.Viewer{})
	if err != nil {
		t.Fatalf("fetch failures must not escape: %v", err)
	}
	if !view.FetchFailed {
		t.Fatalf("expected FetchFailed to be reported")
	}
	if len(view.Clusters) != 0 || view.Persons.Total != 0 {
		t.Fatalf("expected empty result set, got %+v", view)
	}
	if view.Persons.CurrentPage != 1 || view.Persons.PageCount != 0 {
		t.Fatalf("unexpected empty page %+v", view.Persons)
	}
}

func TestPagingAndSearch(t *testing.T) {
	h := newHarness(t)
	var records []domain.MissingPersonRecord
	for i := int64(1); i <= 9; i++ {
		records = append(records, domain.MissingPersonRecord{ID: i, FullName: "Person", LastSeenLocation: "Panaji, Goa", State: "Goa"})
	}
	records[8].FullName = "Zubin"
	h.source.records = records

	sess, view, err := h.svc.Open(context.Background(), domain.Viewer{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if view.Persons.PageCount != 3 {
		t.Fatalf("expected 3 pages, got %d", view.Persons.PageCount)
	}

	view, _ = sess.Page(5)
	if view.Persons.CurrentPage != 3 || len(view.Persons.Items) != 1 {
		t.Fatalf("expected clamp to last page, got %+v", view.Persons)
	}

	view, _ = sess.Search("zubin")
	if view.Persons.CurrentPage != 1 || view.Persons.Total != 1 || view.Persons.Items[0].ID != 9 {
		t.Fatalf("expected search to reset to page 1 with one match, got %+v", view.Persons)
	}
	if len(view.Clusters) != 1 || len(view.Clusters[0].Members) != 9 {
		t.Fatalf("search must not change the map")
	}

	sess.Page(1)
	view, _ = sess.SelectState(context.Background(), "Goa")
	if view.Persons.CurrentPage != 1 {
		t.Fatalf("expected filter change to reset the page")
	}
}

func TestSelectionDrivesMap(t *testing.T) {
	h := newHarness(t)
	sess, _, err := h.svc.Open(context.Background(), domain.Viewer{ProfileState: "Goa"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	view, err := sess.MarkerReady(margao.Key())
	if err != nil {
		t.Fatalf("marker ready: %v", err)
	}
	view, _ = sess.Select(3)
	if view.Map.State != mapsync.StatePopupOpen {
		t.Fatalf("expected popup open, got %s", view.Map.State)
	}
	if view.Camera == nil || *view.Camera != margao {
		t.Fatalf("expected camera on margao, got %v", view.Camera)
	}
	if view.OpenPopup != margao.Key() {
		t.Fatalf("expected margao popup, got %q", view.OpenPopup)
	}

	view, _ = sess.Select(1)
	if view.Map.State != mapsync.StateCentering {
		t.Fatalf("expected centering until panaji renders, got %s", view.Map.State)
	}
	view, _ = sess.MarkerReady(panaji.Key())
	if view.Map.State != mapsync.StatePopupOpen || view.OpenPopup != panaji.Key() {
		t.Fatalf("expected panaji popup after ready callback, got %+v", view.Map)
	}

	view, _ = sess.SelectDistrict(context.Background(), "South Goa")
	if view.Map.SelectedPersonID != nil || view.Map.State != mapsync.StateIdle {
		t.Fatalf("expected selection reset after the input set changed, got %+v", view.Map)
	}

	h.bus.Wait()
	var mapEvents []string
	for _, name := range h.log.names() {
		if name == (events.CameraFlyTo{}).EventName() || name == (events.PopupOpened{}).EventName() {
			mapEvents = append(mapEvents, name)
		}
	}
	want := []string{"map.camera.fly_to", "map.popup.opened", "map.camera.fly_to", "map.popup.opened"}
	if len(mapEvents) != len(want) {
		t.Fatalf("expected %v, got %v", want, mapEvents)
	}
	for i := range want {
		if mapEvents[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, mapEvents)
		}
	}
}

func TestPopupTimeoutIsPublished(t *testing.T) {
	h := newHarness(t, mapsync.Options{PollInterval: time.Millisecond, MaxAttempts: 3})
	sess, _, err := h.svc.Open(context.Background(), domain.Viewer{ProfileState: "Goa"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	sess.Select(3)
	waitForEvent(t, h.log, events.PopupTimedOut{}.EventName())

	if state := sess.View().Map.State; state != mapsync.StateIdle {
		t.Fatalf("expected idle after the wait gave up, got %s", state)
	}
	if id := sess.View().Map.SelectedPersonID; id == nil || *id != 3 {
		t.Fatalf("list selection must survive the timeout")
	}
}

func TestViewDetailsRequestsNavigation(t *testing.T) {
	h := newHarness(t)
	sess, _, err := h.svc.Open(context.Background(), domain.Viewer{ProfileState: "Goa"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	route, err := sess.ViewDetails(context.Background(), 3)
	if err != nil {
		t.Fatalf("view details: %v", err)
	}
	if route != "/missing-persons/3" {
		t.Fatalf("unexpected route %q", route)
	}

	h.bus.Wait()
	var nav *events.NavigationRequested
	h.log.mu.Lock()
	for _, e := range h.log.events {
		if n, ok := e.(events.NavigationRequested); ok {
			nav = &n
		}
	}
	h.log.mu.Unlock()
	if nav == nil || nav.PersonID != 3 || nav.SessionID != sess.ID() {
		t.Fatalf("expected navigation event for person 3, got %+v", nav)
	}

	if _, err := sess.ViewDetails(context.Background(), 5); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for a person off the map, got %v", err)
	}
}

func TestSupersededRebuildIsDiscarded(t *testing.T) {
	h := newHarness(t)
	sess, _, err := h.svc.Open(context.Background(), domain.Viewer{ProfileState: "Goa"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	h.resolver.mu.Lock()
	h.resolver.onResolve = func(call int) {
		if call == 2 {
			if _, err := sess.SelectState(context.Background(), "Kerala"); err != nil {
				t.Errorf("nested select: %v", err)
			}
		}
	}
	h.resolver.mu.Unlock()

	view, err := sess.SelectDistrict(context.Background(), "South Goa")
	if err != nil {
		t.Fatalf("select district: %v", err)
	}
	if view.Filter != domain.StateScope("Kerala") {
		t.Fatalf("expected the newer filter to win, got %+v", view.Filter)
	}
	if len(view.Clusters) != 1 || view.Clusters[0].Position != kochi {
		t.Fatalf("stale clusters were applied: %+v", view.Clusters)
	}
}

func TestClosedSessionIsGone(t *testing.T) {
	h := newHarness(t)
	sess, _, err := h.svc.Open(context.Background(), domain.Viewer{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := h.svc.Close(sess.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.svc.Session(sess.ID()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found after close, got %v", err)
	}
	if _, err := sess.Select(1); !apperr.Is(err, apperr.KindGone) {
		t.Fatalf("expected gone, got %v", err)
	}
	if _, err := sess.Refresh(context.Background()); !apperr.Is(err, apperr.KindGone) {
		t.Fatalf("expected gone, got %v", err)
	}
	if err := h.svc.Close(sess.ID()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected second close to report not found, got %v", err)
	}
}

func TestCloseDuringRebuildDiscardsResult(t *testing.T) {
	h := newHarness(t)
	sess, opened, err := h.svc.Open(context.Background(), domain.Viewer{ProfileState: "Goa"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	h.bus.Wait()

	h.resolver.mu.Lock()
	h.resolver.onResolve = func(call int) {
		if call == 2 {
			if err := h.svc.Close(sess.ID()); err != nil {
				t.Errorf("close: %v", err)
			}
		}
	}
	h.resolver.mu.Unlock()

	if _, err := sess.SelectState(context.Background(), "Kerala"); !apperr.Is(err, apperr.KindGone) {
		t.Fatalf("expected gone, got %v", err)
	}
	h.bus.Wait()

	view := sess.View()
	if len(view.Clusters) != len(opened.Clusters) {
		t.Fatalf("expected clusters to stay as opened, got %+v", view.Clusters)
	}
	for i, c := range view.Clusters {
		if c.Position != opened.Clusters[i].Position {
			t.Fatalf("cluster %d moved to %+v after close", i, c.Position)
		}
	}

	h.log.mu.Lock()
	defer h.log.mu.Unlock()
	var updates int
	for _, e := range h.log.events {
		u, ok := e.(events.ClustersUpdated)
		if !ok {
			continue
		}
		updates++
		if u.Generation != opened.Generation {
			t.Fatalf("clusters published for generation %d after close", u.Generation)
		}
	}
	if updates != 1 {
		t.Fatalf("expected only the open to publish clusters, got %d updates", updates)
	}
}

func TestIdleSessionsExpire(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.svc.now = func() time.Time { return now }

	idle, _, _ := h.svc.Open(context.Background(), domain.Viewer{})
	now = now.Add(45 * time.Second)
	active, _, _ := h.svc.Open(context.Background(), domain.Viewer{})

	now = now.Add(30 * time.Second)
	if n := h.svc.expireIdle(); n != 1 {
		t.Fatalf("expected one expired session, got %d", n)
	}
	if h.svc.Exists(idle.ID()) {
		t.Fatalf("idle session survived")
	}
	if !h.svc.Exists(active.ID()) {
		t.Fatalf("active session expired early")
	}
}

func TestRefreshPicksUpNewRecords(t *testing.T) {
	h := newHarness(t)
	sess, view, err := h.svc.Open(context.Background(), domain.Viewer{ProfileState: "Kerala"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(view.Clusters) != 1 {
		t.Fatalf("expected one Kerala cluster")
	}

	h.source.mu.Lock()
	h.source.records = append(h.source.records, domain.MissingPersonRecord{
		ID: 10, FullName: "New Report", LastSeenLocation: "Kochi, Kerala", State: "Kerala", District: "Ernakulam",
	})
	h.source.mu.Unlock()

	view, err = sess.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ids := clusterIDs(view.Clusters[0]); len(ids) != 2 || ids[1] != 10 {
		t.Fatalf("expected new record in the kochi cluster, got %v", ids)
	}
	if view.Filter != domain.StateScope("Kerala") {
		t.Fatalf("refresh must keep the filter, got %+v", view.Filter)
	}
}

func TestDetailMapsErrors(t *testing.T) {
	h := newHarness(t)

	record, err := h.svc.Detail(context.Background(), 3)
	if err != nil || record.FullName != "Meera Dessai" {
		t.Fatalf("unexpected detail %+v %v", record, err)
	}
	if _, err := h.svc.Detail(context.Background(), 99); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	h.source.detailErr = errors.Join(portalapi.ErrFetchFailed, errors.New("503"))
	if _, err := h.svc.Detail(context.Background(), 3); !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
