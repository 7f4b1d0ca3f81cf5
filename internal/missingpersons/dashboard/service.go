// Package dashboard hosts the state behind the missing-persons map: one
// Session per open dashboard, each owning its records, filter, clusters,
// list page and map selection.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"relief_portal_backend/internal/events"
	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/internal/missingpersons/geocode"
	"relief_portal_backend/internal/missingpersons/mapsync"
	"relief_portal_backend/internal/portalapi"
	"relief_portal_backend/platform/apperr"
	"relief_portal_backend/platform/config"
	"relief_portal_backend/platform/logger"
	"relief_portal_backend/platform/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RecordSource reads records from the portal API.
type RecordSource interface {
	ListMissingPersons(ctx context.Context) ([]domain.MissingPersonRecord, error)
	GetMissingPerson(ctx context.Context, id int64) (domain.MissingPersonRecord, error)
	GetAgencyProfile(ctx context.Context, id int64) (domain.AgencyProfile, error)
}

// LocationResolver resolves a batch of location strings.
type LocationResolver interface {
	ResolveAll(ctx context.Context, queries []string) geocode.Batch
}

// Options configures the service.
type Options struct {
	PageSize int
	IdleTTL  time.Duration
	MapSync  mapsync.Options
}

// OptionsFromConfig maps application config onto Options.
func OptionsFromConfig(cfg config.DashboardConfig) Options {
	return Options{
		PageSize: cfg.GetPageSize(),
		IdleTTL:  cfg.GetSessionIdleTTL(),
		MapSync: mapsync.Options{
			PollInterval: cfg.GetPopupPollInterval(),
			MaxAttempts:  cfg.GetPopupMaxAttempts(),
		},
	}
}

// Service owns the open dashboard sessions.
type Service struct {
	source   RecordSource
	resolver LocationResolver
	regions  domain.DistrictIndex
	bus      events.Bus
	opts     Options
	log      *logger.Logger
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	// agencies caches the last good profile per agency id.
	agencies sync.Map
}

// New creates the service.
func New(source RecordSource, resolver LocationResolver, regions domain.DistrictIndex, bus events.Bus, opts Options, log *logger.Logger) *Service {
	if opts.PageSize < 1 {
		opts.PageSize = domain.DefaultPageSize
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	return &Service{
		source:   source,
		resolver: resolver,
		regions:  regions,
		bus:      bus,
		opts:     opts,
		log:      log,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Open creates a session for viewer: it fetches the records and the acting
// agency, runs the filter cascade and builds the first cluster set.
func (s *Service) Open(ctx context.Context, viewer domain.Viewer) (*Session, View, error) {
	var (
		records     []domain.MissingPersonRecord
		fetchFailed bool
		live        *domain.AgencyProfile
		cached      *domain.AgencyProfile
	)

	var g errgroup.Group
	g.Go(func() error {
		records, fetchFailed = s.fetchRecords(ctx)
		return nil
	})
	g.Go(func() error {
		live, cached = s.agencyProfiles(ctx, viewer)
		return nil
	})
	_ = g.Wait()

	filter, source := domain.ResolveBaseFilter(viewer, live, cached, s.regions)

	sess := newSession(s, viewer)
	sess.records = records
	sess.fetchFailed = fetchFailed
	sess.filter = filter
	sess.filterSource = source

	if err := sess.rebuild(ctx); err != nil {
		sess.close("open failed")
		return nil, View{}, err
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	metrics.DashboardSessionsActive.Inc()

	sess.log.Info("dashboard session opened",
		"filter_scope", filter.Scope,
		"filter_source", source,
		"records", len(records),
	)
	s.bus.Publish(ctx, events.DashboardSessionOpened{
		BaseEvent:    events.NewBaseEvent(),
		SessionScope: events.SessionScope{SessionID: sess.id},
		FilterSource: string(source),
		Filter:       filter,
	})

	return sess, sess.View(), nil
}

// Session returns an open session.
func (s *Service) Session(id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("dashboard session not found")
	}
	return sess, nil
}

// Exists reports whether id names an open session.
func (s *Service) Exists(id uuid.UUID) bool {
	_, err := s.Session(id)
	return err == nil
}

// Close closes and forgets a session.
func (s *Service) Close(id uuid.UUID) error {
	return s.closeSession(id, "closed")
}

// Detail fetches one record's full detail from the portal API.
func (s *Service) Detail(ctx context.Context, id int64) (domain.MissingPersonRecord, error) {
	record, err := s.source.GetMissingPerson(ctx, id)
	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, portalapi.ErrNotFound):
		return domain.MissingPersonRecord{}, apperr.NotFound("missing person not found")
	default:
		return domain.MissingPersonRecord{}, apperr.Unavailable("portal api unavailable", err)
	}
}

// Run expires idle sessions until ctx is done, then closes every session.
func (s *Service) Run(ctx context.Context) {
	interval := s.opts.IdleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.expireIdle()
		}
	}
}

// Shutdown closes every open session.
func (s *Service) Shutdown() {
	for _, id := range s.sessionIDs() {
		_ = s.closeSession(id, "shutdown")
	}
}

func (s *Service) expireIdle() int {
	cutoff := s.now().Add(-s.opts.IdleTTL)
	expired := 0
	for _, id := range s.sessionIDs() {
		sess, err := s.Session(id)
		if err != nil || sess.lastActive().After(cutoff) {
			continue
		}
		if s.closeSession(id, "expired") == nil {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info("expired idle dashboard sessions", "count", expired)
	}
	return expired
}

func (s *Service) closeSession(id uuid.UUID, reason string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return apperr.NotFound("dashboard session not found")
	}

	sess.close(reason)
	metrics.DashboardSessionsActive.Dec()
	return nil
}

func (s *Service) sessionIDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// fetchRecords never fails: an unavailable API yields an empty set.
func (s *Service) fetchRecords(ctx context.Context) ([]domain.MissingPersonRecord, bool) {
	records, err := s.source.ListMissingPersons(ctx)
	if err != nil {
		s.log.WithContext(ctx).Warn("missing-person records unavailable, showing empty set", "error", err)
		return nil, true
	}
	return records, false
}

func (s *Service) agencyProfiles(ctx context.Context, viewer domain.Viewer) (live, cached *domain.AgencyProfile) {
	if viewer.ActingAgencyID == nil {
		return nil, nil
	}
	id := *viewer.ActingAgencyID

	agency, err := s.source.GetAgencyProfile(ctx, id)
	if err == nil {
		s.agencies.Store(id, agency)
		return &agency, nil
	}

	s.log.WithContext(ctx).Warn("agency profile unavailable, falling back to cache", "agency_id", id, "error", err)
	if v, ok := s.agencies.Load(id); ok {
		a := v.(domain.AgencyProfile)
		return nil, &a
	}
	return nil, nil
}
