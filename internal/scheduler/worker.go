package scheduler

import (
	"context"
	"fmt"

	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/internal/missingpersons/geocode"
	"relief_portal_backend/platform/config"
	"relief_portal_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// RecordLister lists missing-person records.
type RecordLister interface {
	ListMissingPersons(ctx context.Context) ([]domain.MissingPersonRecord, error)
}

// BatchResolver resolves location strings; in production it sits in front
// of the shared redis cache, which is what the warm-up fills.
type BatchResolver interface {
	ResolveAll(ctx context.Context, queries []string) geocode.Batch
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	records  RecordLister
	resolver BatchResolver
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, records RecordLister, resolver BatchResolver, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(records, resolver, log)
	w.server = server
	return w, nil
}

func newWorker(records RecordLister, resolver BatchResolver, log *logger.Logger) *Worker {
	w := &Worker{
		mux:      asynq.NewServeMux(),
		records:  records,
		resolver: resolver,
		log:      log,
	}
	w.mux.HandleFunc(TaskGeocodeWarm, w.handleGeocodeWarm)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleGeocodeWarm resolves every distinct location of the open records so
// dashboards find them cached. Only a failed fetch is retried; lookup
// failures are expected and left to the next run.
func (w *Worker) handleGeocodeWarm(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseGeocodeWarmPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	records, err := w.records.ListMissingPersons(ctx)
	if err != nil {
		return err
	}

	filter := domain.FilterState{}.SelectState(payload.State)
	locations := domain.DistinctLocations(domain.FilterVisible(records, filter))
	if len(locations) == 0 {
		return nil
	}

	batch := w.resolver.ResolveAll(ctx, locations)
	w.log.Info("geocode warm-up finished",
		"state", payload.State,
		"locations", len(locations),
		"lookups", batch.Lookups,
		"resolved", len(batch.Resolved),
		"failed", len(batch.Failed),
	)
	return nil
}
