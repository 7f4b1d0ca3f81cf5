package scheduler

import (
	"context"
	"errors"
	"time"

	"relief_portal_backend/platform/config"
	"relief_portal_backend/platform/db"

	"github.com/hibiken/asynq"
)

// warmUniqueTTL keeps at most one pending warm-up per payload.
const warmUniqueTTL = 10 * time.Minute

type Client struct {
	client *asynq.Client
	queue  string
}

// WarmScheduler enqueues geocode warm-up runs.
type WarmScheduler interface {
	EnqueueGeocodeWarm(ctx context.Context, payload GeocodeWarmPayload) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueGeocodeWarm enqueues a warm-up. A duplicate of a pending task is
// not an error.
func (c *Client) EnqueueGeocodeWarm(ctx context.Context, payload GeocodeWarmPayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewGeocodeWarmTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.Unique(warmUniqueTTL),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func redisClientOpt(cfg config.RedisConfig) (asynq.RedisClientOpt, error) {
	opt, err := db.ParseRedisOptions(cfg)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

func queueName(cfg config.SchedulerConfig) string {
	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}
	return queue
}
