package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"leadlock_backend/platform/config"
	"leadlock_backend/platform/db"

	"github.com/hibiken/asynq"
)

// handlerTimeout bounds one conductor pass, including responder latency
// and the longest lock wait.
const handlerTimeout = 2 * time.Minute

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

// Enqueuer submits conductor work. It is what intake surfaces depend on.
type Enqueuer interface {
	EnqueueNewLead(ctx context.Context, payload NewLeadPayload) error
	EnqueueInboundReply(ctx context.Context, payload InboundReplyPayload) error
	EnqueueOptOut(ctx context.Context, payload OptOutPayload) error
}

var _ Enqueuer = (*Client)(nil)

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		client:   asynq.NewClient(opt),
		queue:    queueName(cfg),
		maxRetry: maxRetry(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) EnqueueNewLead(ctx context.Context, payload NewLeadPayload) error {
	task, err := NewNewLeadTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) EnqueueInboundReply(ctx context.Context, payload InboundReplyPayload) error {
	task, err := NewInboundReplyTask(payload)
	if err != nil {
		return err
	}
	opts := []asynq.Option{}
	if payload.ProviderMessageID != "" {
		// Provider webhooks are redelivered; collapse them at the queue too.
		opts = append(opts, asynq.TaskID(TaskInboundReply+":"+payload.TenantID+":"+payload.ProviderMessageID))
	}
	return c.enqueue(ctx, task, opts...)
}

func (c *Client) EnqueueOptOut(ctx context.Context, payload OptOutPayload) error {
	task, err := NewOptOutTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// Defer re-enqueues task to run at runAt. Deferring the same task to the
// same instant twice is a no-op.
func (c *Client) Defer(ctx context.Context, task *asynq.Task, runAt time.Time) error {
	sum := sha256.Sum256(task.Payload())
	id := fmt.Sprintf("deferred:%s:%s:%d", task.Type(), hex.EncodeToString(sum[:12]), runAt.Unix())
	return c.enqueue(ctx, asynq.NewTask(task.Type(), task.Payload()), asynq.ProcessAt(runAt), asynq.TaskID(id))
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, extra ...asynq.Option) error {
	if c == nil || c.client == nil {
		return errors.New("scheduler client not configured")
	}

	opts := append([]asynq.Option{
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(handlerTimeout),
	}, extra...)

	_, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func redisClientOpt(cfg config.RedisConfig) (asynq.RedisClientOpt, error) {
	opt, err := db.RedisOptions(cfg)
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
	if q := cfg.GetAsynqQueueName(); q != "" {
		return q
	}
	return "default"
}

func maxRetry(cfg config.SchedulerConfig) int {
	if n := cfg.GetRetryMaxAttempts(); n >= 0 {
		return n
	}
	return 5
}
