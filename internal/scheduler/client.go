package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Options carries the redis/asynq settings shared by client and worker.
type Options struct {
	RedisURL    string
	TLSInsecure bool
	Queue       string
	Concurrency int
}

func (o Options) queueName() string {
	if o.Queue == "" {
		return "default"
	}
	return o.Queue
}

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(opts Options) (*Client, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(opts.RedisURL, opts.TLSInsecure)
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  opts.queueName(),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleFollowUp enqueues a follow-up call task to run after the delay.
// Satisfies the orchestrator's FollowUpScheduler port.
func (c *Client) ScheduleFollowUp(ctx context.Context, orgID, leadID uuid.UUID, delay time.Duration) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("scheduler not configured")
	}

	task, err := NewFollowUpCallTask(FollowUpCallPayload{
		OrganizationID: orgID.String(),
		LeadID:         leadID.String(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.ProcessIn(delay), asynq.Queue(c.queue))
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
