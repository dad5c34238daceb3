package redisfeed

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amirlehmam/flashloan/internal/config"
)

// AuditRecord is one audit-stream entry as seen by a consumer.
type AuditRecord struct {
	ID     string
	Event  string
	Fields map[string]string
}

type Consumer struct {
	rdb         *redis.Client
	auditStream string
}

func NewConsumer(cfg *config.Config) *Consumer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return &Consumer{rdb: rdb, auditStream: cfg.Redis.AuditStream}
}

// EnsureGroup creates the consumer group if it does not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.auditStream, group, "$").Err()
	if err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists" {
		return nil
	}
	return err
}

// ConsumeAudit reads audit events via a consumer group until ctx ends.
func (c *Consumer) ConsumeAudit(ctx context.Context, group, consumer string, out chan<- AuditRecord) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{c.auditStream, ">"},
			Count:    100,
			Block:    time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				rec := AuditRecord{ID: m.ID, Fields: make(map[string]string, len(m.Values))}
				for k, v := range m.Values {
					if sv, ok := v.(string); ok {
						rec.Fields[k] = sv
					}
				}
				rec.Event = rec.Fields["event"]
				select {
				case out <- rec:
				case <-ctx.Done():
					return ctx.Err()
				}
				_ = c.rdb.XAck(ctx, c.auditStream, group, m.ID).Err()
			}
		}
	}
}
