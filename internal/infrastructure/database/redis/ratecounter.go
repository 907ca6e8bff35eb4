package redis

import (
	"context"
	"time"

	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// counterTTL keeps stale window counters from accumulating.  Two days is
// comfortably longer than any window plus clock skew.
const counterTTL = 48 * time.Hour

// RateCounter implements dispatch.HotRateCounter on Redis.  Counters are
// keyed by account and window date so every process sharing the store sees
// the same daily totals.
type RateCounter struct {
	client *Client
	logger logging.Logger
}

// NewRateCounter constructs a RateCounter on an established client.
func NewRateCounter(client *Client, logger logging.Logger) *RateCounter {
	return &RateCounter{client: client, logger: logger.Named("rate_counter")}
}

// IncrementSent bumps the account's counter for the window date and returns
// the new value.
func (c *RateCounter) IncrementSent(ctx context.Context, key common.AccountKey, windowDate string) (int64, error) {
	redisKey := c.client.key("sent", key.String(), windowDate)

	pipe := c.client.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeCacheError, "increment sent counter").
			WithDetail(redisKey)
	}
	return incr.Val(), nil
}

// MarkRollover records that the window for the date was opened.  SETNX makes
// the first caller across all processes win; everyone else sees false.
func (c *RateCounter) MarkRollover(ctx context.Context, key common.AccountKey, windowDate string) (bool, error) {
	redisKey := c.client.key("window", key.String(), windowDate)

	first, err := c.client.rdb.SetNX(ctx, redisKey, "1", counterTTL).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "mark window rollover").
			WithDetail(redisKey)
	}
	if first {
		c.logger.Debug("window opened",
			logging.String("account", key.String()),
			logging.String("window", windowDate),
		)
	}
	return first, nil
}
