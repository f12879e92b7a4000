package collab

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/conneroisu/pagecraft/internal/errors"
)

// DefaultFlushSchedule saves dirty pages every thirty seconds.
const DefaultFlushSchedule = "@every 30s"

// ScheduleFlush starts a cron scheduler that flushes the hub on schedule,
// a standard cron expression or a descriptor such as "@every 1m". Stop the
// returned scheduler before closing the hub.
func (h *Hub) ScheduleFlush(ctx context.Context, schedule string) (*cron.Cron, error) {
	if schedule == "" {
		schedule = DefaultFlushSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := h.Flush(ctx); err != nil {
			h.logger.Error(ctx, err, "scheduled flush failed")
		}
	}); err != nil {
		return nil, errors.NewConfigError("invalid flush schedule " + schedule + ": " + err.Error())
	}
	c.Start()
	h.logger.Info(ctx, "flush scheduled", "schedule", schedule)
	return c, nil
}
