// Package audit records security events for later investigation. Recording
// is best effort and bounded by a short timeout.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auth-token-service/internal/bucketing"
	"auth-token-service/internal/models"
)

type Sink interface {
	Name() string
	Write(ctx context.Context, event models.SecurityEvent) error
}

type Recorder struct {
	sinks   []Sink
	buckets *bucketing.BucketingManager
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewRecorder(buckets *bucketing.BucketingManager, timeout time.Duration, logger *zap.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Recorder{sinks: sinks, buckets: buckets, timeout: timeout, now: time.Now, logger: logger}
}

// Record writes the event to every sink concurrently. A nil Recorder is a no-op.
func (r *Recorder) Record(ctx context.Context, eventType models.SecurityEventType, accountID, ipAddress, details string) {
	if r == nil || len(r.sinks) == 0 {
		return
	}

	now := r.now().UTC()
	event := models.SecurityEvent{
		EventID:   uuid.NewString(),
		EventDate: r.buckets.DateBucket(now),
		EventTime: now,
		EventType: eventType,
		AccountID: accountID,
		IPAddress: ipAddress,
		Details:   details,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range r.sinks {
		g.Go(func() error {
			if err := sink.Write(gctx, event); err != nil {
				r.logger.Warn("Failed to record security event",
					zap.String("sink", sink.Name()),
					zap.String("event_type", string(eventType)),
					zap.String("account_id", accountID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
