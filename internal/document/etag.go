package document

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
)

// NewETag generates a fresh opaque version tag.
func NewETag() string {
	return uuid.NewString()
}

// casRetries bounds local retries on optimistic-concurrency conflicts before
// the conflict surfaces to the caller.
const casRetries = 3

// WithCASRetry runs fn, retrying with jitter while it reports a conflict.
// fn must re-read the current state on each attempt.
func WithCASRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < casRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(10+rand.Intn(40)) * time.Millisecond
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn(ctx)
		if err == nil || !apperr.IsKind(err, apperr.KindConflict) {
			return err
		}
	}
	return err
}
