package repositories

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"orderdesk/internal/faults"
)

// RetryPolicy re-executes an operation a bounded number of times with a
// fixed backoff. Only transient storage faults are retried; everything else
// propagates on the first attempt. The wrapped operation must be a complete
// transactional body so each attempt starts from a clean slate.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Logger      *zap.Logger
}

// Execute runs op under the policy. Context cancellation between attempts
// surfaces as a Cancelled failure.
func (p RetryPolicy) Execute(ctx context.Context, op func() error) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil || !IsTransientStorageError(err) || attempt == attempts {
			return err
		}
		logger.Warn("transient storage fault, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("backoff", p.Backoff),
			zap.Error(err))

		timer := time.NewTimer(p.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return faults.NewCancelled(ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

// transientMarkers are storage-level symptoms expected to succeed on retry.
// GORM surfaces driver errors as opaque wrapped errors, so matching is by
// message.
var transientMarkers = []string{
	"deadlock",
	"database is locked",
	"lock wait timeout",
	"connection refused",
	"connection reset",
	"bad connection",
	"broken pipe",
	"try again",
}

// IsTransientStorageError reports whether err is a storage fault worth
// retrying. Cancellation and business failures are never transient.
func IsTransientStorageError(err error) bool {
	if err == nil {
		return false
	}
	switch faults.KindOf(err) {
	case faults.Storage, faults.Transaction:
	default:
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
