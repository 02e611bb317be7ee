package repositories

import (
	"context"

	"go.uber.org/zap"

	"orderdesk/internal/models"
)

// AuditRecorder appends audit events within the caller's open transaction.
// It never fails: audit completeness must not block or roll back the
// business transaction it describes.
type AuditRecorder interface {
	Record(ctx context.Context, name, description string)
}

// StoreAuditRecorder queues audit rows on an OrderStore. The rows persist
// when the caller flushes and commits.
type StoreAuditRecorder struct {
	store  OrderStore
	logger *zap.Logger
}

// NewStoreAuditRecorder creates a recorder bound to the given store.
func NewStoreAuditRecorder(store OrderStore, logger *zap.Logger) *StoreAuditRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreAuditRecorder{store: store, logger: logger}
}

// Record queues an audit event. Failures are logged and discarded.
func (r *StoreAuditRecorder) Record(ctx context.Context, name, description string) {
	if err := r.store.AddAuditEvent(models.NewAuditEvent(name, description)); err != nil {
		r.logger.Warn("queueing audit event failed",
			zap.String("event", name),
			zap.Error(err))
	}
}
