package repositories

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"orderdesk/internal/faults"
	"orderdesk/internal/models"
)

// OrderStore is the transactional boundary for order registration. One store
// instance serves one workflow execution; it is not safe for concurrent use.
type OrderStore interface {
	// Begin opens the store's transaction. A second Begin without an
	// intervening Commit or Rollback is a programming error.
	Begin(ctx context.Context) error
	// Commit flushes pending writes and commits. On any error it rolls back,
	// then reports the failure; the transaction handle is always released.
	Commit(ctx context.Context) error
	// Rollback discards pending writes. Calling it with no open transaction
	// is a no-op.
	Rollback(ctx context.Context) error
	// AddOrder queues an order header (with its lines) for the next Flush.
	AddOrder(header *models.OrderHeader) error
	// AddAuditEvent queues an audit event for the next Flush.
	AddAuditEvent(event *models.AuditEvent) error
	// Flush writes all queued rows inside the open transaction and reports
	// the number of rows affected.
	Flush(ctx context.Context) (int64, error)
	// SaveAuditEvent writes an audit event on the base connection, outside
	// any open transaction. Used for the terminal error event only.
	SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error
	// InTransaction reports whether a transaction is currently open.
	InTransaction() bool
}

// StoreFactory yields a fresh store per workflow execution, so a retry
// re-runs the whole transactional body from a clean slate.
type StoreFactory func() OrderStore

// GormOrderStore implements OrderStore on a GORM connection.
type GormOrderStore struct {
	db     *gorm.DB
	tx     *gorm.DB
	logger *zap.Logger

	pendingOrders []*models.OrderHeader
	pendingEvents []*models.AuditEvent
}

// NewGormOrderStore creates a store bound to the given connection.
func NewGormOrderStore(db *gorm.DB, logger *zap.Logger) *GormOrderStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormOrderStore{db: db, logger: logger}
}

// NewGormStoreFactory returns a StoreFactory producing GormOrderStore
// instances on the given connection.
func NewGormStoreFactory(db *gorm.DB, logger *zap.Logger) StoreFactory {
	return func() OrderStore {
		return NewGormOrderStore(db, logger)
	}
}

func (s *GormOrderStore) Begin(ctx context.Context) error {
	if s.tx != nil {
		return faults.NewTransaction("transaction already open; nested transactions are not supported")
	}
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return faults.NewTransaction("beginning transaction failed").WithCause(tx.Error)
	}
	s.tx = tx
	return nil
}

func (s *GormOrderStore) Commit(ctx context.Context) error {
	if s.tx == nil {
		return faults.NewTransaction("commit without an open transaction")
	}
	if _, err := s.Flush(ctx); err != nil {
		s.rollbackAndRelease()
		return err
	}
	if err := s.tx.Commit().Error; err != nil {
		s.rollbackAndRelease()
		return faults.NewStorage("committing transaction failed").WithCause(err)
	}
	s.release()
	return nil
}

func (s *GormOrderStore) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback().Error
	s.release()
	if err != nil {
		s.logger.Warn("rollback failed", zap.Error(err))
		return faults.NewTransaction("rolling back transaction failed").WithCause(err)
	}
	return nil
}

func (s *GormOrderStore) AddOrder(header *models.OrderHeader) error {
	if s.tx == nil {
		return faults.NewTransaction("adding an order requires an open transaction")
	}
	s.pendingOrders = append(s.pendingOrders, header)
	return nil
}

func (s *GormOrderStore) AddAuditEvent(event *models.AuditEvent) error {
	if s.tx == nil {
		return faults.NewTransaction("adding an audit event requires an open transaction")
	}
	s.pendingEvents = append(s.pendingEvents, event)
	return nil
}

func (s *GormOrderStore) Flush(ctx context.Context) (int64, error) {
	if s.tx == nil {
		return 0, faults.NewTransaction("flush without an open transaction")
	}
	var affected int64
	for _, header := range s.pendingOrders {
		res := s.tx.Create(header)
		if res.Error != nil {
			return affected, faults.NewStorage("persisting order header failed").WithCause(res.Error)
		}
		affected += res.RowsAffected
	}
	for _, event := range s.pendingEvents {
		res := s.tx.Create(event)
		if res.Error != nil {
			return affected, faults.NewStorage("persisting audit event failed").WithCause(res.Error)
		}
		affected += res.RowsAffected
	}
	s.pendingOrders = nil
	s.pendingEvents = nil
	return affected, nil
}

func (s *GormOrderStore) SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return faults.NewStorage("persisting out-of-band audit event failed").WithCause(err)
	}
	return nil
}

func (s *GormOrderStore) InTransaction() bool {
	return s.tx != nil
}

func (s *GormOrderStore) rollbackAndRelease() {
	if err := s.tx.Rollback().Error; err != nil {
		s.logger.Warn("rollback after failed commit also failed", zap.Error(err))
	}
	s.release()
}

func (s *GormOrderStore) release() {
	s.tx = nil
	s.pendingOrders = nil
	s.pendingEvents = nil
}
