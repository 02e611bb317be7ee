package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderdesk/internal/faults"
	"orderdesk/internal/models"
	"orderdesk/internal/repositories"
	"orderdesk/pkg/rabbitmq"
)

// Currency bounds for one order. Totals outside (0, maxOrderTotal] are data
// problems, not system faults.
var (
	minUnitPrice  = decimal.RequireFromString("0.01")
	maxUnitPrice  = decimal.RequireFromString("999999.99")
	maxOrderTotal = decimal.RequireFromString("999999999.99")
)

// OrderEventPublisher publishes order lifecycle events after commit.
type OrderEventPublisher interface {
	PublishOrderRegistered(event rabbitmq.OrderRegisteredEvent) error
}

// OrderService orchestrates the order registration workflow: structural
// validation, transactional persistence with audit trail, customer
// verification, and post-commit event publication.
type OrderService struct {
	stores    repositories.StoreFactory
	customers CustomerValidator
	retry     repositories.RetryPolicy
	publisher OrderEventPublisher
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewOrderService creates a new OrderService. publisher may be nil, in which
// case event publication is skipped.
func NewOrderService(stores repositories.StoreFactory, customers CustomerValidator, retry repositories.RetryPolicy, publisher OrderEventPublisher, logger *zap.Logger) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		stores:    stores,
		customers: customers,
		retry:     retry,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger,
	}
}

// RegisterOrder runs the registration workflow for one request.
//
// Structural validation happens before any transaction is opened. The
// transactional body (begin, audit, total, customer check, persist, audit,
// commit) runs under the retry policy with a fresh store per attempt, so a
// transient storage fault re-executes it from a clean slate. On failure the
// transaction is rolled back, a best-effort error audit event is written
// outside the transaction, and the original failure propagates unchanged.
func (s *OrderService) RegisterOrder(ctx context.Context, req *models.OrderRequest) (*models.OrderResult, error) {
	if err := s.validateRequest(req); err != nil {
		s.logFailure(err)
		return nil, err
	}

	var result *models.OrderResult
	err := s.retry.Execute(ctx, func() error {
		res, runErr := s.runTransaction(ctx, req)
		if runErr != nil {
			return runErr
		}
		result = res
		return nil
	})
	if err != nil {
		s.logFailure(err)
		return nil, err
	}

	s.publishRegistered(req, result)
	return result, nil
}

// runTransaction executes one attempt of the transactional body on a fresh
// store.
func (s *OrderService) runTransaction(ctx context.Context, req *models.OrderRequest) (*models.OrderResult, error) {
	store := s.stores()
	recorder := repositories.NewStoreAuditRecorder(store, s.logger)

	if err := store.Begin(ctx); err != nil {
		return nil, err
	}

	result, err := s.executeSteps(ctx, store, recorder, req)
	if err != nil {
		if rbErr := store.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback after workflow failure also failed", zap.Error(rbErr))
		}
		s.recordError(ctx, store, req, err)
		if ctx.Err() != nil && faults.KindOf(err) != faults.Cancelled {
			return nil, faults.NewCancelled(err)
		}
		return nil, err
	}
	return result, nil
}

func (s *OrderService) executeSteps(ctx context.Context, store repositories.OrderStore, recorder repositories.AuditRecorder, req *models.OrderRequest) (*models.OrderResult, error) {
	recorder.Record(ctx, models.EventOrderStarted,
		fmt.Sprintf("order registration started for customer %d by %s", req.CustomerID, req.SubmittedBy))

	total, err := computeTotal(req.Items)
	if err != nil {
		return nil, err
	}

	if err := s.customers.Validate(ctx, req.CustomerID, total); err != nil {
		return nil, err
	}

	header := buildHeader(req, total)
	if err := store.AddOrder(header); err != nil {
		return nil, err
	}
	if _, err := store.Flush(ctx); err != nil {
		return nil, err
	}
	// Sanity check on the store's contract: a flushed header must carry a
	// generated identity even when no error was reported.
	if header.ID == 0 {
		return nil, faults.NewStorage("store returned a non-positive identity for order %s", header.OrderNumber)
	}

	recorder.Record(ctx, models.EventOrderCreated,
		fmt.Sprintf("order %s created for customer %d with %d lines, total %s",
			header.OrderNumber, header.CustomerID, len(header.Lines), header.Total))

	if err := store.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("order registered",
		zap.Uint("order_id", header.ID),
		zap.String("order_number", header.OrderNumber),
		zap.Int64("customer_id", header.CustomerID),
		zap.String("total", header.Total.String()))

	return &models.OrderResult{
		OrderID:     header.ID,
		OrderNumber: header.OrderNumber,
		CustomerID:  header.CustomerID,
		Total:       header.Total,
		CreatedAt:   header.CreatedAt,
		LineCount:   len(header.Lines),
	}, nil
}

// validateRequest enforces the structural rules. The first violation wins
// and carries the offending field and value as metadata.
func (s *OrderService) validateRequest(req *models.OrderRequest) error {
	if req == nil {
		return faults.NewValidation("request", nil, "request must not be empty")
	}
	if err := s.validate.Struct(req); err != nil {
		validationErrs, ok := err.(validator.ValidationErrors)
		if !ok || len(validationErrs) == 0 {
			return faults.NewValidation("request", nil, "request failed validation").WithCause(err)
		}
		first := validationErrs[0]
		return faults.NewValidation(first.Namespace(), first.Value(),
			"field %s failed rule %s", first.Namespace(), first.Tag())
	}
	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d].unit_price", i)
		if item.UnitPrice.LessThan(minUnitPrice) {
			return faults.NewValidation(field, item.UnitPrice.String(),
				"unit price %s is below the minimum of %s", item.UnitPrice, minUnitPrice)
		}
		if item.UnitPrice.GreaterThan(maxUnitPrice) {
			return faults.NewValidation(field, item.UnitPrice.String(),
				"unit price %s exceeds the maximum of %s", item.UnitPrice, maxUnitPrice)
		}
	}
	return nil
}

// computeTotal sums quantity times unit price over all lines with exact
// decimal arithmetic.
func computeTotal(items []models.OrderLineRequest) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, item := range items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(line)
	}
	if total.Sign() <= 0 {
		return decimal.Zero, faults.NewValidation("items", total.String(),
			"order total %s must be positive", total)
	}
	if total.GreaterThan(maxOrderTotal) {
		return decimal.Zero, faults.NewValidation("items", total.String(),
			"order total %s exceeds the representable bound of %s", total, maxOrderTotal)
	}
	return total, nil
}

func buildHeader(req *models.OrderRequest, total decimal.Decimal) *models.OrderHeader {
	lines := make([]models.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, models.OrderLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return &models.OrderHeader{
		OrderNumber: uuid.New().String(),
		CustomerID:  req.CustomerID,
		CreatedAt:   time.Now().UTC(),
		Total:       total,
		SubmittedBy: req.SubmittedBy,
		Lines:       lines,
	}
}

// recordError writes the terminal error audit event outside any transaction.
// Its own failure is logged and swallowed; the original failure is what the
// caller observes.
func (s *OrderService) recordError(ctx context.Context, store repositories.OrderStore, req *models.OrderRequest, cause error) {
	kind := faults.KindOf(cause)
	event := models.NewAuditEvent(models.EventOrderError,
		fmt.Sprintf("order registration for customer %d failed (%s): %v", req.CustomerID, kind, cause))
	if err := store.SaveAuditEvent(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("recording error audit event failed", zap.Error(err))
	}
}

// logFailure applies the propagation policy: business-level failures are
// expected and log at warning severity, system-level failures at error.
func (s *OrderService) logFailure(err error) {
	switch faults.KindOf(err) {
	case faults.Validation, faults.BusinessRule:
		s.logger.Warn("order registration rejected", zap.Error(err))
	case faults.Cancelled:
		s.logger.Info("order registration cancelled", zap.Error(err))
	default:
		s.logger.Error("order registration failed", zap.Error(err))
	}
}

func (s *OrderService) publishRegistered(req *models.OrderRequest, result *models.OrderResult) {
	if s.publisher == nil {
		s.logger.Debug("event publisher not configured, skipping publication")
		return
	}
	event := rabbitmq.OrderRegisteredEvent{
		OrderID:      result.OrderID,
		OrderNumber:  result.OrderNumber,
		CustomerID:   result.CustomerID,
		Total:        result.Total,
		SubmittedBy:  req.SubmittedBy,
		RegisteredAt: result.CreatedAt,
	}
	if err := s.publisher.PublishOrderRegistered(event); err != nil {
		s.logger.Warn("publishing order registered event failed",
			zap.String("order_number", result.OrderNumber),
			zap.Error(err))
	}
}
