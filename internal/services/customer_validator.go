package services

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderdesk/internal/directory"
	"orderdesk/internal/faults"
)

// CustomerValidator confirms that a customer may place an order with the
// given total. It fails instead of returning a boolean so callers never need
// to re-derive why validation failed.
type CustomerValidator interface {
	Validate(ctx context.Context, customerID int64, total decimal.Decimal) error
}

// DirectoryCustomerValidator enforces the numeric business rules, then
// confirms customer existence against the external directory.
type DirectoryCustomerValidator struct {
	directory directory.Client
	ceiling   decimal.Decimal
	logger    *zap.Logger
}

// NewDirectoryCustomerValidator creates a validator with the configured
// per-order total ceiling.
func NewDirectoryCustomerValidator(client directory.Client, ceiling decimal.Decimal, logger *zap.Logger) *DirectoryCustomerValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryCustomerValidator{
		directory: client,
		ceiling:   ceiling,
		logger:    logger,
	}
}

// Validate applies the business rules in order, then the directory lookup.
// Directory failures pass through unchanged.
func (v *DirectoryCustomerValidator) Validate(ctx context.Context, customerID int64, total decimal.Decimal) error {
	if customerID < 1 {
		return faults.NewBusinessRule(faults.RuleCustomerIDInvalid,
			"customer id %d is not a valid identifier", customerID)
	}
	if total.Sign() <= 0 {
		return faults.NewBusinessRule(faults.RuleTotalInvalid,
			"order total %s must be positive", total)
	}
	if total.GreaterThan(v.ceiling) {
		return faults.NewBusinessRule(faults.RuleTotalLimitExceeded,
			"order total %s exceeds the per-order limit of %s", total, v.ceiling).
			WithMeta("total", total.String()).
			WithMeta("ceiling", v.ceiling.String())
	}

	customer, err := v.directory.FetchCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	v.logger.Debug("customer confirmed by directory",
		zap.Int64("customer_id", customer.ID),
		zap.String("name", customer.Name))
	return nil
}
