package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation and logging purposes.
type Kind string

const (
	// Validation covers malformed or out-of-range client input.
	Validation Kind = "VALIDATION"
	// BusinessRule covers legitimate domain rejections (unknown customer,
	// limit exceeded, numeric rules).
	BusinessRule Kind = "BUSINESS_RULE"
	// ExternalService covers an unavailable, erroring, or timing-out
	// external dependency. Callers may retry later.
	ExternalService Kind = "EXTERNAL_SERVICE"
	// Storage covers persistence-layer errors.
	Storage Kind = "STORAGE"
	// Transaction covers transaction lifecycle misuse or failure.
	Transaction Kind = "TRANSACTION"
	// Configuration covers missing or invalid system configuration. Requires
	// operator intervention, never an automatic retry.
	Configuration Kind = "CONFIGURATION"
	// Cancelled means the caller withdrew the request.
	Cancelled Kind = "CANCELLED"
)

// Business rule codes raised by customer validation.
const (
	RuleCustomerIDInvalid  = "CUSTOMER_ID_INVALID"
	RuleTotalInvalid       = "TOTAL_INVALID"
	RuleTotalLimitExceeded = "TOTAL_LIMIT_EXCEEDED"
	RuleCustomerNotFound   = "CUSTOMER_NOT_FOUND"
)

// Failure is the single error type crossing service boundaries. It carries a
// kind, a machine-readable code, and structured metadata about the cause.
type Failure struct {
	Kind    Kind
	Code    string
	Message string
	Meta    map[string]any
	cause   error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (f *Failure) Unwrap() error {
	return f.cause
}

// WithMeta attaches a metadata entry and returns the failure for chaining.
func (f *Failure) WithMeta(key string, value any) *Failure {
	if f.Meta == nil {
		f.Meta = make(map[string]any)
	}
	f.Meta[key] = value
	return f
}

// WithCause attaches the underlying error and returns the failure.
func (f *Failure) WithCause(err error) *Failure {
	f.cause = err
	return f
}

func newFailure(kind Kind, code, format string, args ...any) *Failure {
	return &Failure{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewValidation reports a malformed or out-of-range input field. The
// offending field and value are kept as metadata.
func NewValidation(field string, value any, format string, args ...any) *Failure {
	f := newFailure(Validation, "INVALID_INPUT", format, args...)
	return f.WithMeta("field", field).WithMeta("value", value)
}

// NewBusinessRule reports a domain rejection identified by a rule code.
func NewBusinessRule(rule, format string, args ...any) *Failure {
	return newFailure(BusinessRule, rule, format, args...).WithMeta("rule", rule)
}

// NewExternalService reports a failing external dependency.
func NewExternalService(service, format string, args ...any) *Failure {
	return newFailure(ExternalService, "EXTERNAL_SERVICE_ERROR", format, args...).
		WithMeta("service", service)
}

// NewStorage reports a persistence-layer error.
func NewStorage(format string, args ...any) *Failure {
	return newFailure(Storage, "STORAGE_ERROR", format, args...)
}

// NewTransaction reports transaction lifecycle misuse or failure.
func NewTransaction(format string, args ...any) *Failure {
	return newFailure(Transaction, "TRANSACTION_ERROR", format, args...)
}

// NewConfiguration reports a missing or invalid configuration value.
func NewConfiguration(key, format string, args ...any) *Failure {
	return newFailure(Configuration, "CONFIGURATION_ERROR", format, args...).
		WithMeta("key", key)
}

// NewCancelled reports that the caller withdrew the request.
func NewCancelled(cause error) *Failure {
	return newFailure(Cancelled, "CANCELLED", "operation cancelled").WithCause(cause)
}

// KindOf classifies an arbitrary error. Context cancellation and deadline
// errors are recognised anywhere in the chain; everything else that is not a
// *Failure reports an empty kind.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return ""
}

// As extracts the *Failure from an error chain, if any.
func As(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
