package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"orderdesk/internal/faults"
	"orderdesk/internal/models"
	"orderdesk/internal/repositories"
	"orderdesk/internal/services"
	"orderdesk/pkg/rabbitmq"
)

// MockOrderStore is a mock implementation of repositories.OrderStore.
type MockOrderStore struct {
	mock.Mock
}

func (m *MockOrderStore) Begin(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockOrderStore) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockOrderStore) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockOrderStore) AddOrder(header *models.OrderHeader) error {
	return m.Called(header).Error(0)
}

func (m *MockOrderStore) AddAuditEvent(event *models.AuditEvent) error {
	return m.Called(event).Error(0)
}

func (m *MockOrderStore) Flush(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOrderStore) SaveAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockOrderStore) InTransaction() bool {
	return m.Called().Bool(0)
}

// MockCustomerValidator is a mock implementation of services.CustomerValidator.
type MockCustomerValidator struct {
	mock.Mock
}

func (m *MockCustomerValidator) Validate(ctx context.Context, customerID int64, total decimal.Decimal) error {
	return m.Called(ctx, customerID, total).Error(0)
}

// MockEventPublisher is a mock implementation of services.OrderEventPublisher.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishOrderRegistered(event rabbitmq.OrderRegisteredEvent) error {
	return m.Called(event).Error(0)
}

func singleStoreFactory(store repositories.OrderStore) repositories.StoreFactory {
	return func() repositories.OrderStore { return store }
}

func newService(store repositories.OrderStore, validator services.CustomerValidator, publisher services.OrderEventPublisher) *services.OrderService {
	return services.NewOrderService(
		singleStoreFactory(store),
		validator,
		repositories.RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond},
		publisher,
		nil,
	)
}

func validRequest() *models.OrderRequest {
	return &models.OrderRequest{
		CustomerID:  1,
		SubmittedBy: "qa.agent",
		Items: []models.OrderLineRequest{
			{ProductID: 1, Quantity: 2, UnitPrice: dec("50.00")},
			{ProductID: 2, Quantity: 1, UnitPrice: dec("20.00")},
		},
	}
}

func totalEquals(expected string) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(dec(expected))
	})
}

// expectSuccessPath wires a store mock for the happy path and returns a
// pointer slot for the captured header.
func expectSuccessPath(store *MockOrderStore) **models.OrderHeader {
	captured := new(*models.OrderHeader)
	store.On("Begin", mock.Anything).Return(nil).Once()
	store.On("AddAuditEvent", mock.AnythingOfType("*models.AuditEvent")).Return(nil)
	store.On("AddOrder", mock.AnythingOfType("*models.OrderHeader")).Run(func(args mock.Arguments) {
		*captured = args.Get(0).(*models.OrderHeader)
	}).Return(nil).Once()
	store.On("Flush", mock.Anything).Run(func(args mock.Arguments) {
		if *captured != nil {
			(*captured).ID = 1
		}
	}).Return(int64(3), nil).Once()
	store.On("Commit", mock.Anything).Return(nil).Once()
	return captured
}

func TestRegisterOrderSuccess(t *testing.T) {
	store := new(MockOrderStore)
	validator := new(MockCustomerValidator)
	publisher := new(MockEventPublisher)

	captured := expectSuccessPath(store)
	validator.On("Validate", mock.Anything, int64(1), totalEquals("120.00")).Return(nil).Once()
	publisher.On("PublishOrderRegistered", mock.AnythingOfType("rabbitmq.OrderRegisteredEvent")).Return(nil).Once()

	service := newService(store, validator, publisher)
	result, err := service.RegisterOrder(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, uint(1), result.OrderID)
	assert.NotEmpty(t, result.OrderNumber)
	assert.Equal(t, "120.00", result.Total.String())
	assert.Equal(t, 2, result.LineCount)

	header := *captured
	require.NotNil(t, header)
	assert.Equal(t, int64(1), header.CustomerID)
	assert.Equal(t, "qa.agent", header.SubmittedBy)
	assert.Len(t, header.Lines, 2)

	store.AssertExpectations(t)
	validator.AssertExpectations(t)
	publisher.AssertExpectations(t)
	store.AssertNotCalled(t, "Rollback", mock.Anything)
}

func TestRegisterOrderTotalIsExactDecimal(t *testing.T) {
	store := new(MockOrderStore)
	validator := new(MockCustomerValidator)
	expectSuccessPath(store)
	validator.On("Validate", mock.Anything, int64(1), totalEquals("40.00")).Return(nil).Once()

	service := newService(store, validator, nil)
	req := &models.OrderRequest{
		CustomerID:  1,
		SubmittedBy: "qa.agent",
		Items: []models.OrderLineRequest{
			{ProductID: 1, Quantity: 2, UnitPrice: dec("10.00")},
			{ProductID: 2, Quantity: 1, UnitPrice: dec("20.00")},
		},
	}

	result, err := service.RegisterOrder(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "40.00", result.Total.String())
	validator.AssertExpectations(t)
}

func TestRegisterOrderStructuralValidationBeforeTransaction(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.OrderRequest)
	}{
		{"customer id zero", func(r *models.OrderRequest) { r.CustomerID = 0 }},
		{"submitting user too short", func(r *models.OrderRequest) { r.SubmittedBy = "ab" }},
		{"submitting user too long", func(r *models.OrderRequest) {
			name := make([]byte, 101)
			for i := range name {
				name[i] = 'x'
			}
			r.SubmittedBy = string(name)
		}},
		{"no items", func(r *models.OrderRequest) { r.Items = nil }},
		{"too many items", func(r *models.OrderRequest) {
			items := make([]models.OrderLineRequest, 101)
			for i := range items {
				items[i] = models.OrderLineRequest{ProductID: 1, Quantity: 1, UnitPrice: dec("1.00")}
			}
			r.Items = items
		}},
		{"product id zero", func(r *models.OrderRequest) { r.Items[0].ProductID = 0 }},
		{"quantity zero", func(r *models.OrderRequest) { r.Items[0].Quantity = 0 }},
		{"quantity negative", func(r *models.OrderRequest) { r.Items[0].Quantity = -5 }},
		{"quantity above bound", func(r *models.OrderRequest) { r.Items[0].Quantity = 10001 }},
		{"unit price below minimum", func(r *models.OrderRequest) { r.Items[0].UnitPrice = dec("0.005") }},
		{"unit price above maximum", func(r *models.OrderRequest) { r.Items[0].UnitPrice = dec("1000000.00") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storeCreated := false
			factory := func() repositories.OrderStore {
				storeCreated = true
				return new(MockOrderStore)
			}
			service := services.NewOrderService(factory, new(MockCustomerValidator),
				repositories.RetryPolicy{MaxAttempts: 1}, nil, nil)

			req := validRequest()
			tt.mutate(req)

			_, err := service.RegisterOrder(context.Background(), req)

			require.Error(t, err)
			assert.True(t, faults.IsKind(err, faults.Validation))
			assert.False(t, storeCreated, "no transaction may be opened before validation passes")
		})
	}
}

func TestRegisterOrderNilRequest(t *testing.T) {
	service := newService(new(MockOrderStore), new(MockCustomerValidator), nil)

	_, err := service.RegisterOrder(context.Background(), nil)

	assert.True(t, faults.IsKind(err, faults.Validation))
}

func TestRegisterOrderTotalOverflowFailsInsideTransaction(t *testing.T) {
	store := new(MockOrderStore)
	store.On("Begin", mock.Anything).Return(nil).Once()
	store.On("AddAuditEvent", mock.AnythingOfType("*models.AuditEvent")).Return(nil)
	store.On("Rollback", mock.Anything).Return(nil).Once()
	store.On("SaveAuditEvent", mock.Anything, mock.AnythingOfType("*models.AuditEvent")).Return(nil).Once()

	validator := new(MockCustomerValidator)
	service := newService(store, validator, nil)

	// 10000 * 999999.99 * 2 items is far beyond 999,999,999.99.
	req := &models.OrderRequest{
		CustomerID:  1,
		SubmittedBy: "qa.agent",
		Items: []models.OrderLineRequest{
			{ProductID: 1, Quantity: 10000, UnitPrice: dec("999999.99")},
			{ProductID: 2, Quantity: 10000, UnitPrice: dec("999999.99")},
		},
	}

	_, err := service.RegisterOrder(context.Background(), req)

	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.Validation))
	validator.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Commit", mock.Anything)
	store.AssertExpectations(t)
}

func TestRegisterOrderCustomerRejectedRollsBack(t *testing.T) {
	store := new(MockOrderStore)
	store.On("Begin", mock.Anything).Return(nil).Once()
	store.On("AddAuditEvent", mock.AnythingOfType("*models.AuditEvent")).Return(nil)
	store.On("Rollback", mock.Anything).Return(nil).Once()

	var errorEvent *models.AuditEvent
	store.On("SaveAuditEvent", mock.Anything, mock.AnythingOfType("*models.AuditEvent")).Run(func(args mock.Arguments) {
		errorEvent = args.Get(1).(*models.AuditEvent)
	}).Return(nil).Once()

	validator := new(MockCustomerValidator)
	validator.On("Validate", mock.Anything, int64(1), mock.Anything).
		Return(faults.NewBusinessRule(faults.RuleCustomerNotFound, "customer 1 not found in directory")).Once()

	service := newService(store, validator, nil)
	_, err := service.RegisterOrder(context.Background(), validRequest())

	require.Error(t, err)
	failure, ok := faults.As(err)
	require.True(t, ok)
	assert.Equal(t, faults.RuleCustomerNotFound, failure.Code)

	require.NotNil(t, errorEvent)
	assert.Equal(t, models.EventOrderError, errorEvent.EventName)
	assert.Contains(t, errorEvent.Description, "BUSINESS_RULE")

	store.AssertNotCalled(t, "AddOrder", mock.Anything)
	store.AssertNotCalled(t, "Commit", mock.Anything)
	store.AssertExpectations(t)
}

func TestRegisterOrderIdentitySanityCheck(t *testing.T) {
	store := new(MockOrderStore)
	store.On("Begin", mock.Anything).Return(nil).Once()
	store.On("AddAuditEvent", mock.AnythingOfType("*models.AuditEvent")).Return(nil)
	store.On("AddOrder", mock.AnythingOfType("*models.OrderHeader")).Return(nil).Once()
	// Flush reports success but never assigns an identity.
	store.On("Flush", mock.Anything).Return(int64(1), nil).Once()
	store.On("Rollback", mock.Anything).Return(nil).Once()
	store.On("SaveAuditEvent", mock.Anything, mock.AnythingOfType("*models.AuditEvent")).Return(nil).Once()

	validator := new(MockCustomerValidator)
	validator.On("Validate", mock.Anything, int64(1), mock.Anything).Return(nil).Once()

	service := newService(store, validator, nil)
	_, err := service.RegisterOrder(context.Background(), validRequest())

	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.Storage))
	store.AssertNotCalled(t, "Commit", mock.Anything)
	store.AssertExpectations(t)
}

func TestRegisterOrderCommitFailurePropagates(t *testing.T) {
	store := new(MockOrderStore)
	store.On("Begin", mock.Anything).Return(nil).Once()
	store.On("AddAuditEvent", mock.AnythingOfType("*models.AuditEvent")).Return(nil)
	var captured *models.OrderHeader
	store.On("AddOrder", mock.AnythingOfType("*models.OrderHeader")).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*models.OrderHeader)
	}).Return(nil).Once()
	store.On("Flush", mock.Anything).Run(func(mock.Arguments) {
		captured.ID = 1
	}).Return(int64(3), nil).Once()
	store.On("Commit", mock.Anything).
		Return(faults.NewStorage("committing transaction failed").WithCause(errors.New("disk full"))).Once()
	// The store released its handle on commit failure, so the workflow's
	// rollback is the idempotent no-op.
	store.On("Rollback", mock.Anything).Return(nil).Once()
	store.On("SaveAuditEvent", mock.Anything, mock.AnythingOfType("*models.AuditEvent")).Return(nil).Once()

	validator := new(MockCustomerValidator)
	validator.On("Validate", mock.Anything, int64(1), mock.Anything).Return(nil).Once()

	service := newService(store, validator, nil)
	_, err := service.RegisterOrder(context.Background(), validRequest())

	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.Storage))
	store.AssertExpectations(t)
}

func TestRegisterOrderRetriesTransientFault(t *testing.T) {
	transient := faults.NewStorage("persisting order header failed").
		WithCause(errors.New("deadlock detected"))

	failing := new(MockOrderStore)
	failing.On("Begin", mock.Anything).Return(nil).Once()
	failing.On("AddAuditEvent", mock.AnythingOfType("*models.AuditEvent")).Return(nil)
	failing.On("AddOrder", mock.AnythingOfType("*models.OrderHeader")).Return(nil).Once()
	failing.On("Flush", mock.Anything).Return(int64(0), transient).Once()
	failing.On("Rollback", mock.Anything).Return(nil).Once()
	failing.On("SaveAuditEvent", mock.Anything, mock.AnythingOfType("*models.AuditEvent")).Return(nil).Once()

	succeeding := new(MockOrderStore)
	expectSuccessPath(succeeding)

	stores := []repositories.OrderStore{failing, succeeding}
	factoryCalls := 0
	factory := func() repositories.OrderStore {
		store := stores[factoryCalls]
		factoryCalls++
		return store
	}

	validator := new(MockCustomerValidator)
	validator.On("Validate", mock.Anything, int64(1), mock.Anything).Return(nil).Twice()

	service := services.NewOrderService(factory, validator,
		repositories.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}, nil, nil)

	result, err := service.RegisterOrder(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, uint(1), result.OrderID)
	assert.Equal(t, 2, factoryCalls, "each attempt must run on a fresh store")
	failing.AssertExpectations(t)
	succeeding.AssertExpectations(t)
}

func TestRegisterOrderBusinessFailureNotRetried(t *testing.T) {
	store := new(MockOrderStore)
	store.On("Begin", mock.Anything).Return(nil).Once()
	store.On("AddAuditEvent", mock.AnythingOfType("*models.AuditEvent")).Return(nil)
	store.On("Rollback", mock.Anything).Return(nil).Once()
	store.On("SaveAuditEvent", mock.Anything, mock.AnythingOfType("*models.AuditEvent")).Return(nil).Once()

	factoryCalls := 0
	factory := func() repositories.OrderStore {
		factoryCalls++
		return store
	}

	validator := new(MockCustomerValidator)
	validator.On("Validate", mock.Anything, int64(1), mock.Anything).
		Return(faults.NewBusinessRule(faults.RuleTotalLimitExceeded, "over limit")).Once()

	service := services.NewOrderService(factory, validator,
		repositories.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, nil, nil)

	_, err := service.RegisterOrder(context.Background(), validRequest())

	require.Error(t, err)
	assert.Equal(t, 1, factoryCalls)
	validator.AssertExpectations(t)
}

func TestRegisterOrderCancelledDuringDirectoryCall(t *testing.T) {
	store := new(MockOrderStore)
	store.On("Begin", mock.Anything).Return(nil).Once()
	store.On("AddAuditEvent", mock.AnythingOfType("*models.AuditEvent")).Return(nil)
	store.On("Rollback", mock.Anything).Return(nil).Once()
	store.On("SaveAuditEvent", mock.Anything, mock.AnythingOfType("*models.AuditEvent")).Return(nil).Once()

	validator := new(MockCustomerValidator)
	validator.On("Validate", mock.Anything, int64(1), mock.Anything).
		Return(faults.NewCancelled(context.Canceled)).Once()

	service := newService(store, validator, nil)
	_, err := service.RegisterOrder(context.Background(), validRequest())

	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.Cancelled),
		"cancellation must surface distinctly, not as a generic failure")
	store.AssertCalled(t, "Rollback", mock.Anything)
	store.AssertExpectations(t)
}

func TestRegisterOrderPublishFailureDoesNotFailTheOrder(t *testing.T) {
	store := new(MockOrderStore)
	validator := new(MockCustomerValidator)
	publisher := new(MockEventPublisher)

	expectSuccessPath(store)
	validator.On("Validate", mock.Anything, int64(1), mock.Anything).Return(nil).Once()
	publisher.On("PublishOrderRegistered", mock.AnythingOfType("rabbitmq.OrderRegisteredEvent")).
		Return(errors.New("broker unavailable")).Once()

	service := newService(store, validator, publisher)
	result, err := service.RegisterOrder(context.Background(), validRequest())

	require.NoError(t, err)
	assert.NotNil(t, result)
	publisher.AssertExpectations(t)
}

func TestRegisterOrderAuditQueueFailureIsSwallowed(t *testing.T) {
	store := new(MockOrderStore)
	store.On("Begin", mock.Anything).Return(nil).Once()
	// Both best-effort audit writes fail; the workflow must not notice.
	store.On("AddAuditEvent", mock.AnythingOfType("*models.AuditEvent")).
		Return(faults.NewTransaction("adding an audit event requires an open transaction"))
	var captured *models.OrderHeader
	store.On("AddOrder", mock.AnythingOfType("*models.OrderHeader")).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*models.OrderHeader)
	}).Return(nil).Once()
	store.On("Flush", mock.Anything).Run(func(mock.Arguments) {
		captured.ID = 1
	}).Return(int64(3), nil).Once()
	store.On("Commit", mock.Anything).Return(nil).Once()

	validator := new(MockCustomerValidator)
	validator.On("Validate", mock.Anything, int64(1), mock.Anything).Return(nil).Once()

	service := newService(store, validator, nil)
	result, err := service.RegisterOrder(context.Background(), validRequest())

	require.NoError(t, err)
	assert.NotNil(t, result)
	store.AssertExpectations(t)
}
