package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderHeader is the top-level persisted record for one customer order.
// Immutable once committed; there is no update path in this workflow.
type OrderHeader struct {
	ID          uint            `json:"id" gorm:"primaryKey"`
	OrderNumber string          `json:"order_number" gorm:"size:36;uniqueIndex"`
	CustomerID  int64           `json:"customer_id" gorm:"not null"`
	CreatedAt   time.Time       `json:"created_at"`
	Total       decimal.Decimal `json:"total" gorm:"type:decimal(18,2)"`
	SubmittedBy string          `json:"submitted_by" gorm:"size:100"`
	Lines       []OrderLine     `json:"lines" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// OrderLine is one product/quantity/price entry belonging to an order header.
// Its lifetime is bound to the header via cascade delete.
type OrderLine struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	OrderID   uint            `json:"order_id" gorm:"index;not null"`
	ProductID int64           `json:"product_id" gorm:"not null"`
	Quantity  int             `json:"quantity" gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:decimal(18,2)"`
}

// OrderLineRequest is one position of an inbound order-creation command.
// Unit price bounds are enforced in the service because validator tags cannot
// express decimal ranges.
type OrderLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int             `json:"quantity" validate:"required,gte=1,lte=10000"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"-"`
}

// OrderRequest is the inbound order-creation command. Transient, never
// persisted as-is.
type OrderRequest struct {
	CustomerID  int64              `json:"customer_id" validate:"required,gt=0"`
	SubmittedBy string             `json:"submitted_by" validate:"required,min=3,max=100"`
	Items       []OrderLineRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

// OrderResult is returned to the HTTP layer after a successful registration.
type OrderResult struct {
	OrderID     uint            `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	CustomerID  int64           `json:"customer_id"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
	LineCount   int             `json:"line_count"`
}
