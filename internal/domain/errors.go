package domain

import "fmt"

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

type SaleNotFoundError struct {
	SaleID string
}

func (e *SaleNotFoundError) Error() string {
	return fmt.Sprintf("sale %s not found", e.SaleID)
}

type CustomerNotFoundError struct {
	CustomerID string
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %s not found", e.CustomerID)
}

type OverReturnError struct {
	ProductID     string
	Requested     int
	MaxReturnable int
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("cannot return %d of product %s: max returnable %d", e.Requested, e.ProductID, e.MaxReturnable)
}

// PersistenceError wraps a store or network failure. It is surfaced verbatim
// to the caller; the core never retries.
type PersistenceError struct {
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %v", e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
