package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Sentinels for errors.Is. Every checkout failure matches exactly one of
// ErrInvalidInput, ErrStockConflict or ErrTransactionFailure.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrStockConflict      = errors.New("stock conflict")
	ErrTransactionFailure = errors.New("transaction failure")

	ErrRequestInProgress = errors.New("request with this idempotency key is in progress")
	ErrOrderNotFound     = errors.New("order not found")
)

type InvalidInputError struct {
	Details []string
}

func NewInvalidInput(details ...string) *InvalidInputError {
	return &InvalidInputError{Details: details}
}

func (e *InvalidInputError) Error() string {
	if len(e.Details) == 0 {
		return ErrInvalidInput.Error()
	}
	return ErrInvalidInput.Error() + ": " + strings.Join(e.Details, "; ")
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// StockConflictError lists every product that is inactive, missing, or short on
// stock for the requested quantity.
type StockConflictError struct {
	UnavailableProductIDs []int64
}

// NewStockConflict deduplicates and sorts ids.
func NewStockConflict(ids []int64) *StockConflictError {
	out := slices.Clone(ids)
	slices.Sort(out)
	return &StockConflictError{UnavailableProductIDs: slices.Compact(out)}
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("%s: unavailable products %v", ErrStockConflict, e.UnavailableProductIDs)
}

func (e *StockConflictError) Is(target error) bool { return target == ErrStockConflict }

// TransactionFailureError wraps a persistence failure. Op names the step that failed.
type TransactionFailureError struct {
	Op  string
	Err error
}

func NewTransactionFailure(op string, err error) *TransactionFailureError {
	return &TransactionFailureError{Op: op, Err: err}
}

func (e *TransactionFailureError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransactionFailure, e.Op, e.Err)
}

func (e *TransactionFailureError) Is(target error) bool { return target == ErrTransactionFailure }

func (e *TransactionFailureError) Unwrap() error { return e.Err }
