package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing document, product, lot or user.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate lot or an invalid status transition.
	ErrConflict = errors.New("conflict")
	// ErrExpired indicates a lot whose expiry date lies before today.
	ErrExpired = errors.New("lot expired")
	// ErrForbidden indicates a missing permission or a stale document.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// InsufficientStockError reports how much stock a failed deduction or
// allocation needed versus what was available at the time of the check.
type InsufficientStockError struct {
	ProductID int64
	LotCode   string
	Needed    int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	if e.LotCode != "" {
		return fmt.Sprintf("insufficient stock in lot %s for product %d: need %d, have %d", e.LotCode, e.ProductID, e.Needed, e.Available)
	}
	return fmt.Sprintf("insufficient stock for product %d: need %d, have %d", e.ProductID, e.Needed, e.Available)
}

// IsInsufficientStock reports whether err wraps an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}
