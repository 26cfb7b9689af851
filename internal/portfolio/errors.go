package portfolio

import "errors"

// Error kinds returned by the engine. All are recoverable: the caller
// resubmits with corrected parameters or a fresh quote. Callers branch
// with errors.Is; the HTTP layer maps kinds to status codes.
var (
	// ErrInvalidInput marks non-positive shares/prices or a missing
	// ticker. Rejected before any state is touched.
	ErrInvalidInput = errors.New("portfolio: invalid input")

	// ErrInsufficientFunds marks a cash or margin shortfall.
	ErrInsufficientFunds = errors.New("portfolio: insufficient funds")

	// ErrInsufficientPosition marks an attempt to close more shares
	// than are held.
	ErrInsufficientPosition = errors.New("portfolio: insufficient position")

	// ErrOrderNotFound marks an unknown order ID.
	ErrOrderNotFound = errors.New("portfolio: order not found")
)
