package domain

import "errors"

// Business-rule violations. Every core operation fails with exactly one
// of these and leaves no partial state behind; anything else bubbling
// out of an operation is an infrastructure failure.
var (
	// ErrBookUnavailable is returned when a borrow is attempted on a
	// title with no available copies or one that is inactive.
	ErrBookUnavailable = errors.New("book is not available for loan")

	// ErrDuplicateActiveLoan is returned when the borrower already
	// holds an unreturned loan of this title.
	ErrDuplicateActiveLoan = errors.New("borrower already has an active loan for this book")

	// ErrLoanLimitExceeded is returned when the borrower is at the
	// concurrent-loan cap.
	ErrLoanLimitExceeded = errors.New("concurrent loan limit reached")

	// ErrAlreadyReturned is returned when a return or extension is
	// attempted on a loan whose returned date is already set.
	ErrAlreadyReturned = errors.New("loan has already been returned")

	// ErrExtensionLimitExceeded is returned when a loan has been
	// extended the maximum number of times.
	ErrExtensionLimitExceeded = errors.New("extension limit reached")

	// ErrReservationNotNeeded is returned when reserving a title that
	// can be borrowed directly.
	ErrReservationNotNeeded = errors.New("book is available, borrow it directly")

	// ErrDuplicatePendingReservation is returned when the user already
	// holds a pending reservation for this book.
	ErrDuplicatePendingReservation = errors.New("a pending reservation for this book already exists")

	// ErrInventoryInconsistency is returned when a return would push
	// available copies above total copies. Unreachable with correct
	// callers.
	ErrInventoryInconsistency = errors.New("available copies would exceed total copies")

	ErrBookNotFound        = errors.New("book not found")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrLoanNotLostable is returned when marking lost a loan that is
	// already returned or already lost.
	ErrLoanNotLostable = errors.New("loan cannot be marked lost")

	// ErrInvalidReservationState is returned when an administrative
	// reservation transition starts from the wrong status.
	ErrInvalidReservationState = errors.New("reservation is not in the required state")

	// ErrBookHasActiveLoans blocks catalog deletion while copies are
	// still out.
	ErrBookHasActiveLoans = errors.New("book still has unreturned loans")

	// ErrInvalidRating is returned when a review rating falls outside
	// the 1..5 scale.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)
