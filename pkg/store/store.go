package store

import (
	"context"
	"time"

	"biblio/pkg/domain"
)

// BookFilter narrows catalog listings.
type BookFilter struct {
	Search     string // matches title, authors or ISBN
	Category   string
	ActiveOnly bool
	Offset     int
	Limit      int
}

// Store defines persistence for the catalog, loans, reservations and
// the loan history log. Each loan/reservation operation method runs as
// a single transaction spanning its precondition checks, the entity
// mutation, the inventory mutation and the history append; it either
// commits everything or returns one of the domain errors with no state
// change.
type Store interface {
	// catalog
	SaveBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]domain.Book, int64, error)
	SetBookActive(ctx context.Context, id string, active bool) error
	SetBookCover(ctx context.Context, id string, coverKey string) error
	DeleteBook(ctx context.Context, id string) error

	// inventory ledger
	BorrowCopy(ctx context.Context, bookID string) error
	ReturnCopy(ctx context.Context, bookID string) error

	// loan state machine
	CreateLoan(ctx context.Context, loan domain.Loan, entry domain.LoanHistory, maxActive int) (domain.Loan, error)
	ReturnLoan(ctx context.Context, loanID string, returnedAt time.Time, librarianNotes string, entry domain.LoanHistory) (domain.Loan, error)
	ExtendLoan(ctx context.Context, loanID string, extensionDays, maxExtensions int, entry domain.LoanHistory) (domain.Loan, error)
	MarkLoanLost(ctx context.Context, loanID string, entry domain.LoanHistory) (domain.Loan, error)
	GetLoan(ctx context.Context, id string) (domain.Loan, bool, error)
	SaveLoanStatus(ctx context.Context, id string, status domain.LoanStatus) error
	ListLoansByBorrower(ctx context.Context, borrowerID string) ([]domain.Loan, error)
	ListUnreturnedLoans(ctx context.Context) ([]domain.Loan, error)
	ListHistoryByLoan(ctx context.Context, loanID string) ([]domain.LoanHistory, error)

	// reviews
	SaveReview(ctx context.Context, rev domain.Review) (domain.Review, error)
	ListReviewsByBook(ctx context.Context, bookID string) ([]domain.Review, error)

	// reservation queue
	CreateReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error)
	GetReservation(ctx context.Context, id string) (domain.Reservation, bool, error)
	SetReservationStatus(ctx context.Context, id string, from []domain.ReservationStatus, to domain.ReservationStatus, notified bool) (domain.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string) ([]domain.Reservation, error)
	FindReservation(ctx context.Context, bookID, userID string, status domain.ReservationStatus) (domain.Reservation, bool, error)
	ExpireReservations(ctx context.Context, now time.Time) ([]domain.Reservation, error)
}
