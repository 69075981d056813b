package app

import (
	"context"
	"strconv"
	"strings"

	"biblio/internal/util"
	"biblio/pkg/domain"
	"biblio/pkg/events"
)

// LoanOverview partitions a borrower's loans the way the "my loans"
// page presents them.
type LoanOverview struct {
	Active   []domain.Loan `json:"active"`
	Overdue  []domain.Loan `json:"overdue"`
	Returned []domain.Loan `json:"returned"`
}

// BorrowBook checks out one copy of a book to the user. Availability,
// the duplicate-loan rule and the concurrent-loan cap are enforced in
// the same transaction that decrements inventory and appends history.
func (a *App) BorrowBook(ctx context.Context, user domain.User, bookID, notes string) (domain.Loan, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domain.Loan{}, domain.ErrBookNotFound
	}
	now := a.now()
	loan := domain.Loan{
		ID:           util.NewID(),
		BookID:       bookID,
		BorrowerID:   user.ID,
		BorrowerName: user.Name,
		LoanDate:     now,
		DueDate:      now.AddDate(0, 0, a.policy.LoanDurationDays),
		Status:       domain.LoanActive,
		Notes:        strings.TrimSpace(notes),
		CreatedBy:    user.ID,
	}
	entry := domain.LoanHistory{
		ID:              util.NewID(),
		LoanID:          loan.ID,
		Action:          domain.ActionCreated,
		PerformedBy:     user.ID,
		PerformedByName: user.Name,
		Timestamp:       now,
	}
	loan, err := a.store.CreateLoan(ctx, loan, entry, a.policy.MaxConcurrentLoans)
	if err != nil {
		return domain.Loan{}, err
	}
	// A held copy picked up by the reserving user closes out their
	// reservation. The loan has already committed, so failures here
	// leave the reservation available; log them so staff can see it.
	if res, ok, err := a.store.FindReservation(ctx, bookID, user.ID, domain.ReservationAvailable); err != nil {
		util.LoggerFromContext(ctx).Warn("reservation lookup failed", "book_id", bookID, "user_id", user.ID, "err", err)
	} else if ok {
		if _, err := a.store.SetReservationStatus(ctx, res.ID,
			[]domain.ReservationStatus{domain.ReservationAvailable}, domain.ReservationFulfilled, false); err != nil {
			util.LoggerFromContext(ctx).Warn("fulfill reservation failed", "reservation_id", res.ID, "book_id", bookID, "err", err)
		} else {
			a.publish(ctx, events.Event{Type: events.TypeReservationFulfilled, BookID: bookID, UserID: user.ID, ResID: res.ID})
		}
	}
	a.publish(ctx, events.Event{Type: events.TypeLoanCreated, BookID: bookID, UserID: user.ID, LoanID: loan.ID})
	return loan, nil
}

// ReturnLoan closes a loan and puts the copy back. Returning twice
// fails with ErrAlreadyReturned; inventory is incremented exactly once.
// A lost loan that resurfaces may still be returned this way.
func (a *App) ReturnLoan(ctx context.Context, actor domain.User, loanID, notes string) (domain.Loan, error) {
	now := a.now()
	entry := domain.LoanHistory{
		ID:              util.NewID(),
		LoanID:          loanID,
		Action:          domain.ActionReturned,
		PerformedBy:     actor.ID,
		PerformedByName: actor.Name,
		Timestamp:       now,
		Notes:           strings.TrimSpace(notes),
	}
	loan, err := a.store.ReturnLoan(ctx, loanID, now, notes, entry)
	if err != nil {
		return domain.Loan{}, err
	}
	a.publish(ctx, events.Event{Type: events.TypeLoanReturned, BookID: loan.BookID, UserID: loan.BorrowerID, LoanID: loan.ID})
	return loan, nil
}

// ExtendLoan pushes the due date out by the policy increment, at most
// MaxExtensions times over the life of the loan.
func (a *App) ExtendLoan(ctx context.Context, actor domain.User, loanID string) (domain.Loan, error) {
	entry := domain.LoanHistory{
		ID:              util.NewID(),
		LoanID:          loanID,
		Action:          domain.ActionExtended,
		PerformedBy:     actor.ID,
		PerformedByName: actor.Name,
		Timestamp:       a.now(),
		Detail:          map[string]string{"extensionDays": strconv.Itoa(a.policy.ExtensionDays)},
	}
	loan, err := a.store.ExtendLoan(ctx, loanID, a.policy.ExtensionDays, a.policy.MaxExtensions, entry)
	if err != nil {
		return domain.Loan{}, err
	}
	a.publish(ctx, events.Event{Type: events.TypeLoanExtended, BookID: loan.BookID, UserID: loan.BorrowerID, LoanID: loan.ID})
	return loan, nil
}

// MarkLoanLost is the explicit staff transition to lost. Inventory is
// left alone; the copy is not back on the shelf.
func (a *App) MarkLoanLost(ctx context.Context, staff domain.User, loanID, notes string) (domain.Loan, error) {
	entry := domain.LoanHistory{
		ID:              util.NewID(),
		LoanID:          loanID,
		Action:          domain.ActionMarkedLost,
		PerformedBy:     staff.ID,
		PerformedByName: staff.Name,
		Timestamp:       a.now(),
		Notes:           strings.TrimSpace(notes),
	}
	loan, err := a.store.MarkLoanLost(ctx, loanID, entry)
	if err != nil {
		return domain.Loan{}, err
	}
	a.publish(ctx, events.Event{Type: events.TypeLoanLost, BookID: loan.BookID, UserID: loan.BorrowerID, LoanID: loan.ID})
	return loan, nil
}

// GetLoan returns a loan with its status freshly derived. A flip from
// active to overdue is persisted as a side effect.
func (a *App) GetLoan(ctx context.Context, id string) (domain.Loan, bool, error) {
	loan, ok, err := a.store.GetLoan(ctx, id)
	if err != nil || !ok {
		return domain.Loan{}, ok, err
	}
	return a.refreshStatus(ctx, loan), true, nil
}

// MyLoans returns the borrower's loans partitioned for display.
func (a *App) MyLoans(ctx context.Context, user domain.User) (LoanOverview, error) {
	loans, err := a.store.ListLoansByBorrower(ctx, user.ID)
	if err != nil {
		return LoanOverview{}, err
	}
	overview := LoanOverview{
		Active:   []domain.Loan{},
		Overdue:  []domain.Loan{},
		Returned: []domain.Loan{},
	}
	for _, loan := range loans {
		loan = a.refreshStatus(ctx, loan)
		switch loan.Status {
		case domain.LoanReturned:
			overview.Returned = append(overview.Returned, loan)
		case domain.LoanOverdue:
			overview.Overdue = append(overview.Overdue, loan)
		default:
			overview.Active = append(overview.Active, loan)
		}
	}
	return overview, nil
}

// OverdueLoans lists every unreturned loan past its due date.
func (a *App) OverdueLoans(ctx context.Context) ([]domain.Loan, error) {
	loans, err := a.store.ListUnreturnedLoans(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now()
	overdue := make([]domain.Loan, 0)
	for _, loan := range loans {
		if !loan.IsOverdue(now) {
			continue
		}
		overdue = append(overdue, a.refreshStatus(ctx, loan))
	}
	return overdue, nil
}

// UnreturnedLoans lists every loan still out, soonest due first.
func (a *App) UnreturnedLoans(ctx context.Context) ([]domain.Loan, error) {
	loans, err := a.store.ListUnreturnedLoans(ctx)
	if err != nil {
		return nil, err
	}
	for i, loan := range loans {
		loans[i] = a.refreshStatus(ctx, loan)
	}
	return loans, nil
}

// LoanHistoryEntries returns the audit trail of one loan, oldest first.
func (a *App) LoanHistoryEntries(ctx context.Context, loanID string) ([]domain.LoanHistory, error) {
	if _, ok, err := a.store.GetLoan(ctx, loanID); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.ErrLoanNotFound
	}
	return a.store.ListHistoryByLoan(ctx, loanID)
}

// refreshStatus recomputes the derived status and persists the
// active/overdue flip. Returned and lost rows never change here.
func (a *App) refreshStatus(ctx context.Context, loan domain.Loan) domain.Loan {
	status := domain.RecomputeStatus(loan, a.now())
	if status != loan.Status {
		if err := a.store.SaveLoanStatus(ctx, loan.ID, status); err != nil {
			util.LoggerFromContext(ctx).Warn("persist loan status failed", "loan_id", loan.ID, "err", err)
		}
		loan.Status = status
	}
	return loan
}
