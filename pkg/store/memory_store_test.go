package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"biblio/pkg/domain"
)

func seedBook(t *testing.T, s *MemoryStore, id string, total int) domain.Book {
	t.Helper()
	book := domain.Book{
		ID:              id,
		Title:           "The Count of Monte Cristo",
		ISBN:            "9780140449266-" + id,
		Authors:         "Alexandre Dumas",
		TotalCopies:     total,
		AvailableCopies: total,
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.SaveBook(context.Background(), book); err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return book
}

func testLoan(id, bookID, borrowerID string) domain.Loan {
	now := time.Now().UTC()
	return domain.Loan{
		ID:         id,
		BookID:     bookID,
		BorrowerID: borrowerID,
		LoanDate:   now,
		DueDate:    now.AddDate(0, 0, 14),
		Status:     domain.LoanActive,
	}
}

func testEntry(loanID string, action domain.HistoryAction) domain.LoanHistory {
	return domain.LoanHistory{
		ID:        loanID + "-" + string(action) + "-" + fmt.Sprint(time.Now().UnixNano()),
		LoanID:    loanID,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

func TestCreateLoanDecrementsInventory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)

	if _, err := s.CreateLoan(ctx, testLoan("l1", "b1", "u1"), testEntry("l1", domain.ActionCreated), 5); err != nil {
		t.Fatalf("create loan: %v", err)
	}
	book, _, _ := s.GetBook(ctx, "b1")
	if book.AvailableCopies != 0 {
		t.Fatalf("expected 0 available, got %d", book.AvailableCopies)
	}
	entries, _ := s.ListHistoryByLoan(ctx, "l1")
	if len(entries) != 1 || entries[0].Action != domain.ActionCreated {
		t.Fatalf("expected single created entry, got %+v", entries)
	}
}

func TestCreateLoanFailsWhenExhausted(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)

	if _, err := s.CreateLoan(ctx, testLoan("l1", "b1", "u1"), testEntry("l1", domain.ActionCreated), 5); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	_, err := s.CreateLoan(ctx, testLoan("l2", "b1", "u2"), testEntry("l2", domain.ActionCreated), 5)
	if !errors.Is(err, domain.ErrBookUnavailable) {
		t.Fatalf("expected ErrBookUnavailable, got %v", err)
	}
	book, _, _ := s.GetBook(ctx, "b1")
	if book.AvailableCopies != 0 {
		t.Fatalf("failed borrow must not change inventory, got %d", book.AvailableCopies)
	}
}

func TestCreateLoanRejectsDuplicateAndCap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		seedBook(t, s, fmt.Sprintf("b%d", i), 2)
	}

	if _, err := s.CreateLoan(ctx, testLoan("l0", "b0", "u1"), testEntry("l0", domain.ActionCreated), 5); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := s.CreateLoan(ctx, testLoan("dup", "b0", "u1"), testEntry("dup", domain.ActionCreated), 5); !errors.Is(err, domain.ErrDuplicateActiveLoan) {
		t.Fatalf("expected ErrDuplicateActiveLoan, got %v", err)
	}
	for i := 1; i < 5; i++ {
		id := fmt.Sprintf("l%d", i)
		if _, err := s.CreateLoan(ctx, testLoan(id, fmt.Sprintf("b%d", i), "u1"), testEntry(id, domain.ActionCreated), 5); err != nil {
			t.Fatalf("borrow %d: %v", i, err)
		}
	}
	if _, err := s.CreateLoan(ctx, testLoan("l5", "b5", "u1"), testEntry("l5", domain.ActionCreated), 5); !errors.Is(err, domain.ErrLoanLimitExceeded) {
		t.Fatalf("expected ErrLoanLimitExceeded on 6th loan, got %v", err)
	}
}

func TestReturnLoanRoundTripAndIdempotentFailure(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 3)

	if _, err := s.CreateLoan(ctx, testLoan("l1", "b1", "u1"), testEntry("l1", domain.ActionCreated), 5); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	loan, err := s.ReturnLoan(ctx, "l1", time.Now().UTC(), "shelf checked", testEntry("l1", domain.ActionReturned))
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if loan.Status != domain.LoanReturned || loan.ReturnedDate == nil {
		t.Fatalf("unexpected returned loan: %+v", loan)
	}
	book, _, _ := s.GetBook(ctx, "b1")
	if book.AvailableCopies != 3 {
		t.Fatalf("round trip must restore inventory, got %d", book.AvailableCopies)
	}
	if _, err := s.ReturnLoan(ctx, "l1", time.Now().UTC(), "", testEntry("l1", domain.ActionReturned)); !errors.Is(err, domain.ErrAlreadyReturned) {
		t.Fatalf("expected ErrAlreadyReturned, got %v", err)
	}
	book, _, _ = s.GetBook(ctx, "b1")
	if book.AvailableCopies != 3 {
		t.Fatalf("double return must not increment again, got %d", book.AvailableCopies)
	}
}

func TestReturnCopyGuardsAgainstOverflow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)

	if err := s.ReturnCopy(ctx, "b1"); !errors.Is(err, domain.ErrInventoryInconsistency) {
		t.Fatalf("expected ErrInventoryInconsistency, got %v", err)
	}
	book, _, _ := s.GetBook(ctx, "b1")
	if book.AvailableCopies != 1 || book.TotalCopies != 1 {
		t.Fatalf("inventory changed: %+v", book)
	}
}

func TestExtendLoanCapped(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)
	if _, err := s.CreateLoan(ctx, testLoan("l1", "b1", "u1"), testEntry("l1", domain.ActionCreated), 5); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	original, _, _ := s.GetLoan(ctx, "l1")

	first, err := s.ExtendLoan(ctx, "l1", 7, 2, testEntry("l1", domain.ActionExtended))
	if err != nil {
		t.Fatalf("first extension: %v", err)
	}
	if got := first.DueDate.Sub(original.DueDate); got != 7*24*time.Hour {
		t.Fatalf("expected +7 days, got %v", got)
	}
	second, err := s.ExtendLoan(ctx, "l1", 7, 2, testEntry("l1", domain.ActionExtended))
	if err != nil {
		t.Fatalf("second extension: %v", err)
	}
	if got := second.DueDate.Sub(original.DueDate); got != 14*24*time.Hour {
		t.Fatalf("expected +14 days total, got %v", got)
	}
	if _, err := s.ExtendLoan(ctx, "l1", 7, 2, testEntry("l1", domain.ActionExtended)); !errors.Is(err, domain.ErrExtensionLimitExceeded) {
		t.Fatalf("expected ErrExtensionLimitExceeded, got %v", err)
	}
}

func TestMarkLoanLostThenReturn(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)
	if _, err := s.CreateLoan(ctx, testLoan("l1", "b1", "u1"), testEntry("l1", domain.ActionCreated), 5); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	lost, err := s.MarkLoanLost(ctx, "l1", testEntry("l1", domain.ActionMarkedLost))
	if err != nil {
		t.Fatalf("mark lost: %v", err)
	}
	if lost.Status != domain.LoanLost {
		t.Fatalf("expected lost, got %q", lost.Status)
	}
	book, _, _ := s.GetBook(ctx, "b1")
	if book.AvailableCopies != 0 {
		t.Fatalf("lost must not touch inventory, got %d", book.AvailableCopies)
	}
	if _, err := s.MarkLoanLost(ctx, "l1", testEntry("l1", domain.ActionMarkedLost)); !errors.Is(err, domain.ErrLoanNotLostable) {
		t.Fatalf("expected ErrLoanNotLostable, got %v", err)
	}

	// A lost book that turns up can still be returned, once.
	returned, err := s.ReturnLoan(ctx, "l1", time.Now().UTC(), "found behind a radiator", testEntry("l1", domain.ActionReturned))
	if err != nil {
		t.Fatalf("return lost loan: %v", err)
	}
	if returned.Status != domain.LoanReturned {
		t.Fatalf("expected returned, got %q", returned.Status)
	}
	book, _, _ = s.GetBook(ctx, "b1")
	if book.AvailableCopies != 1 {
		t.Fatalf("expected copy back on shelf, got %d", book.AvailableCopies)
	}
}

func TestCreateReservationUniquePending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)
	now := time.Now().UTC()

	res := domain.Reservation{
		ID: "r1", BookID: "b1", UserID: "u1",
		ReservedDate: now, ExpiryDate: now.AddDate(0, 0, 7),
		Status: domain.ReservationPending,
	}
	if _, err := s.CreateReservation(ctx, res); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	res.ID = "r2"
	if _, err := s.CreateReservation(ctx, res); !errors.Is(err, domain.ErrDuplicatePendingReservation) {
		t.Fatalf("expected ErrDuplicatePendingReservation, got %v", err)
	}
}

func TestSetReservationStatusTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := s.CreateReservation(ctx, domain.Reservation{
		ID: "r1", BookID: "b1", UserID: "u1",
		ReservedDate: now, ExpiryDate: now.AddDate(0, 0, 7),
		Status: domain.ReservationPending,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	available, err := s.SetReservationStatus(ctx, "r1",
		[]domain.ReservationStatus{domain.ReservationPending}, domain.ReservationAvailable, true)
	if err != nil {
		t.Fatalf("mark available: %v", err)
	}
	if available.Status != domain.ReservationAvailable || !available.Notified {
		t.Fatalf("unexpected reservation: %+v", available)
	}
	if _, err := s.SetReservationStatus(ctx, "r1",
		[]domain.ReservationStatus{domain.ReservationPending}, domain.ReservationAvailable, false); !errors.Is(err, domain.ErrInvalidReservationState) {
		t.Fatalf("expected ErrInvalidReservationState, got %v", err)
	}
}

func TestExpireReservations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	for i, expiry := range []time.Time{now.AddDate(0, 0, -1), now.AddDate(0, 0, 3)} {
		if _, err := s.CreateReservation(ctx, domain.Reservation{
			ID: fmt.Sprintf("r%d", i), BookID: fmt.Sprintf("b%d", i), UserID: "u1",
			ReservedDate: now.AddDate(0, 0, -8), ExpiryDate: expiry,
			Status: domain.ReservationPending,
		}); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	expired, err := s.ExpireReservations(ctx, now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "r0" {
		t.Fatalf("expected r0 expired, got %+v", expired)
	}
	r0, _, _ := s.GetReservation(ctx, "r0")
	if r0.Status != domain.ReservationExpired {
		t.Fatalf("expected expired, got %q", r0.Status)
	}
	r1, _, _ := s.GetReservation(ctx, "r1")
	if r1.Status != domain.ReservationPending {
		t.Fatalf("unexpired reservation changed: %q", r1.Status)
	}
}

func TestConcurrentBorrowLastCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)

	const attempts = 8
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func(n int) {
			id := fmt.Sprintf("l%d", n)
			_, err := s.CreateLoan(ctx, testLoan(id, "b1", fmt.Sprintf("u%d", n)), testEntry(id, domain.ActionCreated), 5)
			errs <- err
		}(i)
	}
	var wins, unavailable int
	for i := 0; i < attempts; i++ {
		err := <-errs
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrBookUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || unavailable != attempts-1 {
		t.Fatalf("expected exactly one winner, got %d wins / %d unavailable", wins, unavailable)
	}
	book, _, _ := s.GetBook(ctx, "b1")
	if book.AvailableCopies != 0 {
		t.Fatalf("expected 0 copies, got %d", book.AvailableCopies)
	}
}

func TestSaveReviewReplacesPerReviewer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)

	first := domain.Review{
		ID: "r1", BookID: "b1", ReviewerID: "u1", ReviewerName: "Ada",
		Rating: 3, Comment: "slow start", CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	if _, err := s.SaveReview(ctx, first); err != nil {
		t.Fatalf("save review: %v", err)
	}
	updated, err := s.SaveReview(ctx, domain.Review{
		ID: "r2", BookID: "b1", ReviewerID: "u1", ReviewerName: "Ada",
		Rating: 5, Comment: "grew on me", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("save second review: %v", err)
	}
	if updated.ID != "r1" {
		t.Fatalf("expected the original review row to survive, got id %q", updated.ID)
	}
	if !updated.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("review date must not move on update")
	}
	if updated.Rating != 5 || updated.Comment != "grew on me" {
		t.Fatalf("rating and comment should update, got %+v", updated)
	}

	reviews, err := s.ListReviewsByBook(ctx, "b1")
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(reviews) != 1 {
		t.Fatalf("expected one review per reviewer, got %d", len(reviews))
	}
}

func TestListReviewsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)

	base := time.Now().UTC()
	for i, reviewer := range []string{"u1", "u2", "u3"} {
		_, err := s.SaveReview(ctx, domain.Review{
			ID: "r-" + reviewer, BookID: "b1", ReviewerID: reviewer,
			Rating: i + 1, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("save review %s: %v", reviewer, err)
		}
	}

	reviews, err := s.ListReviewsByBook(ctx, "b1")
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(reviews) != 3 {
		t.Fatalf("expected 3 reviews, got %d", len(reviews))
	}
	if reviews[0].ReviewerID != "u3" || reviews[2].ReviewerID != "u1" {
		t.Fatalf("expected newest first, got %q..%q", reviews[0].ReviewerID, reviews[2].ReviewerID)
	}
}

func TestDeleteBookRemovesReviews(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", 1)

	if _, err := s.SaveReview(ctx, domain.Review{
		ID: "r1", BookID: "b1", ReviewerID: "u1", Rating: 4, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("save review: %v", err)
	}
	if err := s.DeleteBook(ctx, "b1"); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	reviews, err := s.ListReviewsByBook(ctx, "b1")
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(reviews) != 0 {
		t.Fatalf("reviews must go with the book, got %d", len(reviews))
	}
}
