package app

import (
	"context"
	"strings"
	"time"

	"biblio/internal/util"
	"biblio/pkg/domain"
	"biblio/pkg/events"
)

// ReserveBook queues the user for a title that is fully checked out.
// Reserving an available title fails: borrowing it is the right move.
func (a *App) ReserveBook(ctx context.Context, user domain.User, bookID string) (domain.Reservation, error) {
	bookID = strings.TrimSpace(bookID)
	book, ok, err := a.store.GetBook(ctx, bookID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !ok {
		return domain.Reservation{}, domain.ErrBookNotFound
	}
	if book.IsAvailable() {
		return domain.Reservation{}, domain.ErrReservationNotNeeded
	}
	now := a.now()
	res := domain.Reservation{
		ID:           util.NewID(),
		BookID:       bookID,
		UserID:       user.ID,
		UserName:     user.Name,
		ReservedDate: now,
		ExpiryDate:   now.AddDate(0, 0, a.policy.ReservationExpiryDays),
		Status:       domain.ReservationPending,
	}
	res, err = a.store.CreateReservation(ctx, res)
	if err != nil {
		return domain.Reservation{}, err
	}
	a.publish(ctx, events.Event{Type: events.TypeReservationCreated, BookID: bookID, UserID: user.ID, ResID: res.ID})
	return res, nil
}

// CancelReservation withdraws a pending or held reservation. A user
// can only cancel their own; staff can cancel any.
func (a *App) CancelReservation(ctx context.Context, actor domain.User, reservationID string) (domain.Reservation, error) {
	res, ok, err := a.store.GetReservation(ctx, reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !ok || (!actor.Staff && res.UserID != actor.ID) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	res, err = a.store.SetReservationStatus(ctx, reservationID,
		[]domain.ReservationStatus{domain.ReservationPending, domain.ReservationAvailable},
		domain.ReservationCancelled, false)
	if err != nil {
		return domain.Reservation{}, err
	}
	a.publish(ctx, events.Event{Type: events.TypeReservationCancelled, BookID: res.BookID, UserID: res.UserID, ResID: res.ID})
	return res, nil
}

// MarkReservationAvailable is the explicit staff step that tells the
// next reader their copy is being held. There is no automatic matcher;
// staff decide when a returned copy goes to a reservation.
func (a *App) MarkReservationAvailable(ctx context.Context, staff domain.User, reservationID string) (domain.Reservation, error) {
	res, err := a.store.SetReservationStatus(ctx, reservationID,
		[]domain.ReservationStatus{domain.ReservationPending},
		domain.ReservationAvailable, true)
	if err != nil {
		return domain.Reservation{}, err
	}
	a.publish(ctx, events.Event{Type: events.TypeReservationAvailable, BookID: res.BookID, UserID: res.UserID, ResID: res.ID})
	return res, nil
}

// FulfillReservation closes out a held reservation, normally because
// the reserving user picked the copy up over the counter.
func (a *App) FulfillReservation(ctx context.Context, staff domain.User, reservationID string) (domain.Reservation, error) {
	res, err := a.store.SetReservationStatus(ctx, reservationID,
		[]domain.ReservationStatus{domain.ReservationAvailable},
		domain.ReservationFulfilled, false)
	if err != nil {
		return domain.Reservation{}, err
	}
	a.publish(ctx, events.Event{Type: events.TypeReservationFulfilled, BookID: res.BookID, UserID: res.UserID, ResID: res.ID})
	return res, nil
}

// ExpireReservations is the batch sweep over pending and held
// reservations past their expiry date. Returns how many expired.
func (a *App) ExpireReservations(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = a.now()
	}
	expired, err := a.store.ExpireReservations(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, res := range expired {
		a.publish(ctx, events.Event{Type: events.TypeReservationExpired, BookID: res.BookID, UserID: res.UserID, ResID: res.ID})
	}
	return len(expired), nil
}

// MyReservations lists the user's reservations, newest first.
func (a *App) MyReservations(ctx context.Context, user domain.User) ([]domain.Reservation, error) {
	return a.store.ListReservationsByUser(ctx, user.ID)
}
