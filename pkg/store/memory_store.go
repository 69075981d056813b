package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"biblio/pkg/domain"
)

// MemoryStore keeps everything in-process behind one mutex, which makes
// every operation trivially atomic. Used by tests and local dev runs
// without a database.
type MemoryStore struct {
	mu           sync.Mutex
	books        map[string]domain.Book
	loans        map[string]domain.Loan
	history      map[string][]domain.LoanHistory // keyed by loan ID
	reservations map[string]domain.Reservation
	reviews      map[string]domain.Review
	bookOrder    []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:        make(map[string]domain.Book),
		loans:        make(map[string]domain.Loan),
		history:      make(map[string][]domain.LoanHistory),
		reservations: make(map[string]domain.Reservation),
		reviews:      make(map[string]domain.Review),
	}
}

func (m *MemoryStore) SaveBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) ListBooks(_ context.Context, filter BookFilter) ([]domain.Book, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		if filter.ActiveOnly && !b.IsActive {
			continue
		}
		if filter.Category != "" && b.Category != filter.Category {
			continue
		}
		if search := strings.TrimSpace(filter.Search); search != "" {
			needle := strings.ToLower(search)
			if !strings.Contains(strings.ToLower(b.Title), needle) &&
				!strings.Contains(strings.ToLower(b.Authors), needle) &&
				!strings.Contains(strings.ToLower(b.ISBN), needle) {
				continue
			}
		}
		matched = append(matched, b)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []domain.Book{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) SetBookActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return domain.ErrBookNotFound
	}
	b.IsActive = active
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

func (m *MemoryStore) SetBookCover(_ context.Context, id string, coverKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return domain.ErrBookNotFound
	}
	b.CoverKey = coverKey
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

func (m *MemoryStore) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.BookID == id && l.ReturnedDate == nil {
			return domain.ErrBookHasActiveLoans
		}
	}
	for loanID, l := range m.loans {
		if l.BookID == id {
			delete(m.loans, loanID)
			delete(m.history, loanID)
		}
	}
	for resID, r := range m.reservations {
		if r.BookID == id {
			delete(m.reservations, resID)
		}
	}
	for revID, r := range m.reviews {
		if r.BookID == id {
			delete(m.reviews, revID)
		}
	}
	delete(m.books, id)
	filtered := m.bookOrder[:0]
	for _, existing := range m.bookOrder {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	m.bookOrder = filtered
	return nil
}

func (m *MemoryStore) BorrowCopy(_ context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.borrowCopyLocked(bookID)
}

func (m *MemoryStore) borrowCopyLocked(bookID string) error {
	b, ok := m.books[bookID]
	if !ok {
		return domain.ErrBookNotFound
	}
	if b.AvailableCopies <= 0 || !b.IsActive {
		return domain.ErrBookUnavailable
	}
	b.AvailableCopies--
	b.UpdatedAt = time.Now().UTC()
	m.books[bookID] = b
	return nil
}

func (m *MemoryStore) ReturnCopy(_ context.Context, bookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.returnCopyLocked(bookID)
}

func (m *MemoryStore) returnCopyLocked(bookID string) error {
	b, ok := m.books[bookID]
	if !ok {
		return domain.ErrBookNotFound
	}
	if b.AvailableCopies >= b.TotalCopies {
		return domain.ErrInventoryInconsistency
	}
	b.AvailableCopies++
	b.UpdatedAt = time.Now().UTC()
	m.books[bookID] = b
	return nil
}

func (m *MemoryStore) CreateLoan(_ context.Context, loan domain.Loan, entry domain.LoanHistory, maxActive int) (domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[loan.BookID]
	if !ok {
		return domain.Loan{}, domain.ErrBookNotFound
	}
	if !book.IsAvailable() {
		return domain.Loan{}, domain.ErrBookUnavailable
	}
	active := 0
	for _, l := range m.loans {
		if l.BorrowerID != loan.BorrowerID || l.ReturnedDate != nil {
			continue
		}
		if l.BookID == loan.BookID {
			return domain.Loan{}, domain.ErrDuplicateActiveLoan
		}
		active++
	}
	if maxActive > 0 && active >= maxActive {
		return domain.Loan{}, domain.ErrLoanLimitExceeded
	}
	if err := m.borrowCopyLocked(loan.BookID); err != nil {
		return domain.Loan{}, err
	}
	m.loans[loan.ID] = loan
	m.history[loan.ID] = append(m.history[loan.ID], entry)
	return loan, nil
}

func (m *MemoryStore) ReturnLoan(_ context.Context, loanID string, returnedAt time.Time, librarianNotes string, entry domain.LoanHistory) (domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[loanID]
	if !ok {
		return domain.Loan{}, domain.ErrLoanNotFound
	}
	if loan.ReturnedDate != nil {
		return domain.Loan{}, domain.ErrAlreadyReturned
	}
	if err := m.returnCopyLocked(loan.BookID); err != nil {
		return domain.Loan{}, err
	}
	returned := returnedAt.UTC()
	loan.ReturnedDate = &returned
	loan.Status = domain.LoanReturned
	if strings.TrimSpace(librarianNotes) != "" {
		loan.LibrarianNotes = strings.TrimSpace(librarianNotes)
	}
	m.loans[loanID] = loan
	m.history[loanID] = append(m.history[loanID], entry)
	return loan, nil
}

func (m *MemoryStore) ExtendLoan(_ context.Context, loanID string, extensionDays, maxExtensions int, entry domain.LoanHistory) (domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[loanID]
	if !ok {
		return domain.Loan{}, domain.ErrLoanNotFound
	}
	if loan.ReturnedDate != nil {
		return domain.Loan{}, domain.ErrAlreadyReturned
	}
	extensions := 0
	for _, h := range m.history[loanID] {
		if h.Action == domain.ActionExtended {
			extensions++
		}
	}
	if maxExtensions > 0 && extensions >= maxExtensions {
		return domain.Loan{}, domain.ErrExtensionLimitExceeded
	}
	loan.DueDate = loan.DueDate.AddDate(0, 0, extensionDays)
	loan.Status = domain.RecomputeStatus(loan, time.Now().UTC())
	m.loans[loanID] = loan
	m.history[loanID] = append(m.history[loanID], entry)
	return loan, nil
}

func (m *MemoryStore) MarkLoanLost(_ context.Context, loanID string, entry domain.LoanHistory) (domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[loanID]
	if !ok {
		return domain.Loan{}, domain.ErrLoanNotFound
	}
	if loan.ReturnedDate != nil || loan.Status == domain.LoanLost {
		return domain.Loan{}, domain.ErrLoanNotLostable
	}
	loan.Status = domain.LoanLost
	m.loans[loanID] = loan
	m.history[loanID] = append(m.history[loanID], entry)
	return loan, nil
}

func (m *MemoryStore) GetLoan(_ context.Context, id string) (domain.Loan, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[id]
	return l, ok, nil
}

func (m *MemoryStore) SaveLoanStatus(_ context.Context, id string, status domain.LoanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok || loan.ReturnedDate != nil || loan.Status == domain.LoanLost {
		return nil
	}
	loan.Status = status
	m.loans[id] = loan
	return nil
}

func (m *MemoryStore) ListLoansByBorrower(_ context.Context, borrowerID string) ([]domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loans := make([]domain.Loan, 0)
	for _, l := range m.loans {
		if l.BorrowerID == borrowerID {
			loans = append(loans, l)
		}
	}
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].LoanDate.After(loans[j].LoanDate)
	})
	return loans, nil
}

func (m *MemoryStore) ListUnreturnedLoans(_ context.Context) ([]domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loans := make([]domain.Loan, 0)
	for _, l := range m.loans {
		if l.ReturnedDate == nil {
			loans = append(loans, l)
		}
	}
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].DueDate.Before(loans[j].DueDate)
	})
	return loans, nil
}

func (m *MemoryStore) ListHistoryByLoan(_ context.Context, loanID string) ([]domain.LoanHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[loanID]
	out := make([]domain.LoanHistory, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *MemoryStore) SaveReview(_ context.Context, rev domain.Review) (domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.reviews {
		if existing.BookID == rev.BookID && existing.ReviewerID == rev.ReviewerID {
			existing.Rating = rev.Rating
			existing.Comment = rev.Comment
			existing.ReviewerName = rev.ReviewerName
			m.reviews[id] = existing
			return existing, nil
		}
	}
	m.reviews[rev.ID] = rev
	return rev, nil
}

func (m *MemoryStore) ListReviewsByBook(_ context.Context, bookID string) ([]domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reviews := make([]domain.Review, 0)
	for _, r := range m.reviews {
		if r.BookID == bookID {
			reviews = append(reviews, r)
		}
	}
	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
	})
	return reviews, nil
}

func (m *MemoryStore) CreateReservation(_ context.Context, res domain.Reservation) (domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.BookID == res.BookID && r.UserID == res.UserID && r.Status == domain.ReservationPending {
			return domain.Reservation{}, domain.ErrDuplicatePendingReservation
		}
	}
	m.reservations[res.ID] = res
	return res, nil
}

func (m *MemoryStore) GetReservation(_ context.Context, id string) (domain.Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	return r, ok, nil
}

func (m *MemoryStore) SetReservationStatus(_ context.Context, id string, from []domain.ReservationStatus, to domain.ReservationStatus, notified bool) (domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	allowed := false
	for _, status := range from {
		if r.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Reservation{}, domain.ErrInvalidReservationState
	}
	r.Status = to
	r.Notified = r.Notified || notified
	m.reservations[id] = r
	return r, nil
}

func (m *MemoryStore) ListReservationsByUser(_ context.Context, userID string) ([]domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reservations := make([]domain.Reservation, 0)
	for _, r := range m.reservations {
		if r.UserID == userID {
			reservations = append(reservations, r)
		}
	}
	sort.SliceStable(reservations, func(i, j int) bool {
		return reservations[i].ReservedDate.After(reservations[j].ReservedDate)
	})
	return reservations, nil
}

func (m *MemoryStore) FindReservation(_ context.Context, bookID, userID string, status domain.ReservationStatus) (domain.Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.BookID == bookID && r.UserID == userID && r.Status == status {
			return r, true, nil
		}
	}
	return domain.Reservation{}, false, nil
}

func (m *MemoryStore) ExpireReservations(_ context.Context, now time.Time) ([]domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := make([]domain.Reservation, 0)
	for id, r := range m.reservations {
		if (r.Status == domain.ReservationPending || r.Status == domain.ReservationAvailable) &&
			r.ExpiryDate.Before(now) {
			r.Status = domain.ReservationExpired
			m.reservations[id] = r
			expired = append(expired, r)
		}
	}
	return expired, nil
}
