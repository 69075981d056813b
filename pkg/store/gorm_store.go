package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"biblio/pkg/domain"
)

const migrateLockID int64 = 52105210

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&BookModel{}, &LoanModel{}, &LoanHistoryModel{}, &ReservationModel{}, &ReviewModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM loan_history_models h
				WHERE NOT EXISTS (SELECT 1 FROM loan_models l WHERE l.id = h.loan_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'loan_history_models'
					AND constraint_name = 'loan_history_models_loan_id_fkey'
				) THEN
					ALTER TABLE loan_history_models
					ADD CONSTRAINT loan_history_models_loan_id_fkey
					FOREIGN KEY (loan_id) REFERENCES loan_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'loan_models'
					AND constraint_name = 'loan_models_book_id_fkey'
				) THEN
					ALTER TABLE loan_models
					ADD CONSTRAINT loan_models_book_id_fkey
					FOREIGN KEY (book_id) REFERENCES book_models(id);
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "subtitle", "isbn", "authors", "category", "summary",
			"language", "pages", "publication_year", "total_copies",
			"available_copies", "is_active", "updated_at",
		}),
	}).Create(&model).Error
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns a page of books plus the total match count.
func (s *GormStore) ListBooks(ctx context.Context, filter BookFilter) ([]domain.Book, int64, error) {
	query := s.db.WithContext(ctx).Model(&BookModel{})
	if filter.ActiveOnly {
		query = query.Where("is_active")
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("title ILIKE ? OR authors ILIKE ? OR isbn ILIKE ?", like, like, like)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = query.Order("created_at DESC")
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var models []BookModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	books := make([]domain.Book, 0, len(models))
	for _, m := range models {
		books = append(books, bookFromModel(m))
	}
	return books, total, nil
}

// SetBookActive toggles whether a book can be borrowed.
func (s *GormStore) SetBookActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&BookModel{}).Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrBookNotFound
	}
	return nil
}

// SetBookCover records the object-storage key of the cover image.
func (s *GormStore) SetBookCover(ctx context.Context, id string, coverKey string) error {
	res := s.db.WithContext(ctx).Model(&BookModel{}).Where("id = ?", id).
		Updates(map[string]any{"cover_key": coverKey, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrBookNotFound
	}
	return nil
}

// DeleteBook removes a book with its loans and reservations. History
// entries go with their loans via the FK cascade. Fails while any loan
// is unreturned.
func (s *GormStore) DeleteBook(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&LoanModel{}).
			Where("book_id = ? AND returned_date IS NULL", id).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return domain.ErrBookHasActiveLoans
		}
		if err := tx.Delete(&ReservationModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ReviewModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&LoanModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// BorrowCopy atomically decrements available copies, failing when none
// are left or the book is inactive. The conditional UPDATE is the
// serialization point for concurrent borrows of the last copy.
func (s *GormStore) BorrowCopy(ctx context.Context, bookID string) error {
	return s.borrowCopy(s.db.WithContext(ctx), bookID)
}

func (s *GormStore) borrowCopy(tx *gorm.DB, bookID string) error {
	res := tx.Model(&BookModel{}).
		Where("id = ? AND available_copies > 0 AND is_active", bookID).
		Updates(map[string]any{
			"available_copies": gorm.Expr("available_copies - 1"),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.classifyBookMiss(tx, bookID, domain.ErrBookUnavailable)
	}
	return nil
}

// ReturnCopy atomically increments available copies, refusing to go
// above total copies.
func (s *GormStore) ReturnCopy(ctx context.Context, bookID string) error {
	return s.returnCopy(s.db.WithContext(ctx), bookID)
}

func (s *GormStore) returnCopy(tx *gorm.DB, bookID string) error {
	res := tx.Model(&BookModel{}).
		Where("id = ? AND available_copies < total_copies", bookID).
		Updates(map[string]any{
			"available_copies": gorm.Expr("available_copies + 1"),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.classifyBookMiss(tx, bookID, domain.ErrInventoryInconsistency)
	}
	return nil
}

func (s *GormStore) classifyBookMiss(tx *gorm.DB, bookID string, onExists error) error {
	var count int64
	if err := tx.Model(&BookModel{}).Where("id = ?", bookID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrBookNotFound
	}
	return onExists
}

// CreateLoan runs the borrow operation: availability, duplicate-loan
// and loan-cap checks, the inventory decrement and the history append,
// all in one transaction. The book row is locked for the duration so
// the precondition checks stay valid through commit.
func (s *GormStore) CreateLoan(ctx context.Context, loan domain.Loan, entry domain.LoanHistory, maxActive int) (domain.Loan, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var book BookModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&book, "id = ?", loan.BookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrBookNotFound
			}
			return err
		}
		if book.AvailableCopies <= 0 || !book.IsActive {
			return domain.ErrBookUnavailable
		}
		var dup int64
		if err := tx.Model(&LoanModel{}).
			Where("book_id = ? AND borrower_id = ? AND returned_date IS NULL", loan.BookID, loan.BorrowerID).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return domain.ErrDuplicateActiveLoan
		}
		var active int64
		if err := tx.Model(&LoanModel{}).
			Where("borrower_id = ? AND returned_date IS NULL", loan.BorrowerID).
			Count(&active).Error; err != nil {
			return err
		}
		if maxActive > 0 && active >= int64(maxActive) {
			return domain.ErrLoanLimitExceeded
		}
		if err := s.borrowCopy(tx, loan.BookID); err != nil {
			return err
		}
		model := loanToModel(loan)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return appendHistory(tx, entry)
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return loan, nil
}

// ReturnLoan closes out a loan and puts the copy back on the shelf.
// A second return attempt fails with ErrAlreadyReturned and never
// increments inventory again.
func (s *GormStore) ReturnLoan(ctx context.Context, loanID string, returnedAt time.Time, librarianNotes string, entry domain.LoanHistory) (domain.Loan, error) {
	var result domain.Loan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model LoanModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", loanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrLoanNotFound
			}
			return err
		}
		if model.ReturnedDate != nil {
			return domain.ErrAlreadyReturned
		}
		updates := map[string]any{
			"returned_date": returnedAt.UTC(),
			"status":        string(domain.LoanReturned),
		}
		if strings.TrimSpace(librarianNotes) != "" {
			updates["librarian_notes"] = strings.TrimSpace(librarianNotes)
		}
		if err := tx.Model(&LoanModel{}).Where("id = ?", loanID).Updates(updates).Error; err != nil {
			return err
		}
		if err := s.returnCopy(tx, model.BookID); err != nil {
			return err
		}
		if err := appendHistory(tx, entry); err != nil {
			return err
		}
		returned := returnedAt.UTC()
		model.ReturnedDate = &returned
		model.Status = string(domain.LoanReturned)
		if strings.TrimSpace(librarianNotes) != "" {
			model.LibrarianNotes = strings.TrimSpace(librarianNotes)
		}
		result = loanFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return result, nil
}

// ExtendLoan pushes the due date out once more, capped by the count of
// prior "extended" history entries.
func (s *GormStore) ExtendLoan(ctx context.Context, loanID string, extensionDays, maxExtensions int, entry domain.LoanHistory) (domain.Loan, error) {
	var result domain.Loan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model LoanModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", loanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrLoanNotFound
			}
			return err
		}
		if model.ReturnedDate != nil {
			return domain.ErrAlreadyReturned
		}
		var extensions int64
		if err := tx.Model(&LoanHistoryModel{}).
			Where("loan_id = ? AND action = ?", loanID, string(domain.ActionExtended)).
			Count(&extensions).Error; err != nil {
			return err
		}
		if maxExtensions > 0 && extensions >= int64(maxExtensions) {
			return domain.ErrExtensionLimitExceeded
		}
		model.DueDate = model.DueDate.AddDate(0, 0, extensionDays)
		loan := loanFromModel(model)
		loan.Status = domain.RecomputeStatus(loan, time.Now().UTC())
		if err := tx.Model(&LoanModel{}).Where("id = ?", loanID).Updates(map[string]any{
			"due_date": model.DueDate,
			"status":   string(loan.Status),
		}).Error; err != nil {
			return err
		}
		if err := appendHistory(tx, entry); err != nil {
			return err
		}
		result = loan
		return nil
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return result, nil
}

// MarkLoanLost is the explicit administrative transition to lost.
// Inventory is left untouched: the copy is gone, not on the shelf.
func (s *GormStore) MarkLoanLost(ctx context.Context, loanID string, entry domain.LoanHistory) (domain.Loan, error) {
	var result domain.Loan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model LoanModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", loanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrLoanNotFound
			}
			return err
		}
		if model.ReturnedDate != nil || model.Status == string(domain.LoanLost) {
			return domain.ErrLoanNotLostable
		}
		if err := tx.Model(&LoanModel{}).Where("id = ?", loanID).
			Update("status", string(domain.LoanLost)).Error; err != nil {
			return err
		}
		if err := appendHistory(tx, entry); err != nil {
			return err
		}
		model.Status = string(domain.LoanLost)
		result = loanFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return result, nil
}

// GetLoan returns a loan by ID.
func (s *GormStore) GetLoan(ctx context.Context, id string) (domain.Loan, bool, error) {
	var model LoanModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Loan{}, false, nil
		}
		return domain.Loan{}, false, err
	}
	return loanFromModel(model), true, nil
}

// SaveLoanStatus persists a recomputed status. Lost and returned rows
// are left alone; only the active/overdue flip goes through here.
func (s *GormStore) SaveLoanStatus(ctx context.Context, id string, status domain.LoanStatus) error {
	return s.db.WithContext(ctx).Model(&LoanModel{}).
		Where("id = ? AND returned_date IS NULL AND status <> ?", id, string(domain.LoanLost)).
		Update("status", string(status)).Error
}

// ListLoansByBorrower returns a borrower's loans, newest first.
func (s *GormStore) ListLoansByBorrower(ctx context.Context, borrowerID string) ([]domain.Loan, error) {
	var models []LoanModel
	if err := s.db.WithContext(ctx).
		Where("borrower_id = ?", borrowerID).
		Order("loan_date DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return loansFromModels(models), nil
}

// ListUnreturnedLoans returns all loans without a returned date.
func (s *GormStore) ListUnreturnedLoans(ctx context.Context) ([]domain.Loan, error) {
	var models []LoanModel
	if err := s.db.WithContext(ctx).
		Where("returned_date IS NULL").
		Order("due_date ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return loansFromModels(models), nil
}

// ListHistoryByLoan returns the audit trail, oldest first.
func (s *GormStore) ListHistoryByLoan(ctx context.Context, loanID string) ([]domain.LoanHistory, error) {
	var models []LoanHistoryModel
	if err := s.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("timestamp ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	entries := make([]domain.LoanHistory, 0, len(models))
	for _, m := range models {
		entries = append(entries, historyFromModel(m))
	}
	return entries, nil
}

// SaveReview stores a reader's review of a book. A review from the
// same reader replaces the earlier row in place, keeping its ID and
// date; the unique index on (book, reviewer) backs the check up
// against races.
func (s *GormStore) SaveReview(ctx context.Context, rev domain.Review) (domain.Review, error) {
	var result domain.Review
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ReviewModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("book_id = ? AND reviewer_id = ?", rev.BookID, rev.ReviewerID).
			First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Model(&ReviewModel{}).Where("id = ?", existing.ID).Updates(map[string]any{
				"rating":        rev.Rating,
				"comment":       rev.Comment,
				"reviewer_name": rev.ReviewerName,
			}).Error; err != nil {
				return err
			}
			existing.Rating = rev.Rating
			existing.Comment = rev.Comment
			existing.ReviewerName = rev.ReviewerName
			result = reviewFromModel(existing)
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			model := reviewToModel(rev)
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			result = rev
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return domain.Review{}, err
	}
	return result, nil
}

// ListReviewsByBook returns a book's reviews, newest first.
func (s *GormStore) ListReviewsByBook(ctx context.Context, bookID string) ([]domain.Review, error) {
	var models []ReviewModel
	if err := s.db.WithContext(ctx).
		Where("book_id = ?", bookID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	reviews := make([]domain.Review, 0, len(models))
	for _, m := range models {
		reviews = append(reviews, reviewFromModel(m))
	}
	return reviews, nil
}

// CreateReservation inserts a pending reservation. The duplicate check
// runs in the transaction; the unique index on (book, user, status)
// backs it up against races.
func (s *GormStore) CreateReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dup int64
		if err := tx.Model(&ReservationModel{}).
			Where("book_id = ? AND user_id = ? AND status = ?", res.BookID, res.UserID, string(domain.ReservationPending)).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return domain.ErrDuplicatePendingReservation
		}
		model := reservationToModel(res)
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

// GetReservation returns one reservation by ID.
func (s *GormStore) GetReservation(ctx context.Context, id string) (domain.Reservation, bool, error) {
	var model ReservationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Reservation{}, false, nil
		}
		return domain.Reservation{}, false, err
	}
	return reservationFromModel(model), true, nil
}

// SetReservationStatus moves a reservation between states, checking the
// current status against the allowed starting set.
func (s *GormStore) SetReservationStatus(ctx context.Context, id string, from []domain.ReservationStatus, to domain.ReservationStatus, notified bool) (domain.Reservation, error) {
	var result domain.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ReservationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrReservationNotFound
			}
			return err
		}
		allowed := false
		for _, status := range from {
			if model.Status == string(status) {
				allowed = true
				break
			}
		}
		if !allowed {
			return domain.ErrInvalidReservationState
		}
		if err := tx.Model(&ReservationModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":   string(to),
			"notified": notified || model.Notified,
		}).Error; err != nil {
			return err
		}
		model.Status = string(to)
		model.Notified = notified || model.Notified
		result = reservationFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return result, nil
}

// ListReservationsByUser returns a user's reservations, newest first.
func (s *GormStore) ListReservationsByUser(ctx context.Context, userID string) ([]domain.Reservation, error) {
	var models []ReservationModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("reserved_date DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	reservations := make([]domain.Reservation, 0, len(models))
	for _, m := range models {
		reservations = append(reservations, reservationFromModel(m))
	}
	return reservations, nil
}

// FindReservation looks up a reservation by its natural key.
func (s *GormStore) FindReservation(ctx context.Context, bookID, userID string, status domain.ReservationStatus) (domain.Reservation, bool, error) {
	var model ReservationModel
	err := s.db.WithContext(ctx).
		Where("book_id = ? AND user_id = ? AND status = ?", bookID, userID, string(status)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Reservation{}, false, nil
		}
		return domain.Reservation{}, false, err
	}
	return reservationFromModel(model), true, nil
}

// ExpireReservations moves every pending or available reservation past
// its expiry date to expired and returns the ones that changed.
func (s *GormStore) ExpireReservations(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	var expired []domain.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []ReservationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status IN ? AND expiry_date < ?",
				[]string{string(domain.ReservationPending), string(domain.ReservationAvailable)}, now.UTC()).
			Find(&models).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		ids := make([]string, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ID)
		}
		if err := tx.Model(&ReservationModel{}).Where("id IN ?", ids).
			Update("status", string(domain.ReservationExpired)).Error; err != nil {
			return err
		}
		expired = make([]domain.Reservation, 0, len(models))
		for _, m := range models {
			m.Status = string(domain.ReservationExpired)
			expired = append(expired, reservationFromModel(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func appendHistory(tx *gorm.DB, entry domain.LoanHistory) error {
	model := historyToModel(entry)
	return tx.Create(&model).Error
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:              b.ID,
		Title:           b.Title,
		Subtitle:        b.Subtitle,
		ISBN:            b.ISBN,
		Authors:         b.Authors,
		Category:        b.Category,
		Summary:         b.Summary,
		Language:        b.Language,
		Pages:           b.Pages,
		PublicationYear: b.PublicationYear,
		CoverKey:        b.CoverKey,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		IsActive:        b.IsActive,
		AddedBy:         b.AddedBy,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:              m.ID,
		Title:           m.Title,
		Subtitle:        m.Subtitle,
		ISBN:            m.ISBN,
		Authors:         m.Authors,
		Category:        m.Category,
		Summary:         m.Summary,
		Language:        m.Language,
		Pages:           m.Pages,
		PublicationYear: m.PublicationYear,
		CoverKey:        m.CoverKey,
		TotalCopies:     m.TotalCopies,
		AvailableCopies: m.AvailableCopies,
		IsActive:        m.IsActive,
		AddedBy:         m.AddedBy,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func loanToModel(l domain.Loan) LoanModel {
	return LoanModel{
		ID:             l.ID,
		BookID:         l.BookID,
		BorrowerID:     l.BorrowerID,
		BorrowerName:   l.BorrowerName,
		LoanDate:       l.LoanDate,
		DueDate:        l.DueDate,
		ReturnedDate:   l.ReturnedDate,
		Status:         string(l.Status),
		Notes:          l.Notes,
		LibrarianNotes: l.LibrarianNotes,
		CreatedBy:      l.CreatedBy,
	}
}

func loanFromModel(m LoanModel) domain.Loan {
	return domain.Loan{
		ID:             m.ID,
		BookID:         m.BookID,
		BorrowerID:     m.BorrowerID,
		BorrowerName:   m.BorrowerName,
		LoanDate:       m.LoanDate,
		DueDate:        m.DueDate,
		ReturnedDate:   m.ReturnedDate,
		Status:         domain.LoanStatus(m.Status),
		Notes:          m.Notes,
		LibrarianNotes: m.LibrarianNotes,
		CreatedBy:      m.CreatedBy,
	}
}

func loansFromModels(models []LoanModel) []domain.Loan {
	loans := make([]domain.Loan, 0, len(models))
	for _, m := range models {
		loans = append(loans, loanFromModel(m))
	}
	return loans
}

func historyToModel(h domain.LoanHistory) LoanHistoryModel {
	detail, _ := json.Marshal(h.Detail)
	if h.Detail == nil {
		detail = nil
	}
	return LoanHistoryModel{
		ID:              h.ID,
		LoanID:          h.LoanID,
		Action:          string(h.Action),
		PerformedBy:     h.PerformedBy,
		PerformedByName: h.PerformedByName,
		Timestamp:       h.Timestamp,
		Notes:           h.Notes,
		Detail:          detail,
	}
}

func historyFromModel(m LoanHistoryModel) domain.LoanHistory {
	var detail map[string]string
	if len(m.Detail) > 0 {
		_ = json.Unmarshal(m.Detail, &detail)
	}
	return domain.LoanHistory{
		ID:              m.ID,
		LoanID:          m.LoanID,
		Action:          domain.HistoryAction(m.Action),
		PerformedBy:     m.PerformedBy,
		PerformedByName: m.PerformedByName,
		Timestamp:       m.Timestamp,
		Notes:           m.Notes,
		Detail:          detail,
	}
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{
		ID:           r.ID,
		BookID:       r.BookID,
		ReviewerID:   r.ReviewerID,
		ReviewerName: r.ReviewerName,
		Rating:       r.Rating,
		Comment:      r.Comment,
		CreatedAt:    r.CreatedAt,
	}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{
		ID:           m.ID,
		BookID:       m.BookID,
		ReviewerID:   m.ReviewerID,
		ReviewerName: m.ReviewerName,
		Rating:       m.Rating,
		Comment:      m.Comment,
		CreatedAt:    m.CreatedAt,
	}
}

func reservationToModel(r domain.Reservation) ReservationModel {
	return ReservationModel{
		ID:           r.ID,
		BookID:       r.BookID,
		UserID:       r.UserID,
		UserName:     r.UserName,
		ReservedDate: r.ReservedDate,
		ExpiryDate:   r.ExpiryDate,
		Status:       string(r.Status),
		Notified:     r.Notified,
	}
}

func reservationFromModel(m ReservationModel) domain.Reservation {
	return domain.Reservation{
		ID:           m.ID,
		BookID:       m.BookID,
		UserID:       m.UserID,
		UserName:     m.UserName,
		ReservedDate: m.ReservedDate,
		ExpiryDate:   m.ExpiryDate,
		Status:       domain.ReservationStatus(m.Status),
		Notified:     m.Notified,
	}
}
