package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	ID              string `gorm:"primaryKey"`
	Title           string `gorm:"not null;index"`
	Subtitle        string
	ISBN            string `gorm:"column:isbn;uniqueIndex;not null"`
	Authors         string `gorm:"not null"`
	Category        string `gorm:"index"`
	Summary         string `gorm:"type:text"`
	Language        string
	Pages           int
	PublicationYear int
	CoverKey        string
	TotalCopies     int       `gorm:"not null"`
	AvailableCopies int       `gorm:"not null"`
	IsActive        bool      `gorm:"not null;default:true"`
	AddedBy         string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type LoanModel struct {
	ID             string    `gorm:"primaryKey"`
	BookID         string    `gorm:"not null;index;index:idx_loans_book_borrower"`
	BorrowerID     string    `gorm:"not null;index:idx_loans_borrower_status;index:idx_loans_book_borrower"`
	BorrowerName   string
	LoanDate       time.Time `gorm:"not null"`
	DueDate        time.Time `gorm:"not null;index"`
	ReturnedDate   *time.Time
	Status         string    `gorm:"not null;index;index:idx_loans_borrower_status"`
	Notes          string    `gorm:"type:text"`
	LibrarianNotes string    `gorm:"type:text"`
	CreatedBy      string
}

type LoanHistoryModel struct {
	ID              string         `gorm:"primaryKey"`
	LoanID          string         `gorm:"not null;index"`
	Action          string         `gorm:"not null"`
	PerformedBy     string
	PerformedByName string
	Timestamp       time.Time      `gorm:"not null;index"`
	Notes           string         `gorm:"type:text"`
	Detail          datatypes.JSON `gorm:"type:jsonb"`
}

type ReviewModel struct {
	ID           string `gorm:"primaryKey"`
	BookID       string `gorm:"not null;index;uniqueIndex:idx_reviews_book_reviewer"`
	ReviewerID   string `gorm:"not null;uniqueIndex:idx_reviews_book_reviewer"`
	ReviewerName string
	Rating       int       `gorm:"not null"`
	Comment      string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

type ReservationModel struct {
	ID           string    `gorm:"primaryKey"`
	BookID       string    `gorm:"not null;index;uniqueIndex:idx_reservations_book_user_status"`
	UserID       string    `gorm:"not null;index;uniqueIndex:idx_reservations_book_user_status"`
	UserName     string
	ReservedDate time.Time `gorm:"not null"`
	ExpiryDate   time.Time `gorm:"not null;index"`
	Status       string    `gorm:"not null;uniqueIndex:idx_reservations_book_user_status"`
	Notified     bool      `gorm:"not null;default:false"`
}
