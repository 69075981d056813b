package domain

import "time"

// User is an opaque identity reference provided by the authenticating
// front layer. The core never authenticates; it only records who acted.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Staff bool   `json:"staff"`
}

// Book carries catalog metadata plus the two inventory counters owned
// by the ledger. AvailableCopies never exceeds TotalCopies and never
// goes negative; both are mutated only through the store's borrow and
// return operations.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Subtitle        string    `json:"subtitle,omitempty"`
	ISBN            string    `json:"isbn"`
	Authors         string    `json:"authors"`
	Category        string    `json:"category,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	Language        string    `json:"language,omitempty"`
	Pages           int       `json:"pages,omitempty"`
	PublicationYear int       `json:"publicationYear,omitempty"`
	CoverKey        string    `json:"-"`
	TotalCopies     int       `json:"totalCopies"`
	AvailableCopies int       `json:"availableCopies"`
	IsActive        bool      `json:"isActive"`
	AddedBy         string    `json:"addedBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IsAvailable reports whether a copy can be borrowed right now.
func (b Book) IsAvailable() bool {
	return b.AvailableCopies > 0 && b.IsActive
}

// Review is a reader's rating of a title. Each reader holds at most
// one review per book; posting again replaces the earlier text and
// rating but keeps the original review's identity and date.
type Review struct {
	ID           string    `json:"id"`
	BookID       string    `json:"bookId"`
	ReviewerID   string    `json:"reviewerId"`
	ReviewerName string    `json:"reviewerName,omitempty"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationAvailable ReservationStatus = "available"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation queues a request for a title that is fully checked out.
type Reservation struct {
	ID           string            `json:"id"`
	BookID       string            `json:"bookId"`
	UserID       string            `json:"userId"`
	UserName     string            `json:"userName,omitempty"`
	ReservedDate time.Time         `json:"reservedDate"`
	ExpiryDate   time.Time         `json:"expiryDate"`
	Status       ReservationStatus `json:"status"`
	Notified     bool              `json:"notified"`
}
