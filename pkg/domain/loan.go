package domain

import "time"

type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
	LoanOverdue  LoanStatus = "overdue"
	LoanLost     LoanStatus = "lost"
)

type HistoryAction string

const (
	ActionCreated    HistoryAction = "created"
	ActionExtended   HistoryAction = "extended"
	ActionReturned   HistoryAction = "returned"
	ActionMarkedLost HistoryAction = "marked_lost"
	ActionRenewed    HistoryAction = "renewed"
)

// Loan records one borrower holding one copy of one title for a
// bounded period.
type Loan struct {
	ID             string     `json:"id"`
	BookID         string     `json:"bookId"`
	BorrowerID     string     `json:"borrowerId"`
	BorrowerName   string     `json:"borrowerName,omitempty"`
	LoanDate       time.Time  `json:"loanDate"`
	DueDate        time.Time  `json:"dueDate"`
	ReturnedDate   *time.Time `json:"returnedDate,omitempty"`
	Status         LoanStatus `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	LibrarianNotes string     `json:"librarianNotes,omitempty"`
	CreatedBy      string     `json:"createdBy,omitempty"`
}

// LoanHistory is one entry of the append-only audit trail of a loan.
// Entries are never updated or deleted; they go away only when their
// loan is deleted.
type LoanHistory struct {
	ID              string            `json:"id"`
	LoanID          string            `json:"loanId"`
	Action          HistoryAction     `json:"action"`
	PerformedBy     string            `json:"performedBy,omitempty"`
	PerformedByName string            `json:"performedByName,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Notes           string            `json:"notes,omitempty"`
	Detail          map[string]string `json:"detail,omitempty"`
}

// RecomputeStatus derives the loan status from its dates. Returned is
// terminal, lost is only set administratively and never overwritten
// here. All comparisons use calendar dates, not time of day.
func RecomputeStatus(l Loan, today time.Time) LoanStatus {
	if l.ReturnedDate != nil {
		return LoanReturned
	}
	if l.Status == LoanLost {
		return LoanLost
	}
	if dateOf(l.DueDate).Before(dateOf(today)) {
		return LoanOverdue
	}
	return LoanActive
}

// IsOverdue reports whether the loan is unreturned past its due date.
func (l Loan) IsOverdue(today time.Time) bool {
	if l.ReturnedDate != nil {
		return false
	}
	return dateOf(l.DueDate).Before(dateOf(today))
}

// DaysOverdue returns whole days past due, or 0 when not overdue.
func (l Loan) DaysOverdue(today time.Time) int {
	if !l.IsOverdue(today) {
		return 0
	}
	return daysBetween(dateOf(l.DueDate), dateOf(today))
}

// DaysUntilDue returns whole days before the due date, floored at 0.
// It returns -1 once the loan is returned: the question no longer
// applies.
func (l Loan) DaysUntilDue(today time.Time) int {
	if l.ReturnedDate != nil {
		return -1
	}
	days := daysBetween(dateOf(today), dateOf(l.DueDate))
	if days < 0 {
		return 0
	}
	return days
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}
