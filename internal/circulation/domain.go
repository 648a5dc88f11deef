// internal/circulation/domain.go
package circulation

import (
	"errors"
	"fmt"
	"time"

	"librarylink/internal/catalog"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

// ErrInvalidTransition is returned by Next for an action the loan state does not allow.
var ErrInvalidTransition = errors.New("invalid loan transition")

// Loan is a book on loan to a user. The service is the system of record; a
// Loan value is only the view returned by the last call.
type Loan struct {
	ID           string              `json:"id,omitempty"`
	LibraryID    ids.LibraryID       `json:"libraryId"`
	ISBN         ids.ISBN            `json:"isbn"`
	Username     membership.Username `json:"username"`
	CheckedOutAt time.Time           `json:"checkedOutAt"`
	DueDate      time.Time           `json:"dueDate"`
}

// Overdue reports whether the due date has passed at now. Loans without a
// known due date are never overdue.
func (l Loan) Overdue(now time.Time) bool {
	return !l.DueDate.IsZero() && now.After(l.DueDate)
}

// CheckedOutBook is one entry of a user's checked-out listing.
type CheckedOutBook struct {
	// LibraryID is the id as reported by the service, usually unhyphenated.
	LibraryID ids.LibraryID `json:"libraryId"`
	Book      catalog.Book  `json:"book"`
	DueDate   time.Time     `json:"dueDate"`
}

// Overdue reports whether the due date has passed at now.
func (b CheckedOutBook) Overdue(now time.Time) bool {
	return !b.DueDate.IsZero() && now.After(b.DueDate)
}

// State is the lifecycle state of a (library, book, user) loan relationship.
type State int

const (
	NoLoan State = iota
	OnLoan
)

func (s State) String() string {
	switch s {
	case NoLoan:
		return "no loan"
	case OnLoan:
		return "on loan"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Action string

const (
	ActionCheckout Action = "checkout"
	ActionExtend   Action = "extend"
	ActionCheckin  Action = "checkin"
)

// Next returns the state reached by applying a to s.
//
//	no loan --checkout--> on loan
//	on loan --extend----> on loan
//	on loan --checkin---> no loan
func Next(s State, a Action) (State, error) {
	switch {
	case s == NoLoan && a == ActionCheckout:
		return OnLoan, nil
	case s == OnLoan && a == ActionExtend:
		return OnLoan, nil
	case s == OnLoan && a == ActionCheckin:
		return NoLoan, nil
	}
	return s, fmt.Errorf("%w: cannot %s when %s", ErrInvalidTransition, a, s)
}

// ItemCheckedOutEvent is recorded when a loan is created.
type ItemCheckedOutEvent struct {
	LoanID    string              `json:"loan_id"`
	LibraryID ids.LibraryID       `json:"library_id"`
	ISBN      ids.ISBN            `json:"isbn"`
	Username  membership.Username `json:"username"`
	DueDate   time.Time           `json:"due_date"`
}

// LoanExtendedEvent is recorded when a due date moves forward.
type LoanExtendedEvent struct {
	LoanID     string    `json:"loan_id"`
	OldDueDate time.Time `json:"old_due_date"`
	NewDueDate time.Time `json:"new_due_date"`
}

// ItemReturnedEvent is recorded when a loan ends.
type ItemReturnedEvent struct {
	LoanID     string    `json:"loan_id"`
	ReturnDate time.Time `json:"return_date"`
}
