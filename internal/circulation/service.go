// internal/circulation/service.go
package circulation

import (
	"context"

	"librarylink/internal/catalog"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

// LoanClient performs the loan operations against the library service. Each
// call is a single round trip.
type LoanClient interface {
	ListHoldings(ctx context.Context, libraryID ids.LibraryID) ([]catalog.Holding, error)
	Checkout(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username) (*Loan, error)
	Checkin(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username) error
	Extend(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username) (*Loan, error)
	CheckedOut(ctx context.Context, username membership.Username) ([]CheckedOutBook, error)
}

// Service defines the loan lifecycle as driven by a front end.
type Service interface {
	Holdings(ctx context.Context, libraryID ids.LibraryID) ([]catalog.Holding, error)
	// Checkout borrows the book of holding, as last observed by the caller.
	Checkout(ctx context.Context, libraryID ids.LibraryID, holding catalog.Holding, username string) (*Loan, error)
	// Checkin returns a book. rawLibraryID is the unhyphenated id from a
	// checked-out listing.
	Checkin(ctx context.Context, rawLibraryID string, isbn ids.ISBN, username string) error
	Extend(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username string) (*Loan, error)
	Loans(ctx context.Context, username string) ([]CheckedOutBook, error)
}
