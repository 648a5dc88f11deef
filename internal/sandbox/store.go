// internal/sandbox/store.go
package sandbox

import (
	"context"
	"errors"
	"time"

	"librarylink/internal/catalog"
	"librarylink/internal/circulation"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

var (
	ErrLibraryNotFound = errors.New("library not found")
	ErrBookNotFound    = errors.New("book not found in library")
	ErrNoCopies        = errors.New("no copies available")
	ErrLibraryHasBooks = errors.New("library still has books")
)

// Store holds the sandbox state. Loan mutations are atomic: each one checks
// the loan state with circulation.Next and the copy counts in one step.
type Store interface {
	ListLibraries(ctx context.Context) ([]catalog.Library, error)
	GetLibrary(ctx context.Context, id ids.LibraryID) (catalog.Library, error)
	CreateLibrary(ctx context.Context, lib catalog.Library) error
	UpdateLibrary(ctx context.Context, lib catalog.Library) error
	// DeleteLibrary fails with ErrLibraryHasBooks while any holding remains.
	DeleteLibrary(ctx context.Context, id ids.LibraryID) error

	ListHoldings(ctx context.Context, libraryID ids.LibraryID) ([]catalog.Holding, error)
	GetHolding(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN) (catalog.Holding, error)
	// AddStock adds stock copies of book, creating the holding if needed.
	// Non-empty metadata in book replaces what is stored.
	AddStock(ctx context.Context, libraryID ids.LibraryID, book catalog.Book, stock int) (catalog.Holding, error)

	// Checkout records loan and takes one available copy.
	Checkout(ctx context.Context, loan circulation.Loan) error
	// Extend moves the due date of the active loan forward by d and returns
	// the loan as it was before and after.
	Extend(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, user membership.Username, d time.Duration) (before, after circulation.Loan, err error)
	// Checkin ends the active loan and returns the copy.
	Checkin(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, user membership.Username, at time.Time) (circulation.Loan, error)
	LoansByUser(ctx context.Context, user membership.Username) ([]circulation.CheckedOutBook, error)
}

// loanState is the lifecycle state implied by whether an active loan exists.
func loanState(active bool) circulation.State {
	if active {
		return circulation.OnLoan
	}
	return circulation.NoLoan
}

// mergeBook overlays the non-empty metadata of update onto current. A book
// without a title is listed under its ISBN.
func mergeBook(current, update catalog.Book) catalog.Book {
	if update.Title != "" {
		current.Title = update.Title
	}
	if len(update.Authors) > 0 {
		current.Authors = update.Authors
	}
	if update.ByStatement != "" {
		current.ByStatement = update.ByStatement
	}
	if update.Description != "" {
		current.Description = update.Description
	}
	if update.Cover != "" {
		current.Cover = update.Cover
	}
	current.ISBN = update.ISBN
	if current.Title == "" {
		current.Title = string(current.ISBN)
	}
	return current
}
