// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"librarylink/internal/apierr"
	"librarylink/internal/catalog"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

// service implements the Service interface.
type service struct {
	client LoanClient
	dedup  bool
	group  singleflight.Group
}

// ServiceOption configures the circulation service.
type ServiceOption func(*service)

// WithInflightDedup makes concurrent identical requests (same operation,
// library, book and user) share a single round trip. The first caller's
// context governs the shared request.
func WithInflightDedup() ServiceOption {
	return func(s *service) { s.dedup = true }
}

// NewService creates a new circulation service instance.
func NewService(client LoanClient, opts ...ServiceOption) Service {
	s := &service{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Holdings(ctx context.Context, libraryID ids.LibraryID) ([]catalog.Holding, error) {
	return s.client.ListHoldings(ctx, libraryID)
}

// Checkout gates on the availability rule before calling the service. The
// service's own refusal is returned unchanged and never retried.
func (s *service) Checkout(ctx context.Context, libraryID ids.LibraryID, holding catalog.Holding, username string) (*Loan, error) {
	user, err := membership.NewUsername(username)
	if err != nil {
		return nil, err
	}
	if !catalog.CanCheckout(holding) {
		return nil, apierr.Unavailable("checkout", 0, fmt.Sprintf("no copies of %s available", holding.ISBN))
	}

	return s.shareLoan(ActionCheckout, libraryID, holding.ISBN, user, func() (*Loan, error) {
		return s.client.Checkout(ctx, libraryID, holding.ISBN, user)
	})
}

// Checkin normalizes rawLibraryID before anything is sent; a malformed id
// never reaches the service.
func (s *service) Checkin(ctx context.Context, rawLibraryID string, isbn ids.ISBN, username string) error {
	libraryID, err := ids.Normalize(rawLibraryID)
	if err != nil {
		return err
	}
	user, err := membership.NewUsername(username)
	if err != nil {
		return err
	}

	_, err = s.shareLoan(ActionCheckin, libraryID, isbn, user, func() (*Loan, error) {
		return nil, s.client.Checkin(ctx, libraryID, isbn, user)
	})
	return err
}

func (s *service) Extend(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username string) (*Loan, error) {
	user, err := membership.NewUsername(username)
	if err != nil {
		return nil, err
	}

	return s.shareLoan(ActionExtend, libraryID, isbn, user, func() (*Loan, error) {
		return s.client.Extend(ctx, libraryID, isbn, user)
	})
}

func (s *service) Loans(ctx context.Context, username string) ([]CheckedOutBook, error) {
	user, err := membership.NewUsername(username)
	if err != nil {
		return nil, err
	}
	return s.client.CheckedOut(ctx, user)
}

// shareLoan runs fn, or joins an identical call already in flight when
// de-duplication is enabled. Each caller gets its own copy of the loan.
func (s *service) shareLoan(action Action, libraryID ids.LibraryID, isbn ids.ISBN, user membership.Username, fn func() (*Loan, error)) (*Loan, error) {
	if !s.dedup {
		return fn()
	}

	key := inflightKey(action, libraryID, isbn, user)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	loan, _ := v.(*Loan)
	if loan == nil {
		return nil, nil
	}
	cp := *loan
	return &cp, nil
}

// inflightKey identifies a request for de-duplication. Fields are quoted so
// that free-text ISBNs and usernames cannot run into each other.
func inflightKey(action Action, libraryID ids.LibraryID, isbn ids.ISBN, user membership.Username) string {
	return fmt.Sprintf("%s %q %q %q", action, libraryID, isbn, user)
}
