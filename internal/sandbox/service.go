// internal/sandbox/service.go
package sandbox

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"librarylink/internal/catalog"
	"librarylink/internal/circulation"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

const (
	DefaultLoanPeriod      = 14 * 24 * time.Hour
	DefaultExtensionPeriod = 7 * 24 * time.Hour
)

var ErrInvalidArgument = errors.New("invalid argument")

type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }

type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Service is the sandbox's implementation of the library service.
type Service struct {
	store           Store
	events          EventLog
	clock           Clock
	id              IDGen
	loanPeriod      time.Duration
	extensionPeriod time.Duration
	logger          *slog.Logger
}

type ServiceOption func(*Service)

func WithClock(c Clock) ServiceOption { return func(s *Service) { s.clock = c } }

func WithIDGen(g IDGen) ServiceOption { return func(s *Service) { s.id = g } }

// WithLoanPeriod sets how long a new loan runs. Non-positive values are ignored.
func WithLoanPeriod(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.loanPeriod = d
		}
	}
}

// WithExtensionPeriod sets how far an extension moves the due date.
// Non-positive values are ignored.
func WithExtensionPeriod(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.extensionPeriod = d
		}
	}
}

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(store Store, events EventLog, opts ...ServiceOption) *Service {
	s := &Service{
		store:           store,
		events:          events,
		clock:           realClock{},
		id:              ulidGen{},
		loanPeriod:      DefaultLoanPeriod,
		extensionPeriod: DefaultExtensionPeriod,
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ListLibraries(ctx context.Context) ([]catalog.Library, error) {
	return s.store.ListLibraries(ctx)
}

// AddLibrary stores lib under a new id.
func (s *Service) AddLibrary(ctx context.Context, lib catalog.Library) (catalog.Library, error) {
	if err := lib.Validate(); err != nil {
		return catalog.Library{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	lib.ID = ids.LibraryID(uuid.New().String())
	if err := s.store.CreateLibrary(ctx, lib); err != nil {
		return catalog.Library{}, err
	}
	return lib, nil
}

func (s *Service) UpdateLibrary(ctx context.Context, lib catalog.Library) (catalog.Library, error) {
	if err := lib.Validate(); err != nil {
		return catalog.Library{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := s.store.UpdateLibrary(ctx, lib); err != nil {
		return catalog.Library{}, err
	}
	return lib, nil
}

func (s *Service) DeleteLibrary(ctx context.Context, id ids.LibraryID) error {
	return s.store.DeleteLibrary(ctx, id)
}

func (s *Service) Holdings(ctx context.Context, libraryID ids.LibraryID) ([]catalog.Holding, error) {
	return s.store.ListHoldings(ctx, libraryID)
}

func (s *Service) Holding(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN) (catalog.Holding, error) {
	return s.store.GetHolding(ctx, libraryID, isbn)
}

// AddBook adds stock copies of a book to a library. Title and authors are
// optional; a book without a title is listed under its ISBN.
func (s *Service) AddBook(ctx context.Context, libraryID ids.LibraryID, book catalog.Book, stock int) (catalog.Holding, error) {
	if strings.TrimSpace(string(book.ISBN)) == "" {
		return catalog.Holding{}, fmt.Errorf("%w: isbn required", ErrInvalidArgument)
	}
	if stock <= 0 {
		return catalog.Holding{}, fmt.Errorf("%w: stock must be > 0", ErrInvalidArgument)
	}
	return s.store.AddStock(ctx, libraryID, book, stock)
}

func (s *Service) Checkout(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username string) (circulation.Loan, error) {
	user, err := s.username(username)
	if err != nil {
		return circulation.Loan{}, err
	}

	now := s.clock.Now()
	loan := circulation.Loan{
		ID:           s.id.NewULID(now),
		LibraryID:    libraryID,
		ISBN:         isbn,
		Username:     user,
		CheckedOutAt: now,
		DueDate:      now.Add(s.loanPeriod),
	}
	if err := s.store.Checkout(ctx, loan); err != nil {
		return circulation.Loan{}, err
	}

	s.record(ctx, loan.ID, "ItemCheckedOut", circulation.ItemCheckedOutEvent{
		LoanID:    loan.ID,
		LibraryID: loan.LibraryID,
		ISBN:      loan.ISBN,
		Username:  loan.Username,
		DueDate:   loan.DueDate,
	})
	return loan, nil
}

// Extend moves the due date forward by the extension period.
func (s *Service) Extend(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username string) (circulation.Loan, error) {
	user, err := s.username(username)
	if err != nil {
		return circulation.Loan{}, err
	}

	before, after, err := s.store.Extend(ctx, libraryID, isbn, user, s.extensionPeriod)
	if err != nil {
		return circulation.Loan{}, err
	}

	s.record(ctx, after.ID, "LoanExtended", circulation.LoanExtendedEvent{
		LoanID:     after.ID,
		OldDueDate: before.DueDate,
		NewDueDate: after.DueDate,
	})
	return after, nil
}

func (s *Service) Checkin(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username string) (circulation.Loan, error) {
	user, err := s.username(username)
	if err != nil {
		return circulation.Loan{}, err
	}

	now := s.clock.Now()
	loan, err := s.store.Checkin(ctx, libraryID, isbn, user, now)
	if err != nil {
		return circulation.Loan{}, err
	}

	s.record(ctx, loan.ID, "ItemReturned", circulation.ItemReturnedEvent{
		LoanID:     loan.ID,
		ReturnDate: now,
	})
	return loan, nil
}

func (s *Service) Loans(ctx context.Context, username string) ([]circulation.CheckedOutBook, error) {
	user, err := s.username(username)
	if err != nil {
		return nil, err
	}
	return s.store.LoansByUser(ctx, user)
}

// History returns the recorded events of a loan, oldest first.
func (s *Service) History(ctx context.Context, loanID string) ([]Event, error) {
	return s.events.Load(ctx, loanID)
}

func (s *Service) username(raw string) (membership.Username, error) {
	user, err := membership.NewUsername(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return user, nil
}

// record appends a loan event. The loan change is already committed, so a
// failure here is logged rather than returned.
func (s *Service) record(ctx context.Context, loanID, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal loan event", "loan_id", loanID, "event_type", eventType, "error", err)
		return
	}

	e := Event{
		AggregateID:   loanID,
		AggregateType: "loan",
		EventType:     eventType,
		EventData:     payload,
		CreatedAt:     s.clock.Now(),
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		e.Metadata = map[string]interface{}{"request_id": reqID}
	}
	if _, err := s.events.Append(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "append loan event", "loan_id", loanID, "event_type", eventType, "error", err)
	}
}
