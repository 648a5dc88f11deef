package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarylink/internal/catalog"
	"librarylink/internal/circulation"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

// runStoreContract exercises the behaviour every Store must share. Names are
// unique per run so a persistent database can be reused.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Second)

	lib := catalog.Library{
		ID:        ids.LibraryID(uuid.NewString()),
		Name:      "Central " + suffix,
		Address:   "1 Main St",
		OpenTime:  "09:00",
		CloseTime: "18:00",
		OpenDays:  "Mon-Fri",
	}
	isbn := ids.ISBN("978-" + suffix)
	alice := membership.Username("alice-" + suffix)
	bob := membership.Username("bob-" + suffix)
	carol := membership.Username("carol-" + suffix)

	newLoan := func(user membership.Username) circulation.Loan {
		return circulation.Loan{
			ID:           ulid.Make().String(),
			LibraryID:    lib.ID,
			ISBN:         isbn,
			Username:     user,
			CheckedOutAt: now,
			DueDate:      now.Add(DefaultLoanPeriod),
		}
	}

	// Libraries.
	require.NoError(t, s.CreateLibrary(ctx, lib))
	got, err := s.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, lib, got)

	_, err = s.GetLibrary(ctx, ids.LibraryID(uuid.NewString()))
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	libs, err := s.ListLibraries(ctx)
	require.NoError(t, err)
	assert.Contains(t, libs, lib)

	lib.Name = "Renamed " + suffix
	require.NoError(t, s.UpdateLibrary(ctx, lib))
	got, err = s.GetLibrary(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, lib.Name, got.Name)

	missing := lib
	missing.ID = ids.LibraryID(uuid.NewString())
	assert.ErrorIs(t, s.UpdateLibrary(ctx, missing), ErrLibraryNotFound)

	// Holdings.
	holdings, err := s.ListHoldings(ctx, lib.ID)
	require.NoError(t, err)
	assert.NotNil(t, holdings)
	assert.Empty(t, holdings)

	_, err = s.GetHolding(ctx, lib.ID, isbn)
	assert.ErrorIs(t, err, ErrBookNotFound)
	_, err = s.AddStock(ctx, missing.ID, catalog.Book{ISBN: isbn}, 1)
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	h, err := s.AddStock(ctx, lib.ID, catalog.Book{ISBN: isbn, Title: "Go", Authors: []catalog.Author{{Name: "A"}}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Stock)
	assert.Equal(t, 1, h.Available)

	h, err = s.AddStock(ctx, lib.ID, catalog.Book{ISBN: isbn}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Stock)
	assert.Equal(t, 2, h.Available)
	assert.Equal(t, "Go", h.Book.Title, "metadata is kept when not resent")
	assert.Equal(t, "A", h.Book.PrimaryAuthor())

	// Loans.
	first := newLoan(alice)
	require.NoError(t, s.Checkout(ctx, first))
	assert.ErrorIs(t, s.Checkout(ctx, newLoan(alice)), circulation.ErrInvalidTransition)
	require.NoError(t, s.Checkout(ctx, newLoan(bob)))
	assert.ErrorIs(t, s.Checkout(ctx, newLoan(carol)), ErrNoCopies)

	h, err = s.GetHolding(ctx, lib.ID, isbn)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Available)
	assert.Equal(t, 2, h.CheckedOut)
	assert.False(t, catalog.CanCheckout(h))

	books, err := s.LoansByUser(ctx, alice)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, lib.ID, books[0].LibraryID)
	assert.Equal(t, "Go", books[0].Book.Title)
	assert.True(t, first.DueDate.Equal(books[0].DueDate))

	before, after, err := s.Extend(ctx, lib.ID, isbn, alice, DefaultExtensionPeriod)
	require.NoError(t, err)
	assert.Equal(t, first.ID, after.ID)
	assert.True(t, after.DueDate.Equal(before.DueDate.Add(DefaultExtensionPeriod)))
	_, _, err = s.Extend(ctx, lib.ID, isbn, carol, DefaultExtensionPeriod)
	assert.ErrorIs(t, err, circulation.ErrInvalidTransition)

	ended, err := s.Checkin(ctx, lib.ID, isbn, alice, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, ended.ID)
	_, err = s.Checkin(ctx, lib.ID, isbn, alice, now.Add(time.Hour))
	assert.ErrorIs(t, err, circulation.ErrInvalidTransition)

	h, err = s.GetHolding(ctx, lib.ID, isbn)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Available)

	books, err = s.LoansByUser(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, books)

	other := newLoan(carol)
	other.ISBN = "unknown-" + ids.ISBN(suffix)
	assert.ErrorIs(t, s.Checkout(ctx, other), ErrBookNotFound)

	// Deletion.
	assert.ErrorIs(t, s.DeleteLibrary(ctx, lib.ID), ErrLibraryHasBooks)

	empty := catalog.Library{ID: ids.LibraryID(uuid.NewString()), Name: "Annex " + suffix, Address: "2 Side St", OpenTime: "10:00", CloseTime: "16:00", OpenDays: "Sat"}
	require.NoError(t, s.CreateLibrary(ctx, empty))
	require.NoError(t, s.DeleteLibrary(ctx, empty.ID))
	_, err = s.GetLibrary(ctx, empty.ID)
	assert.ErrorIs(t, err, ErrLibraryNotFound)
	assert.ErrorIs(t, s.DeleteLibrary(ctx, empty.ID), ErrLibraryNotFound)
}

func runEventLogContract(t *testing.T, l EventLog) {
	ctx := context.Background()
	loanID := ulid.Make().String()

	first, err := l.Append(ctx, Event{AggregateID: loanID, AggregateType: "loan", EventType: "ItemCheckedOut", EventData: []byte(`{"loan_id":"` + loanID + `"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := l.Append(ctx, Event{AggregateID: loanID, AggregateType: "loan", EventType: "ItemReturned", EventData: []byte(`{}`),
		Metadata: map[string]interface{}{"request_id": "req-1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Greater(t, second.ID, first.ID)

	events, err := l.Load(ctx, loanID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ItemCheckedOut", events[0].EventType)
	assert.Equal(t, "ItemReturned", events[1].EventType)
	assert.Equal(t, "req-1", events[1].Metadata["request_id"])

	none, err := l.Load(ctx, ulid.Make().String())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryEventLog(t *testing.T) {
	runEventLogContract(t, NewMemoryEventLog())
}

func TestMemoryStoreConcurrentCheckout(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	lib := ids.LibraryID(uuid.NewString())
	require.NoError(t, s.CreateLibrary(ctx, catalog.Library{ID: lib, Name: "n", Address: "a", OpenTime: "o", CloseTime: "c", OpenDays: "d"}))
	_, err := s.AddStock(ctx, lib, catalog.Book{ISBN: "123"}, 3)
	require.NoError(t, err)

	const readers = 20
	results := make(chan error, readers)
	for i := 0; i < readers; i++ {
		go func(i int) {
			results <- s.Checkout(ctx, circulation.Loan{
				ID:        ulid.Make().String(),
				LibraryID: lib,
				ISBN:      "123",
				Username:  membership.Username("reader-" + string(rune('a'+i))),
			})
		}(i)
	}

	succeeded := 0
	for i := 0; i < readers; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrNoCopies)
		}
	}
	assert.Equal(t, 3, succeeded)

	h, err := s.GetHolding(ctx, lib, "123")
	require.NoError(t, err)
	assert.Equal(t, 0, h.Available)
}
