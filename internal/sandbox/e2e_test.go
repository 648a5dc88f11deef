package sandbox_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarylink/internal/apierr"
	"librarylink/internal/catalog"
	"librarylink/internal/circulation"
	"librarylink/internal/clients"
	"librarylink/internal/ids"
	"librarylink/internal/sandbox"
)

type harness struct {
	catalog *clients.CatalogClient
	loans   circulation.Service
	raw     *clients.CirculationClient
}

func newHarness(t *testing.T) harness {
	t.Helper()
	svc := sandbox.NewService(sandbox.NewMemoryStore(), sandbox.NewMemoryEventLog())
	srv := httptest.NewServer(sandbox.NewHandler(svc).Routes())
	t.Cleanup(srv.Close)

	cat, err := clients.NewCatalogClient(srv.URL)
	require.NoError(t, err)
	circ, err := clients.NewCirculationClient(srv.URL)
	require.NoError(t, err)
	return harness{catalog: cat, loans: circulation.NewService(circ), raw: circ}
}

func (h harness) libraryWithBook(t *testing.T, isbn ids.ISBN, stock int) ids.LibraryID {
	t.Helper()
	ctx := context.Background()
	lib, err := h.catalog.AddLibrary(ctx, catalog.Library{Name: "Central", Address: "1 Main St", OpenTime: "09:00", CloseTime: "18:00", OpenDays: "Mon-Fri"})
	require.NoError(t, err)
	require.True(t, lib.ID.Canonical())
	require.NoError(t, h.catalog.AddBook(ctx, lib.ID, isbn, stock))
	return lib.ID
}

func (h harness) holding(t *testing.T, lib ids.LibraryID, isbn ids.ISBN) catalog.Holding {
	t.Helper()
	holdings, err := h.loans.Holdings(context.Background(), lib)
	require.NoError(t, err)
	for _, hd := range holdings {
		if hd.ISBN == isbn {
			return hd
		}
	}
	t.Fatalf("no holding %s in %s", isbn, lib)
	return catalog.Holding{}
}

func TestBrowseHoldings(t *testing.T) {
	h := newHarness(t)
	lib := h.libraryWithBook(t, "123", 2)

	hd := h.holding(t, lib, "123")

	assert.Equal(t, 2, hd.Available)
	assert.True(t, catalog.CanCheckout(hd))

	details, err := h.catalog.GetHolding(context.Background(), lib, "123")
	require.NoError(t, err)
	assert.Equal(t, 2, details.Stock)
}

func TestCheckoutWithoutCopiesIsUnavailable(t *testing.T) {
	h := newHarness(t)
	lib := h.libraryWithBook(t, "123", 1)
	ctx := context.Background()

	_, err := h.loans.Checkout(ctx, lib, h.holding(t, lib, "123"), "alice")
	require.NoError(t, err)

	// The gate refuses locally once the refreshed holding shows no copies.
	_, err = h.loans.Checkout(ctx, lib, h.holding(t, lib, "123"), "bob")
	assert.ErrorIs(t, err, apierr.ErrUnavailable)

	// A stale holding passes the gate and the service refuses with a 409.
	_, err = h.loans.Checkout(ctx, lib, catalog.Holding{ISBN: "123", Available: 1}, "bob")
	assert.ErrorIs(t, err, apierr.ErrUnavailable)
}

func TestCheckinFromListingRestoresCopy(t *testing.T) {
	h := newHarness(t)
	lib := h.libraryWithBook(t, "123", 2)
	ctx := context.Background()

	_, err := h.loans.Checkout(ctx, lib, h.holding(t, lib, "123"), "Alice")
	require.NoError(t, err)

	listing, err := h.loans.Loans(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, listing, 1)
	rawID := string(listing[0].LibraryID)
	require.Len(t, rawID, 32)
	assert.Equal(t, strings.ReplaceAll(string(lib), "-", ""), rawID)

	before := h.holding(t, lib, "123").Available
	require.NoError(t, h.loans.Checkin(ctx, rawID, listing[0].Book.ISBN, "alice"))
	after := h.holding(t, lib, "123").Available

	assert.Equal(t, before+1, after)

	listing, err = h.loans.Loans(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, listing)
}

func TestCheckinWithMalformedIDSendsNothing(t *testing.T) {
	h := newHarness(t)

	err := h.loans.Checkin(context.Background(), "short", "123", "alice")

	assert.ErrorIs(t, err, apierr.ErrMalformedIdentifier)
}

func TestExtendMovesDueDateLater(t *testing.T) {
	h := newHarness(t)
	lib := h.libraryWithBook(t, "123", 1)
	ctx := context.Background()

	_, err := h.loans.Checkout(ctx, lib, h.holding(t, lib, "123"), "alice")
	require.NoError(t, err)
	before, err := h.loans.Loans(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, before, 1)

	_, err = h.loans.Extend(ctx, lib, "123", "alice")
	require.NoError(t, err)

	after, err := h.loans.Loans(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.True(t, after[0].DueDate.After(before[0].DueDate))
}

func TestInvalidTransitionsAreServerErrors(t *testing.T) {
	h := newHarness(t)
	lib := h.libraryWithBook(t, "123", 2)
	ctx := context.Background()

	_, err := h.loans.Extend(ctx, lib, "123", "alice")
	assert.ErrorIs(t, err, apierr.ErrServer)

	err = h.raw.Checkin(ctx, lib, "123", "alice")
	assert.ErrorIs(t, err, apierr.ErrServer)
}

func TestConcurrentCheckoutOfLastCopy(t *testing.T) {
	h := newHarness(t)
	lib := h.libraryWithBook(t, "123", 1)
	hd := h.holding(t, lib, "123")

	users := []string{"alice", "bob", "carol", "dave"}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, errs[i] = h.loans.Checkout(context.Background(), lib, hd, u)
		}(i, u)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apierr.ErrUnavailable)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, h.holding(t, lib, "123").Available)
}

func TestDeleteLibraryWithBooksFails(t *testing.T) {
	h := newHarness(t)
	lib := h.libraryWithBook(t, "123", 1)

	err := h.catalog.DeleteLibrary(context.Background(), lib)

	require.ErrorIs(t, err, apierr.ErrServer)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)
}

func TestCoverIsMissing(t *testing.T) {
	h := newHarness(t)

	_, ok := h.catalog.FetchCover(context.Background(), "123", catalog.CoverSmall)

	assert.False(t, ok)
}

func TestClientAgainstFailingService(t *testing.T) {
	svc := sandbox.NewService(sandbox.NewMemoryStore(), sandbox.NewMemoryEventLog())
	srv := httptest.NewServer(sandbox.NewHandler(svc,
		sandbox.WithFaults(sandbox.Fault{Type: sandbox.FaultFailure, BlastRadius: 1}),
	).Routes())
	t.Cleanup(srv.Close)
	cat, err := clients.NewCatalogClient(srv.URL)
	require.NoError(t, err)

	_, err = cat.ListLibraries(context.Background())

	require.ErrorIs(t, err, apierr.ErrServer)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Status)
	assert.Equal(t, "injected failure", apiErr.Message)
}

func TestSlowServiceTimesOut(t *testing.T) {
	svc := sandbox.NewService(sandbox.NewMemoryStore(), sandbox.NewMemoryEventLog())
	srv := httptest.NewServer(sandbox.NewHandler(svc,
		sandbox.WithFaults(sandbox.Fault{Type: sandbox.FaultLatency, Latency: 2 * time.Second, BlastRadius: 1}),
	).Routes())
	t.Cleanup(srv.Close)
	cat, err := clients.NewCatalogClient(srv.URL,
		clients.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)

	_, err = cat.ListLibraries(context.Background())

	assert.ErrorIs(t, err, apierr.ErrNetwork)
}
