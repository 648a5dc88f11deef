package circulation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarylink/internal/apierr"
	"librarylink/internal/catalog"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

const testLibrary = ids.LibraryID("abcdefgh-ijkl-mnop-qrst-uvwxyz123456")

// fakeLoanClient records calls and answers with canned results.
type fakeLoanClient struct {
	mu        sync.Mutex
	checkouts int32
	checkins  []ids.LibraryID
	users     []membership.Username
	release   chan struct{}
	err       error
}

func (f *fakeLoanClient) ListHoldings(ctx context.Context, libraryID ids.LibraryID) ([]catalog.Holding, error) {
	return []catalog.Holding{{ISBN: "123", Available: 2}}, f.err
}

func (f *fakeLoanClient) Checkout(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username) (*Loan, error) {
	atomic.AddInt32(&f.checkouts, 1)
	f.mu.Lock()
	f.users = append(f.users, username)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Loan{ID: "L1", LibraryID: libraryID, ISBN: isbn, Username: username, DueDate: time.Now().Add(14 * 24 * time.Hour)}, nil
}

func (f *fakeLoanClient) Checkin(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkins = append(f.checkins, libraryID)
	f.users = append(f.users, username)
	return f.err
}

func (f *fakeLoanClient) Extend(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username) (*Loan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Loan{LibraryID: libraryID, ISBN: isbn, Username: username}, nil
}

func (f *fakeLoanClient) CheckedOut(ctx context.Context, username membership.Username) ([]CheckedOutBook, error) {
	f.mu.Lock()
	f.users = append(f.users, username)
	f.mu.Unlock()
	return []CheckedOutBook{}, f.err
}

func TestCheckoutRefusedWithoutAvailableCopies(t *testing.T) {
	client := &fakeLoanClient{}
	svc := NewService(client)

	_, err := svc.Checkout(context.Background(), testLibrary, catalog.Holding{ISBN: "123", Available: 0}, "alice")

	require.ErrorIs(t, err, apierr.ErrUnavailable)
	assert.Zero(t, atomic.LoadInt32(&client.checkouts), "no request may be sent when the gate refuses")
}

func TestCheckoutLowercasesUsername(t *testing.T) {
	client := &fakeLoanClient{}
	svc := NewService(client)

	loan, err := svc.Checkout(context.Background(), testLibrary, catalog.Holding{ISBN: "123", Available: 1}, "  Alice ")

	require.NoError(t, err)
	assert.Equal(t, membership.Username("alice"), loan.Username)
	assert.Equal(t, []membership.Username{"alice"}, client.users)
}

func TestCheckoutRejectsEmptyUsername(t *testing.T) {
	client := &fakeLoanClient{}
	svc := NewService(client)

	_, err := svc.Checkout(context.Background(), testLibrary, catalog.Holding{ISBN: "123", Available: 1}, "   ")

	assert.ErrorIs(t, err, membership.ErrEmptyUsername)
	assert.Zero(t, atomic.LoadInt32(&client.checkouts))
}

func TestCheckoutPassesServiceRefusalThrough(t *testing.T) {
	client := &fakeLoanClient{err: apierr.Unavailable("checkout", 409, "no copies")}
	svc := NewService(client)

	_, err := svc.Checkout(context.Background(), testLibrary, catalog.Holding{ISBN: "123", Available: 1}, "alice")

	assert.ErrorIs(t, err, apierr.ErrUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.checkouts), "refusals are not retried")
}

func TestCheckinNormalizesLibraryID(t *testing.T) {
	client := &fakeLoanClient{}
	svc := NewService(client)

	err := svc.Checkin(context.Background(), "abcdefghijklmnopqrstuvwxyz123456", "123", "Alice")

	require.NoError(t, err)
	assert.Equal(t, []ids.LibraryID{testLibrary}, client.checkins)
	assert.Equal(t, []membership.Username{"alice"}, client.users)
}

func TestCheckinMalformedIDSendsNothing(t *testing.T) {
	client := &fakeLoanClient{}
	svc := NewService(client)

	err := svc.Checkin(context.Background(), "abc", "123", "alice")

	assert.ErrorIs(t, err, apierr.ErrMalformedIdentifier)
	assert.Empty(t, client.checkins)
}

func TestLoansLowercasesUsername(t *testing.T) {
	client := &fakeLoanClient{}
	svc := NewService(client)

	books, err := svc.Loans(context.Background(), "BOB")

	require.NoError(t, err)
	assert.Empty(t, books)
	assert.Equal(t, []membership.Username{"bob"}, client.users)
}

func TestExtendReturnsLoan(t *testing.T) {
	svc := NewService(&fakeLoanClient{})

	loan, err := svc.Extend(context.Background(), testLibrary, "123", "alice")

	require.NoError(t, err)
	assert.Equal(t, ids.ISBN("123"), loan.ISBN)
}

func TestHoldings(t *testing.T) {
	svc := NewService(&fakeLoanClient{})

	holdings, err := svc.Holdings(context.Background(), testLibrary)

	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.True(t, catalog.CanCheckout(holdings[0]))
}

func TestInflightDedupSharesOneRequest(t *testing.T) {
	client := &fakeLoanClient{release: make(chan struct{})}
	svc := NewService(client, WithInflightDedup())
	holding := catalog.Holding{ISBN: "123", Available: 1}

	const callers = 5
	var wg sync.WaitGroup
	loans := make([]*Loan, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loans[i], errs[i] = svc.Checkout(context.Background(), testLibrary, holding, "alice")
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&client.checkouts) == 1 }, time.Second, time.Millisecond)
	// Give the remaining callers time to join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(client.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&client.checkouts))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "L1", loans[i].ID)
	}
	loans[0].ID = "changed"
	assert.Equal(t, "L1", loans[1].ID, "callers get independent copies")
}

func TestInflightDedupKeepsDistinctRequestsApart(t *testing.T) {
	client := &fakeLoanClient{release: make(chan struct{})}
	svc := NewService(client, WithInflightDedup())

	requests := []struct {
		isbn ids.ISBN
		user string
	}{
		{isbn: "x|y", user: "z"},
		{isbn: "x", user: "y|z"},
	}
	var wg sync.WaitGroup
	loans := make([]*Loan, len(requests))
	errs := make([]error, len(requests))
	for i, req := range requests {
		wg.Add(1)
		go func(i int, isbn ids.ISBN, user string) {
			defer wg.Done()
			loans[i], errs[i] = svc.Checkout(context.Background(), testLibrary, catalog.Holding{ISBN: isbn, Available: 1}, user)
		}(i, req.isbn, req.user)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&client.checkouts) == 2 }, time.Second, time.Millisecond)
	close(client.release)
	wg.Wait()

	for i, req := range requests {
		require.NoError(t, errs[i])
		assert.Equal(t, req.isbn, loans[i].ISBN)
		assert.Equal(t, membership.Username(req.user), loans[i].Username)
	}
}

func TestInflightKey(t *testing.T) {
	a := inflightKey(ActionCheckout, testLibrary, "x|y", "z")
	b := inflightKey(ActionCheckout, testLibrary, "x", "y|z")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, inflightKey(ActionCheckout, testLibrary, "123", "alice"), inflightKey(ActionCheckin, testLibrary, "123", "alice"))
	assert.Equal(t, a, inflightKey(ActionCheckout, testLibrary, "x|y", "z"))
}

func TestWithoutDedupEveryCallIsSent(t *testing.T) {
	client := &fakeLoanClient{}
	svc := NewService(client)
	holding := catalog.Holding{ISBN: "123", Available: 1}

	for i := 0; i < 3; i++ {
		_, err := svc.Checkout(context.Background(), testLibrary, holding, "alice")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), atomic.LoadInt32(&client.checkouts))
}
