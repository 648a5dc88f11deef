// internal/sandbox/memory_store.go
package sandbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"librarylink/internal/catalog"
	"librarylink/internal/circulation"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

type loanKey struct {
	library ids.LibraryID
	isbn    ids.ISBN
	user    membership.Username
}

type holdingKey struct {
	library ids.LibraryID
	isbn    ids.ISBN
}

// MemoryStore keeps the sandbox state in process. It is the default store.
type MemoryStore struct {
	mu        sync.Mutex
	libraries map[ids.LibraryID]catalog.Library
	books     map[ids.ISBN]catalog.Book
	holdings  map[holdingKey]catalog.Holding
	loans     map[loanKey]circulation.Loan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		libraries: make(map[ids.LibraryID]catalog.Library),
		books:     make(map[ids.ISBN]catalog.Book),
		holdings:  make(map[holdingKey]catalog.Holding),
		loans:     make(map[loanKey]circulation.Loan),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) ListLibraries(ctx context.Context) ([]catalog.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	libs := make([]catalog.Library, 0, len(m.libraries))
	for _, lib := range m.libraries {
		libs = append(libs, lib)
	}
	sort.Slice(libs, func(i, j int) bool {
		if libs[i].Name != libs[j].Name {
			return libs[i].Name < libs[j].Name
		}
		return libs[i].ID < libs[j].ID
	})
	return libs, nil
}

func (m *MemoryStore) GetLibrary(ctx context.Context, id ids.LibraryID) (catalog.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lib, ok := m.libraries[id]
	if !ok {
		return catalog.Library{}, ErrLibraryNotFound
	}
	return lib, nil
}

func (m *MemoryStore) CreateLibrary(ctx context.Context, lib catalog.Library) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.libraries[lib.ID] = lib
	return nil
}

func (m *MemoryStore) UpdateLibrary(ctx context.Context, lib catalog.Library) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.libraries[lib.ID]; !ok {
		return ErrLibraryNotFound
	}
	m.libraries[lib.ID] = lib
	return nil
}

func (m *MemoryStore) DeleteLibrary(ctx context.Context, id ids.LibraryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.libraries[id]; !ok {
		return ErrLibraryNotFound
	}
	for k := range m.holdings {
		if k.library == id {
			return ErrLibraryHasBooks
		}
	}
	delete(m.libraries, id)
	return nil
}

func (m *MemoryStore) ListHoldings(ctx context.Context, libraryID ids.LibraryID) ([]catalog.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.libraries[libraryID]; !ok {
		return nil, ErrLibraryNotFound
	}
	holdings := []catalog.Holding{}
	for k, h := range m.holdings {
		if k.library == libraryID {
			holdings = append(holdings, m.withBook(h))
		}
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].ISBN < holdings[j].ISBN })
	return holdings, nil
}

func (m *MemoryStore) GetHolding(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN) (catalog.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.libraries[libraryID]; !ok {
		return catalog.Holding{}, ErrLibraryNotFound
	}
	h, ok := m.holdings[holdingKey{libraryID, isbn}]
	if !ok {
		return catalog.Holding{}, ErrBookNotFound
	}
	return m.withBook(h), nil
}

func (m *MemoryStore) AddStock(ctx context.Context, libraryID ids.LibraryID, book catalog.Book, stock int) (catalog.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.libraries[libraryID]; !ok {
		return catalog.Holding{}, ErrLibraryNotFound
	}
	m.books[book.ISBN] = mergeBook(m.books[book.ISBN], book)

	k := holdingKey{libraryID, book.ISBN}
	h := m.holdings[k]
	h.ISBN = book.ISBN
	h.Stock += stock
	h.Available += stock
	m.holdings[k] = h
	return m.withBook(h), nil
}

func (m *MemoryStore) Checkout(ctx context.Context, loan circulation.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := holdingKey{loan.LibraryID, loan.ISBN}
	h, ok := m.holdings[k]
	if !ok {
		return ErrBookNotFound
	}
	lk := loanKey{loan.LibraryID, loan.ISBN, loan.Username}
	_, active := m.loans[lk]
	if _, err := circulation.Next(loanState(active), circulation.ActionCheckout); err != nil {
		return err
	}
	if !catalog.CanCheckout(h) {
		return ErrNoCopies
	}

	h.Available--
	m.holdings[k] = h
	m.loans[lk] = loan
	return nil
}

func (m *MemoryStore) Extend(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, user membership.Username, d time.Duration) (circulation.Loan, circulation.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.holdings[holdingKey{libraryID, isbn}]; !ok {
		return circulation.Loan{}, circulation.Loan{}, ErrBookNotFound
	}
	lk := loanKey{libraryID, isbn, user}
	before, active := m.loans[lk]
	if _, err := circulation.Next(loanState(active), circulation.ActionExtend); err != nil {
		return circulation.Loan{}, circulation.Loan{}, err
	}

	after := before
	after.DueDate = before.DueDate.Add(d)
	m.loans[lk] = after
	return before, after, nil
}

func (m *MemoryStore) Checkin(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, user membership.Username, at time.Time) (circulation.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := holdingKey{libraryID, isbn}
	h, ok := m.holdings[k]
	if !ok {
		return circulation.Loan{}, ErrBookNotFound
	}
	lk := loanKey{libraryID, isbn, user}
	loan, active := m.loans[lk]
	if _, err := circulation.Next(loanState(active), circulation.ActionCheckin); err != nil {
		return circulation.Loan{}, err
	}

	h.Available++
	m.holdings[k] = h
	delete(m.loans, lk)
	return loan, nil
}

func (m *MemoryStore) LoansByUser(ctx context.Context, user membership.Username) ([]circulation.CheckedOutBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	books := []circulation.CheckedOutBook{}
	for k, loan := range m.loans {
		if k.user != user {
			continue
		}
		book := m.books[k.isbn]
		book.ISBN = k.isbn
		books = append(books, circulation.CheckedOutBook{
			LibraryID: loan.LibraryID,
			Book:      book,
			DueDate:   loan.DueDate,
		})
	}
	sort.Slice(books, func(i, j int) bool { return books[i].DueDate.Before(books[j].DueDate) })
	return books, nil
}

// withBook attaches catalog metadata and the checked-out count to h.
func (m *MemoryStore) withBook(h catalog.Holding) catalog.Holding {
	h.Book = m.books[h.ISBN]
	h.Book.ISBN = h.ISBN
	h.CheckedOut = h.Stock - h.Available
	return h
}
