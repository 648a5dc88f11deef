// internal/sandbox/postgres_store.go
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"librarylink/internal/catalog"
	"librarylink/internal/circulation"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS libraries (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	address TEXT NOT NULL,
	open_time TEXT NOT NULL,
	close_time TEXT NOT NULL,
	open_days TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS books (
	isbn TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	authors JSONB NOT NULL DEFAULT '[]',
	cover TEXT NOT NULL DEFAULT '',
	by_statement TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS holdings (
	library_id UUID NOT NULL REFERENCES libraries (id),
	isbn TEXT NOT NULL REFERENCES books (isbn),
	stock INT NOT NULL,
	available INT NOT NULL,
	PRIMARY KEY (library_id, isbn),
	CHECK (available >= 0 AND available <= stock)
);
CREATE TABLE IF NOT EXISTS loans (
	id TEXT PRIMARY KEY,
	library_id UUID NOT NULL,
	isbn TEXT NOT NULL,
	username TEXT NOT NULL,
	checked_out_at TIMESTAMPTZ NOT NULL,
	due_date TIMESTAMPTZ NOT NULL,
	returned_at TIMESTAMPTZ,
	FOREIGN KEY (library_id, isbn) REFERENCES holdings (library_id, isbn)
);
CREATE UNIQUE INDEX IF NOT EXISTS loans_active_idx
	ON loans (library_id, isbn, username) WHERE returned_at IS NULL;
`

// PostgresStore keeps the sandbox state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the sandbox tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, storeSchema); err != nil {
		return fmt.Errorf("create sandbox tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLibraries(ctx context.Context) ([]catalog.Library, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, open_time, close_time, open_days
		FROM libraries
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query libraries: %w", err)
	}
	defer rows.Close()

	libs := []catalog.Library{}
	for rows.Next() {
		var lib catalog.Library
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.Address, &lib.OpenTime, &lib.CloseTime, &lib.OpenDays); err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

func (s *PostgresStore) GetLibrary(ctx context.Context, id ids.LibraryID) (catalog.Library, error) {
	var lib catalog.Library
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, open_time, close_time, open_days
		FROM libraries
		WHERE id = $1
	`, id).Scan(&lib.ID, &lib.Name, &lib.Address, &lib.OpenTime, &lib.CloseTime, &lib.OpenDays)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Library{}, ErrLibraryNotFound
	}
	if err != nil {
		return catalog.Library{}, fmt.Errorf("get library: %w", err)
	}
	return lib, nil
}

func (s *PostgresStore) CreateLibrary(ctx context.Context, lib catalog.Library) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO libraries (id, name, address, open_time, close_time, open_days)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, lib.ID, lib.Name, lib.Address, lib.OpenTime, lib.CloseTime, lib.OpenDays)
	if err != nil {
		return fmt.Errorf("insert library: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLibrary(ctx context.Context, lib catalog.Library) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE libraries
		SET name = $2, address = $3, open_time = $4, close_time = $5, open_days = $6
		WHERE id = $1
	`, lib.ID, lib.Name, lib.Address, lib.OpenTime, lib.CloseTime, lib.OpenDays)
	if err != nil {
		return fmt.Errorf("update library: %w", err)
	}
	return requireOneRow(res, ErrLibraryNotFound)
}

func (s *PostgresStore) DeleteLibrary(ctx context.Context, id ids.LibraryID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var holdings int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM holdings WHERE library_id = $1`, id).Scan(&holdings); err != nil {
			return fmt.Errorf("count holdings: %w", err)
		}
		if holdings > 0 {
			return ErrLibraryHasBooks
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM libraries WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete library: %w", err)
		}
		return requireOneRow(res, ErrLibraryNotFound)
	})
}

const holdingColumns = `
	h.isbn, h.stock, h.available,
	b.title, b.authors, b.cover, b.by_statement, b.description
`

func (s *PostgresStore) ListHoldings(ctx context.Context, libraryID ids.LibraryID) ([]catalog.Holding, error) {
	if _, err := s.GetLibrary(ctx, libraryID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+holdingColumns+`
		FROM holdings h JOIN books b ON b.isbn = h.isbn
		WHERE h.library_id = $1
		ORDER BY h.isbn
	`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("query holdings: %w", err)
	}
	defer rows.Close()

	holdings := []catalog.Holding{}
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *PostgresStore) GetHolding(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN) (catalog.Holding, error) {
	if _, err := s.GetLibrary(ctx, libraryID); err != nil {
		return catalog.Holding{}, err
	}
	h, err := scanHolding(s.db.QueryRowContext(ctx, `
		SELECT `+holdingColumns+`
		FROM holdings h JOIN books b ON b.isbn = h.isbn
		WHERE h.library_id = $1 AND h.isbn = $2
	`, libraryID, isbn))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Holding{}, ErrBookNotFound
	}
	return h, err
}

func (s *PostgresStore) AddStock(ctx context.Context, libraryID ids.LibraryID, book catalog.Book, stock int) (catalog.Holding, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM libraries WHERE id = $1)`, libraryID).Scan(&exists); err != nil {
			return fmt.Errorf("check library: %w", err)
		}
		if !exists {
			return ErrLibraryNotFound
		}

		current, err := scanBook(tx.QueryRowContext(ctx, `
			SELECT title, authors, cover, by_statement, description FROM books WHERE isbn = $1
		`, book.ISBN))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		merged := mergeBook(current, book)
		authors, err := json.Marshal(merged.Authors)
		if err != nil {
			return fmt.Errorf("marshal authors: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO books (isbn, title, authors, cover, by_statement, description)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (isbn) DO UPDATE
			SET title = EXCLUDED.title, authors = EXCLUDED.authors, cover = EXCLUDED.cover,
			    by_statement = EXCLUDED.by_statement, description = EXCLUDED.description
		`, merged.ISBN, merged.Title, authors, merged.Cover, merged.ByStatement, merged.Description)
		if err != nil {
			return fmt.Errorf("upsert book: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO holdings (library_id, isbn, stock, available)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (library_id, isbn) DO UPDATE
			SET stock = holdings.stock + EXCLUDED.stock, available = holdings.available + EXCLUDED.stock
		`, libraryID, book.ISBN, stock)
		if err != nil {
			return fmt.Errorf("upsert holding: %w", err)
		}
		return nil
	})
	if err != nil {
		return catalog.Holding{}, err
	}
	return s.GetHolding(ctx, libraryID, book.ISBN)
}

func (s *PostgresStore) Checkout(ctx context.Context, loan circulation.Loan) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		available, err := lockHolding(ctx, tx, loan.LibraryID, loan.ISBN)
		if err != nil {
			return err
		}
		if _, _, err := activeLoan(ctx, tx, loan.LibraryID, loan.ISBN, loan.Username, circulation.ActionCheckout); err != nil {
			return err
		}
		if !catalog.CanCheckout(catalog.Holding{Available: available}) {
			return ErrNoCopies
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE holdings SET available = available - 1 WHERE library_id = $1 AND isbn = $2
		`, loan.LibraryID, loan.ISBN); err != nil {
			return fmt.Errorf("take copy: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO loans (id, library_id, isbn, username, checked_out_at, due_date)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, loan.ID, loan.LibraryID, loan.ISBN, loan.Username, loan.CheckedOutAt, loan.DueDate)
		if err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Extend(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, user membership.Username, d time.Duration) (circulation.Loan, circulation.Loan, error) {
	var before, after circulation.Loan
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockHolding(ctx, tx, libraryID, isbn); err != nil {
			return err
		}
		loan, _, err := activeLoan(ctx, tx, libraryID, isbn, user, circulation.ActionExtend)
		if err != nil {
			return err
		}
		before = loan
		after = loan
		after.DueDate = loan.DueDate.Add(d)
		if _, err := tx.ExecContext(ctx, `UPDATE loans SET due_date = $2 WHERE id = $1`, loan.ID, after.DueDate); err != nil {
			return fmt.Errorf("extend loan: %w", err)
		}
		return nil
	})
	return before, after, err
}

func (s *PostgresStore) Checkin(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, user membership.Username, at time.Time) (circulation.Loan, error) {
	var ended circulation.Loan
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockHolding(ctx, tx, libraryID, isbn); err != nil {
			return err
		}
		loan, _, err := activeLoan(ctx, tx, libraryID, isbn, user, circulation.ActionCheckin)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE loans SET returned_at = $2 WHERE id = $1`, loan.ID, at); err != nil {
			return fmt.Errorf("end loan: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE holdings SET available = available + 1 WHERE library_id = $1 AND isbn = $2
		`, libraryID, isbn); err != nil {
			return fmt.Errorf("return copy: %w", err)
		}
		ended = loan
		return nil
	})
	return ended, err
}

func (s *PostgresStore) LoansByUser(ctx context.Context, user membership.Username) ([]circulation.CheckedOutBook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.library_id, l.isbn, l.due_date, b.title, b.authors, b.cover, b.by_statement, b.description
		FROM loans l JOIN books b ON b.isbn = l.isbn
		WHERE l.username = $1 AND l.returned_at IS NULL
		ORDER BY l.due_date
	`, user)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer rows.Close()

	books := []circulation.CheckedOutBook{}
	for rows.Next() {
		var (
			b       circulation.CheckedOutBook
			authors []byte
		)
		if err := rows.Scan(&b.LibraryID, &b.Book.ISBN, &b.DueDate, &b.Book.Title, &authors,
			&b.Book.Cover, &b.Book.ByStatement, &b.Book.Description); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		if err := json.Unmarshal(authors, &b.Book.Authors); err != nil {
			return nil, fmt.Errorf("decode authors: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// lockHolding locks the holding row for the rest of tx and returns its
// available count.
func lockHolding(ctx context.Context, tx *sql.Tx, libraryID ids.LibraryID, isbn ids.ISBN) (int, error) {
	var available int
	err := tx.QueryRowContext(ctx, `
		SELECT available FROM holdings WHERE library_id = $1 AND isbn = $2 FOR UPDATE
	`, libraryID, isbn).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrBookNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock holding: %w", err)
	}
	return available, nil
}

// activeLoan loads the active loan, if any, and checks that action is allowed.
func activeLoan(ctx context.Context, tx *sql.Tx, libraryID ids.LibraryID, isbn ids.ISBN, user membership.Username, action circulation.Action) (circulation.Loan, bool, error) {
	loan := circulation.Loan{LibraryID: libraryID, ISBN: isbn, Username: user}
	err := tx.QueryRowContext(ctx, `
		SELECT id, checked_out_at, due_date
		FROM loans
		WHERE library_id = $1 AND isbn = $2 AND username = $3 AND returned_at IS NULL
	`, libraryID, isbn, user).Scan(&loan.ID, &loan.CheckedOutAt, &loan.DueDate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return circulation.Loan{}, false, fmt.Errorf("query active loan: %w", err)
	}
	active := err == nil
	if _, err := circulation.Next(loanState(active), action); err != nil {
		return circulation.Loan{}, active, err
	}
	return loan, active, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHolding(row rowScanner) (catalog.Holding, error) {
	var (
		h       catalog.Holding
		authors []byte
	)
	err := row.Scan(&h.ISBN, &h.Stock, &h.Available,
		&h.Book.Title, &authors, &h.Book.Cover, &h.Book.ByStatement, &h.Book.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Holding{}, err
		}
		return catalog.Holding{}, fmt.Errorf("scan holding: %w", err)
	}
	if err := json.Unmarshal(authors, &h.Book.Authors); err != nil {
		return catalog.Holding{}, fmt.Errorf("decode authors: %w", err)
	}
	h.Book.ISBN = h.ISBN
	h.CheckedOut = h.Stock - h.Available
	return h, nil
}

func scanBook(row rowScanner) (catalog.Book, error) {
	var (
		b       catalog.Book
		authors []byte
	)
	if err := row.Scan(&b.Title, &authors, &b.Cover, &b.ByStatement, &b.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Book{}, err
		}
		return catalog.Book{}, fmt.Errorf("scan book: %w", err)
	}
	if err := json.Unmarshal(authors, &b.Authors); err != nil {
		return catalog.Book{}, fmt.Errorf("decode authors: %w", err)
	}
	return b, nil
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
