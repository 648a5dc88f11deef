// internal/clients/circulation_client.go
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"

	"librarylink/internal/apierr"
	"librarylink/internal/catalog"
	"librarylink/internal/circulation"
	"librarylink/internal/ids"
	"librarylink/internal/membership"
)

// CirculationClient performs the loan operations. Every call is a single
// attempt: nothing is retried, cached or de-duplicated here. After any
// mutating call the caller re-fetches to refresh its view.
type CirculationClient struct {
	t *transport
}

func NewCirculationClient(baseURL string, opts ...Option) (*CirculationClient, error) {
	t, err := newTransport(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &CirculationClient{t: t}, nil
}

var _ circulation.LoanClient = (*CirculationClient)(nil)

// ListHoldings returns the books of a library with their availability.
func (c *CirculationClient) ListHoldings(ctx context.Context, libraryID ids.LibraryID) ([]catalog.Holding, error) {
	const op = "list_holdings"
	var holdings []catalog.Holding
	err := c.t.exec(ctx, call{
		op:     op,
		method: http.MethodGet,
		path:   fmt.Sprintf("/v1/library/%s/book", segment(string(libraryID))),
		attrs:  []attribute.KeyValue{attribute.String("library.id", string(libraryID))},
	}, func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		return r.decode(op, &holdings)
	})
	if err != nil {
		return nil, err
	}
	for i := range holdings {
		if holdings[i].Book.ISBN == "" {
			holdings[i].Book.ISBN = holdings[i].ISBN
		}
	}
	return holdings, nil
}

// Checkout borrows a copy for username. A 409 means the service had no copy
// left at call time and is returned as Unavailable.
func (c *CirculationClient) Checkout(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username) (*circulation.Loan, error) {
	const op = "checkout"
	body := struct {
		Username membership.Username `json:"username"`
	}{Username: username}

	loan := circulation.Loan{LibraryID: libraryID, ISBN: isbn, Username: username}
	err := c.t.exec(ctx, loanCall(op, libraryID, isbn, username, body), func(r *response) error {
		if r.status == http.StatusConflict {
			return apierr.Unavailable(op, r.status, r.message())
		}
		if !r.ok() {
			return statusError(op, r)
		}
		c.readLoan(ctx, op, r, &loan)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// Checkin returns a copy. libraryID must already be canonical (see
// ids.Normalize). A success response may carry a JSON body; any body that is
// not JSON is a DecodeError whatever the status.
func (c *CirculationClient) Checkin(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username) error {
	const op = "checkin"
	body := struct {
		LibraryID ids.LibraryID       `json:"libraryId"`
		ISBN      ids.ISBN            `json:"isbn"`
		Username  membership.Username `json:"username"`
	}{LibraryID: libraryID, ISBN: isbn, Username: username}

	return c.t.exec(ctx, loanCall(op, libraryID, isbn, username, body), func(r *response) error {
		if !r.empty() && !json.Valid(r.body) {
			return apierr.Decode(op, errors.New("response body is not JSON"))
		}
		if !r.ok() {
			return statusError(op, r)
		}
		return nil
	})
}

// Extend pushes the due date of a loan forward by a service-determined amount.
func (c *CirculationClient) Extend(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username) (*circulation.Loan, error) {
	const op = "extend"
	loan := circulation.Loan{LibraryID: libraryID, ISBN: isbn, Username: username}
	err := c.t.exec(ctx, loanCall(op, libraryID, isbn, username, nil), func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		c.readLoan(ctx, op, r, &loan)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// CheckedOut lists the books currently on loan to username.
func (c *CirculationClient) CheckedOut(ctx context.Context, username membership.Username) ([]circulation.CheckedOutBook, error) {
	const op = "checked_out"
	var books []circulation.CheckedOutBook
	err := c.t.exec(ctx, call{
		op:     op,
		method: http.MethodGet,
		path:   "/v1/user/checked-out",
		query:  url.Values{"userId": {string(username)}},
		attrs:  []attribute.KeyValue{attribute.String("user.name", string(username))},
	}, func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		return r.decode(op, &books)
	})
	if err != nil {
		return nil, err
	}
	if books == nil {
		books = []circulation.CheckedOutBook{}
	}
	return books, nil
}

func loanCall(op string, libraryID ids.LibraryID, isbn ids.ISBN, username membership.Username, body interface{}) call {
	return call{
		op:     op,
		method: http.MethodPost,
		path:   fmt.Sprintf("/v1/library/%s/book/%s/%s", segment(string(libraryID)), segment(string(isbn)), op),
		query:  url.Values{"userId": {string(username)}},
		body:   body,
		attrs: append(bookAttrs(libraryID, isbn),
			attribute.String("user.name", string(username)),
		),
	}
}

// readLoan overlays the loan reported in a success body onto loan. Success
// bodies are optional; one that is not a JSON loan is logged and leaves loan
// as requested.
func (c *CirculationClient) readLoan(ctx context.Context, op string, r *response, loan *circulation.Loan) {
	if r.empty() {
		return
	}
	var reported circulation.Loan
	if err := json.Unmarshal(r.body, &reported); err != nil {
		c.t.logger.DebugContext(ctx, "ignoring unreadable loan in success body",
			"op", op,
			"status", r.status,
			"error", err,
		)
		return
	}
	if reported.ID != "" {
		loan.ID = reported.ID
	}
	if !reported.CheckedOutAt.IsZero() {
		loan.CheckedOutAt = reported.CheckedOutAt
	}
	if !reported.DueDate.IsZero() {
		loan.DueDate = reported.DueDate
	}
}
