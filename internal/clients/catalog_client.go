// internal/clients/catalog_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/attribute"

	"librarylink/internal/apierr"
	"librarylink/internal/catalog"
	"librarylink/internal/ids"
)

// CatalogClient browses libraries and their books. It implements catalog.Service.
type CatalogClient struct {
	t *transport
}

func NewCatalogClient(baseURL string, opts ...Option) (*CatalogClient, error) {
	t, err := newTransport(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &CatalogClient{t: t}, nil
}

var _ catalog.Service = (*CatalogClient)(nil)

func (c *CatalogClient) ListLibraries(ctx context.Context) ([]catalog.Library, error) {
	const op = "list_libraries"
	var libs []catalog.Library
	err := c.t.exec(ctx, call{op: op, method: http.MethodGet, path: "/v1/library"}, func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		return r.decode(op, &libs)
	})
	if err != nil {
		return nil, err
	}
	return libs, nil
}

// AddLibrary creates lib and returns the library as stored by the service.
func (c *CatalogClient) AddLibrary(ctx context.Context, lib catalog.Library) (*catalog.Library, error) {
	const op = "add_library"
	added := lib
	err := c.t.exec(ctx, call{op: op, method: http.MethodPost, path: "/v1/library", body: lib}, func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		if r.empty() {
			return nil
		}
		return r.decode(op, &added)
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

func (c *CatalogClient) UpdateLibrary(ctx context.Context, lib catalog.Library) (*catalog.Library, error) {
	const op = "update_library"
	updated := lib
	err := c.t.exec(ctx, call{
		op:     op,
		method: http.MethodPut,
		path:   "/v1/library/" + segment(string(lib.ID)),
		body:   lib,
		attrs:  []attribute.KeyValue{attribute.String("library.id", string(lib.ID))},
	}, func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		if r.empty() {
			return nil
		}
		return r.decode(op, &updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteLibrary removes a library. The service refuses with a 500 while the
// library still holds books.
func (c *CatalogClient) DeleteLibrary(ctx context.Context, id ids.LibraryID) error {
	const op = "delete_library"
	return c.t.exec(ctx, call{
		op:     op,
		method: http.MethodDelete,
		path:   "/v1/library/" + segment(string(id)),
		attrs:  []attribute.KeyValue{attribute.String("library.id", string(id))},
	}, func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		return nil
	})
}

// GetHolding returns a library's record of one book with its catalog metadata.
// A response without book metadata is reported as NotFound.
func (c *CatalogClient) GetHolding(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN) (*catalog.Holding, error) {
	const op = "get_holding"
	var h catalog.Holding
	err := c.t.exec(ctx, call{
		op:     op,
		method: http.MethodGet,
		path:   fmt.Sprintf("/v1/library/%s/book/%s", segment(string(libraryID)), segment(string(isbn))),
		attrs:  bookAttrs(libraryID, isbn),
	}, func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		var probe struct {
			Book jsoniter.RawMessage `json:"book"`
		}
		if err := r.decode(op, &probe); err != nil {
			return err
		}
		if len(probe.Book) == 0 || string(probe.Book) == "null" {
			return apierr.NotFound(op, r.status, "book details not found")
		}
		return r.decode(op, &h)
	})
	if err != nil {
		return nil, err
	}
	if h.ISBN == "" {
		h.ISBN = isbn
	}
	return &h, nil
}

// AddBook registers stock copies of isbn at a library.
func (c *CatalogClient) AddBook(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, stock int) error {
	const op = "add_book"
	body := struct {
		Stock int `json:"stock"`
	}{Stock: stock}

	return c.t.exec(ctx, call{
		op:     op,
		method: http.MethodPost,
		path:   fmt.Sprintf("/v1/library/%s/book/%s", segment(string(libraryID)), segment(string(isbn))),
		body:   body,
		attrs:  bookAttrs(libraryID, isbn),
	}, func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		return nil
	})
}

// CoverURL returns the address of a cover image.
func (c *CatalogClient) CoverURL(isbn ids.ISBN, size catalog.CoverSize) string {
	return c.t.baseURL + coverPath(isbn, size)
}

// FetchCover downloads a cover image. Any failure, including an empty body,
// reports the cover as missing so the caller shows a placeholder.
func (c *CatalogClient) FetchCover(ctx context.Context, isbn ids.ISBN, size catalog.CoverSize) ([]byte, bool) {
	const op = "fetch_cover"
	if !size.Valid() {
		return nil, false
	}

	var img []byte
	err := c.t.exec(ctx, call{
		op:     op,
		method: http.MethodGet,
		path:   coverPath(isbn, size),
		attrs:  []attribute.KeyValue{attribute.String("book.isbn", string(isbn))},
	}, func(r *response) error {
		if !r.ok() {
			return statusError(op, r)
		}
		if len(r.body) == 0 {
			return apierr.NotFound(op, r.status, "empty cover image")
		}
		img = r.body
		return nil
	})
	if err != nil {
		c.t.logger.DebugContext(ctx, "cover unavailable", "isbn", isbn, "size", size, "error", err)
		return nil, false
	}
	return img, true
}

func coverPath(isbn ids.ISBN, size catalog.CoverSize) string {
	return fmt.Sprintf("/v1/assets/cover/%s-%s.jpg", segment(string(isbn)), size)
}

func bookAttrs(libraryID ids.LibraryID, isbn ids.ISBN) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("library.id", string(libraryID)),
		attribute.String("book.isbn", string(isbn)),
	}
}
