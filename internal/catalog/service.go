// internal/catalog/service.go
package catalog

import (
	"context"

	"librarylink/internal/ids"
)

// Service defines the catalog browser: library and book listings used for
// display. It owns no loan state.
type Service interface {
	ListLibraries(ctx context.Context) ([]Library, error)
	AddLibrary(ctx context.Context, lib Library) (*Library, error)
	UpdateLibrary(ctx context.Context, lib Library) (*Library, error)
	DeleteLibrary(ctx context.Context, id ids.LibraryID) error
	GetHolding(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN) (*Holding, error)
	AddBook(ctx context.Context, libraryID ids.LibraryID, isbn ids.ISBN, stock int) error
	CoverURL(isbn ids.ISBN, size CoverSize) string
	FetchCover(ctx context.Context, isbn ids.ISBN, size CoverSize) ([]byte, bool)
}
