// internal/catalog/domain.go
package catalog

import (
	"errors"
	"strings"

	"librarylink/internal/ids"
)

// ErrIncompleteLibrary is returned when a library is missing a required field.
var ErrIncompleteLibrary = errors.New("library name, address, opening hours and opening days are required")

// Library is a library branch as listed by the service.
type Library struct {
	ID        ids.LibraryID `json:"id,omitempty"`
	Name      string        `json:"name"`
	Address   string        `json:"address"`
	OpenTime  string        `json:"openTime"`
	CloseTime string        `json:"closeTime"`
	OpenDays  string        `json:"openDays"`
}

// Validate checks that every descriptive field is filled in.
func (l Library) Validate() error {
	for _, f := range []string{l.Name, l.Address, l.OpenTime, l.CloseTime, l.OpenDays} {
		if strings.TrimSpace(f) == "" {
			return ErrIncompleteLibrary
		}
	}
	return nil
}

type Author struct {
	Name string `json:"name"`
}

// Book is the catalog metadata of an edition.
type Book struct {
	ISBN        ids.ISBN `json:"isbn,omitempty"`
	Title       string   `json:"title"`
	Authors     []Author `json:"authors,omitempty"`
	Cover       string   `json:"cover,omitempty"`
	ByStatement string   `json:"byStatement,omitempty"`
	Description string   `json:"description,omitempty"`
}

// PrimaryAuthor returns the first author's name, or "Unknown Author".
func (b Book) PrimaryAuthor() string {
	if len(b.Authors) > 0 && b.Authors[0].Name != "" {
		return b.Authors[0].Name
	}
	if b.ByStatement != "" {
		return b.ByStatement
	}
	return "Unknown Author"
}

// Holding is a library's stock of one edition.
type Holding struct {
	ISBN       ids.ISBN `json:"isbn"`
	Book       Book     `json:"book"`
	Stock      int      `json:"stock"`
	Available  int      `json:"available"`
	CheckedOut int      `json:"checkedOut"`
}

// CheckedOutCount returns the reported checked-out count, falling back to
// stock minus available when the service did not report it.
func (h Holding) CheckedOutCount() int {
	if h.CheckedOut > 0 {
		return h.CheckedOut
	}
	if n := h.Stock - h.Available; n > 0 {
		return n
	}
	return 0
}

// CoverSize selects one of the cover image renditions.
type CoverSize string

const (
	CoverSmall  CoverSize = "S"
	CoverMedium CoverSize = "M"
	CoverLarge  CoverSize = "L"
)

// Valid reports whether s is one of S, M or L.
func (s CoverSize) Valid() bool {
	switch s {
	case CoverSmall, CoverMedium, CoverLarge:
		return true
	}
	return false
}
