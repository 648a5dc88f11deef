// Package ids holds the opaque identifiers used to address libraries and books
// on the library service.
package ids

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"librarylink/internal/apierr"
)

// rawLibraryIDLen is the length of an unhyphenated library id.
const rawLibraryIDLen = 32

// LibraryID identifies a library branch. The canonical form is a hyphenated
// UUID; listings may report the unhyphenated 32-character form.
type LibraryID string

// ISBN identifies a book edition. It joins a library's holdings with the
// catalog metadata of the book.
type ISBN string

// Normalize converts a 32-character library id into its canonical
// xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx form.
//
// Only the length in characters is checked: the characters are not required
// to be hex and the UUID version bits are not inspected. An id that is already
// hyphenated is 36 characters long and is rejected like any other wrong length.
func Normalize(raw string) (LibraryID, error) {
	if n := utf8.RuneCountInString(raw); n != rawLibraryIDLen {
		return "", apierr.Malformed("normalize library id",
			fmt.Sprintf("%q has %d characters, want %d", raw, n, rawLibraryIDLen))
	}
	r := []rune(raw)
	return LibraryID(string(r[0:8]) + "-" + string(r[8:12]) + "-" + string(r[12:16]) + "-" + string(r[16:20]) + "-" + string(r[20:])), nil
}

// Canonical reports whether id is a hyphenated UUID.
func (id LibraryID) Canonical() bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(string(id))
	return err == nil
}

func (id LibraryID) String() string { return string(id) }

func (i ISBN) String() string { return string(i) }
