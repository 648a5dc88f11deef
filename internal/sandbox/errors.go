// internal/sandbox/errors.go
package sandbox

import (
	"errors"
	"net/http"

	"librarylink/internal/circulation"
)

var errRateLimited = errors.New("rate limit exceeded")

// ToHTTPStatus maps a service error to the status the library service
// answers with.
func ToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrLibraryNotFound), errors.Is(err, ErrBookNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoCopies):
		return http.StatusConflict
	case errors.Is(err, circulation.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		// Includes ErrLibraryHasBooks, which the service reports as a 500.
		return http.StatusInternalServerError
	}
}

// publicMessage is the text sent in an error body. Unexpected errors are not
// exposed.
func publicMessage(err error, status int) string {
	if status == http.StatusInternalServerError && !errors.Is(err, ErrLibraryHasBooks) {
		return "internal server error"
	}
	return err.Error()
}
