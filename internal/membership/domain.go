// internal/membership/domain.go
package membership

import (
	"errors"
	"strings"
)

// ErrEmptyUsername is returned when a username is blank after trimming.
var ErrEmptyUsername = errors.New("username must not be empty")

// Username identifies a borrower. It is the only identity the library service
// knows: there is no password and no session, so anyone holding a username
// can act on its behalf.
type Username string

// NewUsername trims and lowercases raw.
func NewUsername(raw string) (Username, error) {
	u := strings.ToLower(strings.TrimSpace(raw))
	if u == "" {
		return "", ErrEmptyUsername
	}
	return Username(u), nil
}

func (u Username) String() string { return string(u) }
