// cmd/librarylink/output.go
package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"librarylink/internal/apierr"
	"librarylink/internal/catalog"
	"librarylink/internal/config"
	"librarylink/internal/membership"
)

// userError is a message meant for the user as is.
type userError string

func (e userError) Error() string { return string(e) }

// userMessage turns a failure into the text shown to the user. Raw errors go
// to the debug log.
func userMessage(err error) string {
	var ue userError
	if errors.As(err, &ue) {
		return string(ue)
	}
	if errors.Is(err, membership.ErrEmptyUsername) {
		return "A username is required."
	}
	if errors.Is(err, catalog.ErrIncompleteLibrary) {
		return "Name, address, opening hours and opening days are all required."
	}
	if errors.Is(err, config.ErrInvalidConfig) {
		return err.Error()
	}

	var e *apierr.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Kind {
	case apierr.KindMalformedIdentifier:
		return "That library id is not valid: " + e.Message
	case apierr.KindNetwork:
		return "Could not reach the library service. Check your connection and the base URL."
	case apierr.KindDecode:
		return "The library service sent a response that could not be read."
	case apierr.KindNotFound:
		return "Not found: " + e.Message
	case apierr.KindUnavailable:
		return "No copies are available to check out."
	case apierr.KindServer:
		return "The library service refused the request: " + e.Message
	}
	return err.Error()
}

func rule(w io.Writer, width int) {
	fmt.Fprintln(w, strings.Repeat("-", width))
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-3] + "..."
}
