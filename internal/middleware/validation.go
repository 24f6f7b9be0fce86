package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"unicode"
)

const maxIDLength = 128

// Page bounds for the read-back endpoints.
const (
	DefaultPageLimit         = 10
	MaxConversationPageLimit = 100
	MaxMessagePageLimit      = 1000
)

// ParsePagination reads the page and limit query parameters. Page defaults to 1 and
// limit to DefaultPageLimit; values outside 1..maxLimit are rejected.
func ParsePagination(r *http.Request, maxLimit int) (page, limit int, err error) {
	page, limit = 1, DefaultPageLimit

	if p := r.URL.Query().Get("page"); p != "" {
		page, err = strconv.Atoi(p)
		if err != nil || page < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 || limit > maxLimit {
			return 0, 0, fmt.Errorf("limit must be an integer between 1 and %d", maxLimit)
		}
	}

	return page, limit, nil
}

// ValidateSessionID validates a conversation session ID.
func ValidateSessionID(id string) error {
	return validateID("session ID", id)
}

// ValidateWebsiteID validates a website ID.
func ValidateWebsiteID(id string) error {
	return validateID("website ID", id)
}

func validateID(name, id string) error {
	if len(id) == 0 {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s exceeds maximum length", name)
	}
	for _, r := range id {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			return fmt.Errorf("invalid %s format", name)
		}
	}
	return nil
}
