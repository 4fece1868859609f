// Package validation collects human-readable input problems for a request.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// Error lists every problem found in one input. Handlers render Details as-is.
type Error struct {
	Details []string
}

func (e *Error) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

// New returns an *Error with a single formatted detail.
func New(format string, args ...any) *Error {
	return &Error{Details: []string{fmt.Sprintf(format, args...)}}
}

type Collector struct {
	details []string
}

// Check records message when ok is false.
func (c *Collector) Check(ok bool, format string, args ...any) {
	if !ok {
		c.details = append(c.details, fmt.Sprintf(format, args...))
	}
}

func (c *Collector) Err() error {
	if len(c.details) == 0 {
		return nil
	}
	return &Error{Details: c.details}
}

// IsHTTPURL reports whether raw is an absolute http or https URL with a host.
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
