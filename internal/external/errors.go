package external

import (
	"fmt"

	"github.com/kjannette/p2p-trade-client/internal/auth"
)

// ErrUnauthenticated is auth.ErrUnauthenticated, re-exported for callers
// that only import this package.
var ErrUnauthenticated = auth.ErrUnauthenticated

// NetworkError means the request got no response at all.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response. Body holds the (truncated) response text.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

// Is makes a 401 match ErrUnauthenticated.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthenticated && e.Status == 401
}

// ParseError means a response or event payload was not the JSON we expected.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
