package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind labels a fetch failure for run telemetry.
type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindConnection Kind = "connection"
	KindHTTPStatus Kind = "http_status"
	KindExhausted  Kind = "exhausted"
)

// FetchError describes the failure of one logical fetch. Attempts counts
// every HTTP attempt made, including the first. For KindExhausted, Err holds
// the error from the final attempt.
type FetchError struct {
	Kind     Kind
	URL      string
	Attempts int
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
	case KindExhausted:
		return fmt.Sprintf("fetch %s: retries exhausted after %d attempts: %v", e.URL, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// classify maps a transport error to its telemetry kind.
func classify(err error) Kind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindConnection
}
