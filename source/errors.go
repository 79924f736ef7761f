package source

import "fmt"

// UnavailableError is returned by Fetch when the source did not answer with a
// success status. StatusCode is 0 when no response was received at all.
type UnavailableError struct {
	URL        string
	StatusCode int
	Body       string
	Cause      error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("source %s unavailable: %s", e.URL, e.Cause)
	}
	return fmt.Sprintf("source %s unavailable: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// Permanent reports whether fetching again cannot help (4xx other than 408 and 429).
func (e *UnavailableError) Permanent() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	return e.StatusCode != 408 && e.StatusCode != 429
}

// InterruptedError is returned by Stream.Next when the body failed mid-stream.
type InterruptedError struct {
	BytesRead int64
	Cause     error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("source interrupted after %d bytes: %s", e.BytesRead, e.Cause)
}

func (e *InterruptedError) Unwrap() error {
	return e.Cause
}
