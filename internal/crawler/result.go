package crawler

import (
	"net/http"
	"time"
)

// FetchResult is the classified outcome of one fetch attempt. It is one of
// Fetched, Redirected, TransientError or PermanentError.
type FetchResult interface {
	isFetchResult()
}

// Fetched means a final response was received. 4xx and 5xx statuses that are
// not retryable land here too.
type Fetched struct {
	Response FetchResponse
}

// Redirected means the server answered with a 3xx and a Location header.
type Redirected struct {
	Response FetchResponse
	Location string
}

// TransientError is a failure worth retrying.
type TransientError struct {
	Err *FetchError
}

// PermanentError is a failure retrying cannot fix.
type PermanentError struct {
	Err *FetchError
}

func (Fetched) isFetchResult()        {}
func (Redirected) isFetchResult()     {}
func (TransientError) isFetchResult() {}
func (PermanentError) isFetchResult() {}

// IsRedirectStatus reports whether code is a redirect the pipeline follows.
func IsRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Classify turns a fetch response or error into a FetchResult. Statuses in
// retryable are reported as transient failures.
func Classify(resp FetchResponse, err error, retryable map[int]bool, now time.Time) FetchResult {
	if err != nil {
		fe := NewFetchError(resp.URL, err)
		if fe.Permanent() {
			return PermanentError{Err: fe}
		}
		return TransientError{Err: fe}
	}
	if IsRedirectStatus(resp.StatusCode) {
		if loc := resp.Headers.Get("Location"); loc != "" {
			return Redirected{Response: resp, Location: loc}
		}
	}
	if retryable[resp.StatusCode] {
		fe := StatusError(resp, now)
		if fe.Permanent() {
			return PermanentError{Err: fe}
		}
		return TransientError{Err: fe}
	}
	return Fetched{Response: resp}
}
