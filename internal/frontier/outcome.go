package frontier

import "time"

// Outcome is the result a worker reports for a claimed entry. It is one of
// Fetched, Redirected or Failed.
type Outcome interface {
	// Name is persisted as the entry's last outcome.
	Name() string
}

// Fetched records a final HTTP response, including 4xx and 5xx statuses that
// are not retried.
type Fetched struct {
	Status      int
	ContentHash string
}

// Redirected records that the entry resolved to another URL.
type Redirected struct {
	TargetKey string
	Merged    bool
}

// Failed records a failed attempt. Retry and Delay come from the retry policy.
type Failed struct {
	Kind    string
	Status  int
	Message string
	Retry   bool
	Delay   time.Duration
}

// Outcome names.
const (
	OutcomeFetched    = "fetched"
	OutcomeRedirected = "redirected"
	OutcomeRetry      = "retry"
	OutcomeAbandoned  = "abandoned"
)

// Name implements Outcome.
func (Fetched) Name() string { return OutcomeFetched }

// Name implements Outcome.
func (Redirected) Name() string { return OutcomeRedirected }

// Name implements Outcome.
func (f Failed) Name() string {
	if f.Retry {
		return OutcomeRetry
	}
	return OutcomeAbandoned
}
