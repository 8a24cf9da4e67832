package frontier

import "time"

// State is the lifecycle position of a frontier entry.
type State string

// Entry states.
const (
	StateDiscovered State = "discovered"
	StateQueued     State = "queued"
	StateClaimed    State = "claimed"
	StateFetched    State = "fetched"
	StateRedirected State = "redirected"
	StateAbandoned  State = "abandoned"
)

// States lists every state in lifecycle order.
var States = []State{
	StateDiscovered, StateQueued, StateClaimed, StateFetched, StateRedirected, StateAbandoned,
}

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	return s == StateFetched || s == StateRedirected || s == StateAbandoned
}

// Source records how a URL entered the frontier.
type Source string

// Discovery sources.
const (
	SourceSeed     Source = "seed"
	SourceLink     Source = "link"
	SourceSitemap  Source = "sitemap"
	SourceRedirect Source = "redirect"
)

// Entry is one URL tracked by the frontier.
type Entry struct {
	ID              int64
	Key             string
	URL             string
	Host            string
	Class           string
	Source          Source
	Depth           int
	Score           float64
	SitemapPriority float64
	Inlinks         int
	State           State
	Attempts        int
	ClaimedBy       string
	ClaimedAt       time.Time
	NextEligibleAt  time.Time
	LastOutcome     string
	LastStatus      int
	LastError       string
	ContentHash     string
	RedirectTarget  string
	DiscoveredAt    time.Time
	UpdatedAt       time.Time
}

// Claim identifies the worker holding an entry.
func (e Entry) Claim() Claim {
	return Claim{EntryID: e.ID, Worker: e.ClaimedBy}
}

// Claim is the handle a worker presents when completing or releasing an entry.
type Claim struct {
	EntryID int64
	Worker  string
}

// EnqueueRequest describes a discovered URL.
type EnqueueRequest struct {
	Key             string
	URL             string
	Host            string
	Class           string
	Source          Source
	Depth           int
	Score           float64
	SitemapPriority float64
	// Admitted is false when scope or robots rules exclude the URL. Such
	// entries are remembered as Discovered but never queued.
	Admitted bool
}

// EnqueueResult reports what Enqueue did.
type EnqueueResult struct {
	Entry   Entry
	Created bool
}

// RedirectHop is one persisted step of a redirect chain.
type RedirectHop struct {
	SourceKey   string
	Seq         int
	FromURL     string
	ToURL       string
	ToKey       string
	Status      int
	ChainLength int
	Result      string
	CreatedAt   time.Time
}

// Stats counts entries per state.
type Stats map[State]int

// Total sums every state.
func (s Stats) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

// DepthUnlimited disables the depth bound.
const DepthUnlimited = -1

// Options are the merge and admission rules a backend applies.
type Options struct {
	MaxDepth        int
	ReviveAbandoned bool
	Weights         Weights
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{MaxDepth: 3, Weights: DefaultWeights()}
}
