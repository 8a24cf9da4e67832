// Package frontier defines the durable crawl frontier: the entry state
// machine, the priority score, and the Store contract every backend
// implements.
//
// Entries move Discovered → Queued → Claimed and finish as Fetched,
// Redirected or Abandoned. A failed fetch either returns the entry to Queued
// with a future eligibility time or abandons it. The pure transition helpers
// in this package are shared by every backend so the rules live in one place.
package frontier
