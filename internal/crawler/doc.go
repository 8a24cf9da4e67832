// Package crawler defines the contracts shared by the frontier pipeline: the
// fetch, robots, extraction and output collaborators, the tagged fetch result
// handed to the scheduler, and the fetch error taxonomy.
package crawler
