// Package session implements the unit of work: one transaction with an
// identity map of the records it loaded, dirty tracking flushed before
// queries and at commit, and the pessimistic locks it holds.
//
// A unit of work belongs to one goroutine. Independent units of work may
// run concurrently; Manager.Do scopes one to a function and the context it
// receives.
package session
