// Package dispatcher declares the contract a peer session uses to ask its
// message dispatcher how many local upload requests are currently in
// flight on behalf of a given peer. The dispatcher itself — queueing
// requests, matching PIECE responses, retry/backoff — is an external
// collaborator per spec.md §1 and is not implemented here; only the
// boundary the session depends on is.
package dispatcher

import "weak"

// Dispatcher is queried by a session to report outstanding upload requests.
// Implementations are owned by the wider download engine, never by a
// Session — a Session only ever holds a non-owning weak reference to one.
type Dispatcher interface {
	// CountOutstandingUpload returns the number of REQUEST messages the
	// local side has queued or is servicing on behalf of peerID.
	CountOutstandingUpload(peerID string) int
}

// WeakRef is a non-owning handle to a Dispatcher. It never keeps its
// referent alive; once the real dispatcher is collected, Value returns nil
// and every caller is expected to tolerate that (spec.md §5: "Reads must
// null-check").
type WeakRef struct {
	ptr weak.Pointer[Dispatcher]
}

// NewWeakRef builds a WeakRef pointing at *slot, an interface-typed storage
// location the caller already holds strongly elsewhere — typically a field
// on the engine object that owns the real dispatcher (registry, swarm, or a
// test fixture). The Session never allocates the dispatcher itself and
// never stores a second strong reference to it — that would recreate the
// Dispatcher↔Peer ownership cycle spec.md §9 warns against. WeakRef tracks
// slot's liveness, not any one concrete implementation's, so it works for
// whichever Dispatcher the owner installs.
func NewWeakRef(slot *Dispatcher) WeakRef {
	return WeakRef{ptr: weak.Make(slot)}
}

// Value resolves the weak reference, or returns nil if it is empty or its
// referent has gone away.
func (w WeakRef) Value() Dispatcher {
	slot := w.ptr.Value()
	if slot == nil {
		return nil
	}
	return *slot
}
