package peer

import (
	"github.com/samber/lo"

	"github.com/qitv/gofetch/pkg/syncmap"
)

// Registry tracks every Peer known to a swarm, keyed by ID(). Unlike the
// Peer/Session pair it wraps, Registry is a shared collaborator touched
// from multiple goroutines (the scheduler, the tracker announcer, the
// chokealgo pass) and so owns its own lock via syncmap.Map rather than
// assuming single-task ownership.
type Registry struct {
	peers *syncmap.Map[string, *Peer]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{peers: syncmap.New[string, *Peer]()}
}

// Put inserts or replaces the entry for p.ID().
func (r *Registry) Put(p *Peer) {
	r.peers.Put(p.ID(), p)
}

// Get looks up a peer by ID.
func (r *Registry) Get(id string) (*Peer, bool) {
	return r.peers.Get(id)
}

// Delete removes a peer by ID. Safe to call on an ID that isn't present.
func (r *Registry) Delete(id string) {
	r.peers.Delete(id)
}

// Len returns the number of tracked peers.
func (r *Registry) Len() int { return r.peers.Len() }

// Snapshot returns every tracked peer at the moment of the call. Callers
// mutating the set concurrently will not see those mutations reflected.
func (r *Registry) Snapshot() []*Peer {
	out := make([]*Peer, 0, r.peers.Len())
	r.peers.Range(func(_ string, p *Peer) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Seeders returns the subset of tracked peers currently marked as seeders.
func (r *Registry) Seeders() []*Peer {
	return lo.Filter(r.Snapshot(), func(p *Peer, _ int) bool {
		return p.Seeder()
	})
}
