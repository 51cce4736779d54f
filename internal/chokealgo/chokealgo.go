// Package chokealgo implements a thin stand-in for the "upper-layer
// choking algorithm" spec.md describes as an external reader/writer of
// Peer flags. It never touches internal/session directly — every read and
// write goes through the internal/peer façade, matching the stated
// interface boundary between the core engine and its collaborators.
package chokealgo

import (
	"math/rand"
	"sort"

	"github.com/qitv/gofetch/internal/config"
	"github.com/qitv/gofetch/internal/peer"
)

// Algorithm ranks interested peers by upload speed and rewrites
// their choke flags every Rechoke call: the top cfg.UploadSlots interested
// peers by upload speed are regularly unchoked, plus one optimistic
// rotation candidate drawn uniformly at random from the remainder.
type Algorithm struct {
	cfg config.Config
	rnd *rand.Rand
}

// New returns an Algorithm driven by cfg's UploadSlots knob; how often
// Rechoke runs is up to the caller. seed controls the optimistic-unchoke rotation's randomness —
// pass a fixed seed in tests for determinism.
func New(cfg config.Config, seed int64) *Algorithm {
	return &Algorithm{cfg: cfg, rnd: rand.New(rand.NewSource(seed))}
}

// Rechoke re-evaluates choke/unchoke decisions across peers. Only peers
// with an allocated session and that are PeerInterested are eligible for a
// regular unchoke slot; a peer without a session is skipped entirely since
// every flag accessor on it would panic.
func (a *Algorithm) Rechoke(peers []*peer.Peer) {
	eligible := make([]*peer.Peer, 0, len(peers))
	for _, p := range peers {
		if !p.HasSession() {
			continue
		}
		interested, err := p.TryPeerInterested()
		if err != nil || !interested {
			p.SetChokingRequired(true)
			continue
		}
		eligible = append(eligible, p)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].CalculateUploadSpeed() > eligible[j].CalculateUploadSpeed()
	})

	slots := a.cfg.UploadSlots
	if slots > len(eligible) {
		slots = len(eligible)
	}

	regular := eligible[:slots]
	rest := eligible[slots:]

	for _, p := range regular {
		p.SetChokingRequired(false)
		p.SetOptUnchoking(false)
		p.SetAmChoking(false)
	}

	for _, p := range rest {
		p.SetChokingRequired(true)
		p.SetOptUnchoking(false)
	}

	if len(rest) == 0 {
		return
	}

	optimistic := rest[a.rnd.Intn(len(rest))]
	optimistic.SetOptUnchoking(true)
	optimistic.SetChokingRequired(false)
	optimistic.SetAmChoking(false)
}
