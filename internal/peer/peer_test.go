package peer

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/qitv/gofetch/internal/clock"
	"github.com/qitv/gofetch/internal/session"
)

func newTestPeer(t *testing.T) (*Peer, *clock.Virtual) {
	t.Helper()
	vc := clock.NewVirtual(time.Unix(0, 0))
	return New(vc, "203.0.113.9", 6881, false), vc
}

func TestIDIsAddrColonPort(t *testing.T) {
	p, _ := newTestPeer(t)
	if got, want := p.ID(), "203.0.113.9:6881"; got != want {
		t.Fatalf("ID() = %q; want %q", got, want)
	}
}

func TestNoSessionAccessorsPanic(t *testing.T) {
	p, _ := newTestPeer(t)

	assertPanics(t, func() { p.AmChoking() })
	assertPanics(t, func() { p.HasPiece(0) })
	assertPanics(t, func() { p.GetCompletedLength() })
}

func assertPanics(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic, got none")
		}
	}()
	fn()
}

func TestTryAccessorsReturnErrNoSession(t *testing.T) {
	p, _ := newTestPeer(t)

	if _, err := p.TryAmChoking(); err != ErrNoSession {
		t.Fatalf("TryAmChoking err = %v; want ErrNoSession", err)
	}
}

func TestAllocateSessionResourceResetsSeeder(t *testing.T) {
	p, _ := newTestPeer(t)

	p.AllocateSessionResource(16384, 32768)
	if p.Seeder() {
		t.Fatalf("fresh session must not be a seeder")
	}

	if err := p.SetBitfield([]byte{0b11000000}); err != nil {
		t.Fatalf("SetBitfield: %v", err)
	}
	if !p.Seeder() {
		t.Fatalf("peer holding every piece must latch seeder=true")
	}

	// Reallocating drops the latch.
	p.AllocateSessionResource(16384, 32768)
	if p.Seeder() {
		t.Fatalf("reallocation must reset seeder to false")
	}
}

func TestReleaseSessionResourceIdempotent(t *testing.T) {
	p, _ := newTestPeer(t)
	p.AllocateSessionResource(16384, 32768)

	p.ReleaseSessionResource()
	p.ReleaseSessionResource() // must not panic

	if p.HasSession() {
		t.Fatalf("HasSession true after release")
	}
}

func TestUpdateBitfieldDelegatesAndUpdatesSeeder(t *testing.T) {
	p, _ := newTestPeer(t)
	p.AllocateSessionResource(16384, 32768) // 2 pieces

	if err := p.UpdateBitfield(0, session.SET); err != nil {
		t.Fatalf("UpdateBitfield(0): %v", err)
	}
	if p.Seeder() {
		t.Fatalf("seeder must stay false with 1/2 pieces")
	}

	if err := p.UpdateBitfield(1, session.SET); err != nil {
		t.Fatalf("UpdateBitfield(1): %v", err)
	}
	if !p.Seeder() {
		t.Fatalf("seeder must latch true once every piece is owned")
	}
}

func TestSetAllBitfieldMarksSeederImmediately(t *testing.T) {
	p, _ := newTestPeer(t)
	p.AllocateSessionResource(16384, 32768)

	p.SetAllBitfield()
	if !p.Seeder() || !p.HasPiece(0) || !p.HasPiece(1) {
		t.Fatalf("SetAllBitfield must mark every piece and latch seeder")
	}
}

func TestSetPeerIDCopiesExactLength(t *testing.T) {
	p, _ := newTestPeer(t)

	id := make([]byte, PeerIDLength)
	for i := range id {
		id[i] = byte(i)
	}
	p.SetPeerID(id)

	got := p.PeerID()
	for i := range id {
		if got[i] != id[i] {
			t.Fatalf("PeerID()[%d] = %d; want %d", i, got[i], id[i])
		}
	}
}

// TestIsGoodLifecycle matches spec.md scenario 6: a peer is good from
// birth, bad for the first BadConditionInterval seconds after
// StartBadCondition, then good again.
func TestIsGoodLifecycle(t *testing.T) {
	p, vc := newTestPeer(t)

	if !p.IsGood() {
		t.Fatalf("peer must be good from birth, before any StartBadCondition call")
	}

	p.StartBadCondition()
	vc.Advance(1 * time.Second)
	if p.IsGood() {
		t.Fatalf("peer must still be bad 1s after StartBadCondition")
	}

	vc.Advance(10 * time.Second) // total 11s elapsed
	if !p.IsGood() {
		t.Fatalf("peer must be good again 11s after StartBadCondition")
	}
}

func TestUsedByAndResetStatus(t *testing.T) {
	p, _ := newTestPeer(t)

	p.UsedBy(42)
	if got := p.GetCuid(); got != 42 {
		t.Fatalf("GetCuid() = %d; want 42", got)
	}

	p.ResetStatus()
	if got := p.GetCuid(); got != 0 {
		t.Fatalf("GetCuid() after ResetStatus = %d; want 0", got)
	}
}

func TestTraceIDStableAcrossSessionLifetimeAndChangesOnReallocate(t *testing.T) {
	p, _ := newTestPeer(t)
	p.AllocateSessionResource(16384, 32768)

	first := p.TraceID()
	if first == uuid.Nil {
		t.Fatalf("TraceID must not be the zero UUID")
	}
	if again := p.TraceID(); again != first {
		t.Fatalf("TraceID must be stable across calls within one session")
	}

	p.AllocateSessionResource(16384, 32768)
	if p.TraceID() == first {
		t.Fatalf("TraceID must change on reallocation to a fresh session")
	}
}

func TestCountOutstandingUploadWithoutDispatcher(t *testing.T) {
	p, _ := newTestPeer(t)
	p.AllocateSessionResource(16384, 32768)

	if got := p.CountOutstandingUpload(); got != 0 {
		t.Fatalf("CountOutstandingUpload with no dispatcher = %d; want 0", got)
	}
}
