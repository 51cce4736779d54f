package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/qitv/gofetch/internal/clock"
	"github.com/qitv/gofetch/internal/peer"
)

func newTestPeer(t *testing.T) *peer.Peer {
	t.Helper()
	vc := clock.NewVirtual(time.Unix(0, 0))
	p := peer.New(vc, "192.0.2.1", 6881, false)
	p.AllocateSessionResource(16384, 32768) // 2 pieces
	return p
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	m := MessageHave(7)

	b, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Message
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.ID != Have {
		t.Fatalf("ID = %v; want Have", got.ID)
	}
	if index, ok := got.ParseHave(); !ok || index != 7 {
		t.Fatalf("ParseHave() = (%d, %v); want (7, true)", index, ok)
	}
}

func TestReadWriteMessageKeepAlive(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, nil); err != nil {
		t.Fatalf("WriteMessage(nil): %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !IsKeepAlive(got) {
		t.Fatalf("expected keep-alive, got %v", got)
	}
}

func TestApplyHaveUpdatesBitfield(t *testing.T) {
	p := newTestPeer(t)

	if err := Apply(p, MessageHave(0)); err != nil {
		t.Fatalf("Apply(Have): %v", err)
	}
	if !p.HasPiece(0) {
		t.Fatalf("piece 0 should be marked present after Have")
	}
}

func TestApplyBitfieldMarksSeeder(t *testing.T) {
	p := newTestPeer(t)

	if err := Apply(p, MessageBitfield([]byte{0b11000000})); err != nil {
		t.Fatalf("Apply(Bitfield): %v", err)
	}
	if !p.Seeder() {
		t.Fatalf("peer holding every piece must be a seeder")
	}
}

func TestApplyHaveAllAndHaveNone(t *testing.T) {
	p := newTestPeer(t)

	if err := Apply(p, MessageHaveAll()); err != nil {
		t.Fatalf("Apply(HaveAll): %v", err)
	}
	if !p.Seeder() {
		t.Fatalf("HaveAll should mark seeder")
	}

	if err := Apply(p, MessageHaveNone()); err != nil {
		t.Fatalf("Apply(HaveNone): %v", err)
	}
	if p.HasPiece(0) || p.HasPiece(1) {
		t.Fatalf("HaveNone should clear every piece")
	}
	if !p.Seeder() {
		t.Fatalf("seeder must remain latched true even after HaveNone clears the bitfield")
	}
}

func TestApplyAllowedFast(t *testing.T) {
	p := newTestPeer(t)

	if err := Apply(p, MessageAllowedFast(1)); err != nil {
		t.Fatalf("Apply(AllowedFast): %v", err)
	}
	if !p.IsInPeerAllowedIndexSet(1) {
		t.Fatalf("piece 1 should be in the peer's allowed-fast set")
	}
}

func TestApplyExtendedHandshake(t *testing.T) {
	local := newTestPeer(t)
	local.SetExtension("ut_metadata", 3)

	payload, err := local.ExtensionHandshakePayload()
	if err != nil {
		t.Fatalf("ExtensionHandshakePayload: %v", err)
	}

	remote := newTestPeer(t)
	if err := Apply(remote, MessageExtendedHandshake(payload)); err != nil {
		t.Fatalf("Apply(Extended handshake): %v", err)
	}
	if id := remote.GetExtensionMessageID("ut_metadata"); id != 3 {
		t.Fatalf("decoded ut_metadata id = %d; want 3", id)
	}
}

func TestApplyUnhandledID(t *testing.T) {
	p := newTestPeer(t)

	if err := Apply(p, &Message{ID: 6}); err != ErrUnhandledID {
		t.Fatalf("Apply(unhandled) err = %v; want ErrUnhandledID", err)
	}
}
