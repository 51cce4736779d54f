// Package session implements PeerSessionResource: the live, per-peer
// mutable state valid between handshake completion and disconnect. This is
// the core of the peer engine — flags, allowed-fast sets, extensions,
// statistics and the dispatcher backlink — and it is exercised entirely
// through synchronous method calls from the single task that owns its
// parent Peer; it never takes a lock.
package session

import (
	"errors"

	"github.com/google/uuid"

	"github.com/qitv/gofetch/internal/bitfield"
	"github.com/qitv/gofetch/internal/clock"
	"github.com/qitv/gofetch/internal/dispatcher"
	"github.com/qitv/gofetch/internal/peerstat"
)

// Operation selects between the two bitfield mutations UpdateBitfield
// accepts, matching the wire-level HAVE semantics (spec.md §3).
type Operation int

const (
	// UNSET clears the bit at the given index.
	UNSET Operation = 0
	// SET sets the bit at the given index.
	SET Operation = 1
)

var (
	// ErrNoSession is the fallible-accessor counterpart to the
	// panic-on-nil-session behavior Peer's plain getters use. Nothing in
	// this package returns it directly — it exists for callers one layer
	// up (Peer.Try* methods) that would rather propagate an error than
	// crash on a best-effort read of a possibly torn-down peer.
	ErrNoSession = errors.New("session: no active session")

	// ErrBitfieldLength is returned when a BITFIELD payload's length does
	// not match ceil(pieceCount/8) bytes, or its tail bits are dirty.
	ErrBitfieldLength = errors.New("session: bitfield length mismatch")

	// ErrPieceIndexRange is returned when a piece index used in
	// UpdateBitfield falls outside [0, pieceCount).
	ErrPieceIndexRange = errors.New("session: piece index out of range")

	// ErrDuplicateHandshake is returned by ApplyExtensionHandshake if a
	// session has already processed one; a peer only gets to send the
	// BEP-10 extended handshake once.
	ErrDuplicateHandshake = errors.New("session: duplicate extended handshake")
)

// Session is PeerSessionResource: sizing constants are fixed at
// allocation and never change over the session's lifetime.
type Session struct {
	pieceLength uint64
	totalLength uint64
	pieceCount  int

	bitfield bitfield.Bitfield

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool

	chokingRequired bool
	optUnchoking    bool
	snubbing        bool

	fastExtensionEnabled     bool
	extendedMessagingEnabled bool
	dhtEnabled               bool

	peerAllowed       *allowedFastSet
	amAllowed         *allowedFastSet
	amAllowedComputed bool

	ext              *extensionTable
	handshakeApplied bool

	clk  clock.Clock
	stat *peerstat.PeerStat

	lastDownloadUpdate clock.Timer
	lastAmUnchoking    clock.Timer

	dispatcherRef dispatcher.WeakRef

	// TraceID correlates every log line touching one session across its
	// lifetime. A reconnect to the same peer allocates a new session and
	// so gets a new TraceID. It carries no semantic weight — never
	// compared by any invariant in this package.
	TraceID uuid.UUID
}

// New allocates a PeerSessionResource sized for pieceLength/totalLength.
// Both must be > 0. All flags start at their spec.md §3 defaults:
// amChoking=true, peerChoking=true, amInterested=false,
// peerInterested=false, chokingRequired=true. The PeerStat's download
// window is started immediately, matching aria2's
// Peer::allocateSessionResource, which calls downloadStart() as part of
// allocation rather than leaving it to the caller.
func New(clk clock.Clock, pieceLength, totalLength uint64) *Session {
	if pieceLength == 0 || totalLength == 0 {
		panic("session: pieceLength and totalLength must be > 0")
	}

	pieceCount := int((totalLength + pieceLength - 1) / pieceLength)

	s := &Session{
		pieceLength: pieceLength,
		totalLength: totalLength,
		pieceCount:  pieceCount,
		bitfield:    bitfield.New(pieceCount),

		amChoking:       true,
		peerChoking:     true,
		chokingRequired: true,

		peerAllowed: newAllowedFastSet(),
		amAllowed:   newAllowedFastSet(),
		ext:         newExtensionTable(),

		clk:  clk,
		stat: peerstat.New(clk),

		TraceID: uuid.New(),
	}
	s.stat.DownloadStart()

	return s
}

// PieceCount returns the number of pieces the session's bitfield is sized
// for.
func (s *Session) PieceCount() int { return s.pieceCount }

// --- Choke/interest flags (orthogonal; spec.md §4.2) ---

func (s *Session) AmChoking() bool       { return s.amChoking }
func (s *Session) AmInterested() bool    { return s.amInterested }
func (s *Session) PeerChoking() bool     { return s.peerChoking }
func (s *Session) PeerInterested() bool  { return s.peerInterested }
func (s *Session) ChokingRequired() bool { return s.chokingRequired }
func (s *Session) OptUnchoking() bool    { return s.optUnchoking }
func (s *Session) Snubbing() bool        { return s.snubbing }

func (s *Session) SetAmInterested(b bool)   { s.amInterested = b }
func (s *Session) SetPeerChoking(b bool)    { s.peerChoking = b }
func (s *Session) SetPeerInterested(b bool) { s.peerInterested = b }
func (s *Session) SetChokingRequired(b bool) { s.chokingRequired = b }
func (s *Session) SetOptUnchoking(b bool)    { s.optUnchoking = b }
func (s *Session) SetSnubbing(b bool)        { s.snubbing = b }

// SetAmChoking sets the local choke flag. Transitioning to false (an
// unchoke) stamps lastAmUnchoking, matching the getLastAmUnchoking timer
// spec.md §3 describes.
func (s *Session) SetAmChoking(b bool) {
	s.amChoking = b
	if !b {
		s.lastAmUnchoking = s.clk.Now()
	}
}

// ShouldBeChoking is the upper choking algorithm's single query point,
// per spec.md §4.1.
func (s *Session) ShouldBeChoking() bool {
	return s.amChoking || s.chokingRequired
}

// --- Fast Extension / extended messaging / DHT toggles ---

func (s *Session) FastExtensionEnabled() bool         { return s.fastExtensionEnabled }
func (s *Session) SetFastExtensionEnabled(b bool)     { s.fastExtensionEnabled = b }
func (s *Session) ExtendedMessagingEnabled() bool     { return s.extendedMessagingEnabled }
func (s *Session) SetExtendedMessagingEnabled(b bool) { s.extendedMessagingEnabled = b }
func (s *Session) DHTEnabled() bool                   { return s.dhtEnabled }
func (s *Session) SetDHTEnabled(b bool)               { s.dhtEnabled = b }

// --- Stats ---

func (s *Session) UpdateUploadLength(n uint64) { s.stat.UpdateUploadLength(n) }

// UpdateDownloadLength adds n bytes to the rolling download stat and
// stamps lastDownloadUpdate.
func (s *Session) UpdateDownloadLength(n uint64) {
	s.stat.UpdateDownloadLength(n)
	s.lastDownloadUpdate = s.clk.Now()
}

func (s *Session) CalculateUploadSpeed() uint64   { return s.stat.CalculateUploadSpeed() }
func (s *Session) CalculateDownloadSpeed() uint64 { return s.stat.CalculateDownloadSpeed() }
func (s *Session) UploadLength() uint64           { return s.stat.UploadLength() }
func (s *Session) DownloadLength() uint64         { return s.stat.DownloadLength() }

func (s *Session) LastDownloadUpdate() clock.Timer { return s.lastDownloadUpdate }
func (s *Session) LastAmUnchoking() clock.Timer    { return s.lastAmUnchoking }

// --- Bitfield ---

// UpdateBitfield applies a single HAVE-style mutation at index. Returns
// ErrPieceIndexRange if index is outside [0, pieceCount).
func (s *Session) UpdateBitfield(index int, op Operation) error {
	if index < 0 || index >= s.pieceCount {
		return ErrPieceIndexRange
	}
	if op == SET {
		s.bitfield.Set(index)
	} else {
		s.bitfield.Clear(index)
	}
	return nil
}

// SetBitfield replaces the entire bitmap from a wire-format BITFIELD
// payload. The byte length must equal ceil(pieceCount/8) and any bits past
// pieceCount within the last byte must be zero; otherwise this is a
// protocol error and the bitmap is left unchanged.
func (s *Session) SetBitfield(b []byte) error {
	want := bitfield.ExpectedByteLength(s.pieceCount)
	if len(b) != want {
		return ErrBitfieldLength
	}
	if !bitfield.ValidTailBits(b, s.pieceCount) {
		return ErrBitfieldLength
	}

	s.bitfield = bitfield.FromBytes(b)
	return nil
}

// HasPiece reports whether bit index is set. Out-of-range index returns
// false; per spec.md §4.1 the result is undefined in that case and callers
// are expected to have validated index against PieceCount already.
func (s *Session) HasPiece(index int) bool {
	return s.bitfield.Has(index)
}

// HasAllPieces reports whether every piece the bitfield can address is
// set.
func (s *Session) HasAllPieces() bool {
	return s.bitfield.AllSet(s.pieceCount)
}

// MarkSeeder sets every addressable piece, for the Fast-Extension HAVE_ALL
// message.
func (s *Session) MarkSeeder() { s.bitfield.SetAll(s.pieceCount) }

// ClearAllPieces zeroes the bitfield, for the Fast-Extension HAVE_NONE
// message.
func (s *Session) ClearAllPieces() { s.bitfield.ClearAll() }

// GetBitfieldBytes returns a copy of the raw bitmap.
func (s *Session) GetBitfieldBytes() []byte { return s.bitfield.Bytes() }

// GetBitfieldLength returns the byte length of the bitmap.
func (s *Session) GetBitfieldLength() int { return len(s.bitfield) }

// GetCompletedLength sums the piece lengths the peer has, adjusting for the
// possibly-short last piece using totalLength and pieceLength.
func (s *Session) GetCompletedLength() uint64 {
	var completed uint64
	for i := 0; i < s.pieceCount; i++ {
		if !s.bitfield.Has(i) {
			continue
		}
		if i == s.pieceCount-1 {
			completed += s.totalLength - uint64(i)*s.pieceLength
		} else {
			completed += s.pieceLength
		}
	}
	return completed
}

// --- Dispatcher backlink ---

// SetBtMessageDispatcher installs a non-owning weak reference to the
// message dispatcher.
func (s *Session) SetBtMessageDispatcher(ref dispatcher.WeakRef) {
	s.dispatcherRef = ref
}

// CountOutstandingUpload asks the dispatcher (if still alive) how many
// upload requests from the local side are in flight for peerID. Returns 0
// if the dispatcher reference has gone dangling.
func (s *Session) CountOutstandingUpload(peerID string) int {
	d := s.dispatcherRef.Value()
	if d == nil {
		return 0
	}
	return d.CountOutstandingUpload(peerID)
}
