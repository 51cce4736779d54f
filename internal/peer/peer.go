// Package peer implements Peer: the identity and lifecycle envelope around
// an optional PeerSessionResource. A Peer exists as soon as a remote
// address is discovered (tracker, inbound accept, or DHT); it only grows a
// session once the protocol handshake completes.
//
// Every mutation to a Peer and its session happens on the single task
// identified by cuid that currently owns it — Peer itself takes no lock.
// Thread-safety, where it is needed at all, lives in Registry, which tracks
// many Peers through a lock-guarded syncmap.Map.
package peer

import (
	"io"

	"github.com/google/uuid"

	"github.com/qitv/gofetch/internal/clock"
	"github.com/qitv/gofetch/internal/dispatcher"
	"github.com/qitv/gofetch/internal/session"
)

const (
	// PeerIDLength is the fixed size of the 20-byte handshake peer id.
	PeerIDLength = 20

	// BadConditionInterval is the cool-down window, in seconds, a peer
	// must wait out after StartBadCondition before IsGood reports true
	// again.
	BadConditionInterval = 10.0
)

// ErrNoSession is returned by the fallible Try* accessors when no session
// is currently allocated. The plain (panicking) accessors never return
// this — calling them without a session is a programmer error per
// spec.md §7 and is detected by panicking instead.
var ErrNoSession = session.ErrNoSession

// Peer is the envelope described in spec.md §3.
type Peer struct {
	clk clock.Clock

	ipaddr string
	port   uint16
	id     string

	peerID [PeerIDLength]byte

	cuid uint64

	firstContactTime      clock.Timer
	badConditionStartTime clock.Timer

	incoming  bool
	localPeer bool
	seeder    bool

	session *session.Session
}

// New constructs a Peer for a freshly discovered remote address. No
// session is allocated yet.
func New(clk clock.Clock, ipaddr string, port uint16, incoming bool) *Peer {
	return &Peer{
		clk:              clk,
		ipaddr:           ipaddr,
		port:             port,
		id:               ipaddr + ":" + portString(port),
		incoming:         incoming,
		firstContactTime: clk.Now(),
	}
}

func portString(port uint16) string {
	// Avoid strconv import overhead for a 16-bit value formatted exactly
	// once per Peer; a tiny manual itoa keeps this package dependency-free
	// for something this small.
	if port == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for port > 0 {
		i--
		buf[i] = byte('0' + port%10)
		port /= 10
	}
	return string(buf[i:])
}

// IPAddr returns the peer's textual IP address.
func (p *Peer) IPAddr() string { return p.ipaddr }

// Port returns the peer's TCP port.
func (p *Peer) Port() uint16 { return p.port }

// ID returns ipaddr + ":" + port, stable for the Peer's lifetime — usable
// as a map key or log field.
func (p *Peer) ID() string { return p.id }

// Incoming reports whether the connection was accepted (true) or dialed
// (false).
func (p *Peer) Incoming() bool { return p.incoming }

// LocalPeer reports whether this address is a loopback/self discovery
// artifact.
func (p *Peer) LocalPeer() bool { return p.localPeer }

// SetLocalPeer marks whether the remote address is a loopback/self
// discovery artifact.
func (p *Peer) SetLocalPeer(b bool) { p.localPeer = b }

// FirstContactTime returns when this Peer was instantiated.
func (p *Peer) FirstContactTime() clock.Timer { return p.firstContactTime }

// Seeder reports whether the peer is known to hold every piece. Once true
// it never reverts to false within this Peer's current session; clearing
// it requires releasing and reallocating the session.
func (p *Peer) Seeder() bool { return p.seeder }

// UsedBy assigns the local command/task id currently driving this peer.
func (p *Peer) UsedBy(cuid uint64) { p.cuid = cuid }

// GetCuid returns the local command/task id currently driving this peer,
// or 0 if idle.
func (p *Peer) GetCuid() uint64 { return p.cuid }

// ResetStatus clears cuid, marking the peer idle.
func (p *Peer) ResetStatus() { p.cuid = 0 }

// SetPeerID copies exactly PeerIDLength bytes from b. Behavior is
// undefined if b is shorter — the caller must guarantee the length, per
// spec.md §4.1.
func (p *Peer) SetPeerID(b []byte) {
	copy(p.peerID[:], b)
}

// PeerID returns the 20-byte handshake peer id, zero until SetPeerID is
// called.
func (p *Peer) PeerID() [PeerIDLength]byte { return p.peerID }

// HasSession reports whether a protocol session is currently allocated.
func (p *Peer) HasSession() bool { return p.session != nil }

// TraceID returns the current session's trace id, for binding log lines
// to one session's lifetime (see internal/logging.WithTraceID). Panics
// without a session, same as every other session-backed accessor.
func (p *Peer) TraceID() uuid.UUID { return p.requireSession().TraceID }

// AllocateSessionResource allocates a fresh PeerSessionResource sized for
// pieceLength/totalLength, releasing any existing session first. Both
// arguments must be > 0 — session.New panics otherwise, which is the
// correct disposition for a programmer error per spec.md §7.
func (p *Peer) AllocateSessionResource(pieceLength, totalLength uint64) {
	p.ReleaseSessionResource()
	p.session = session.New(p.clk, pieceLength, totalLength)
	p.seeder = false
}

// ReleaseSessionResource destroys the current session. Safe to call
// repeatedly.
func (p *Peer) ReleaseSessionResource() {
	p.session = nil
}

func (p *Peer) requireSession() *session.Session {
	if p.session == nil {
		panic("peer: accessor called with no active session")
	}
	return p.session
}

// --- Choke/interest flags; each panics without a session (spec.md §4.1) ---

func (p *Peer) AmChoking() bool          { return p.requireSession().AmChoking() }
func (p *Peer) SetAmChoking(b bool)      { p.requireSession().SetAmChoking(b) }
func (p *Peer) AmInterested() bool       { return p.requireSession().AmInterested() }
func (p *Peer) SetAmInterested(b bool)   { p.requireSession().SetAmInterested(b) }
func (p *Peer) PeerChoking() bool        { return p.requireSession().PeerChoking() }
func (p *Peer) SetPeerChoking(b bool)    { p.requireSession().SetPeerChoking(b) }
func (p *Peer) PeerInterested() bool     { return p.requireSession().PeerInterested() }
func (p *Peer) SetPeerInterested(b bool) { p.requireSession().SetPeerInterested(b) }
func (p *Peer) ChokingRequired() bool    { return p.requireSession().ChokingRequired() }
func (p *Peer) SetChokingRequired(b bool) {
	p.requireSession().SetChokingRequired(b)
}
func (p *Peer) OptUnchoking() bool     { return p.requireSession().OptUnchoking() }
func (p *Peer) SetOptUnchoking(b bool) { p.requireSession().SetOptUnchoking(b) }
func (p *Peer) Snubbing() bool         { return p.requireSession().Snubbing() }
func (p *Peer) SetSnubbing(b bool)     { p.requireSession().SetSnubbing(b) }

// ShouldBeChoking is the upper choking algorithm's single query point.
func (p *Peer) ShouldBeChoking() bool { return p.requireSession().ShouldBeChoking() }

// --- Fallible variants, for callers that would rather not panic on a
// best-effort read of a possibly torn-down peer (e.g. chokealgo). ---

func (p *Peer) TryAmChoking() (bool, error) {
	if p.session == nil {
		return false, ErrNoSession
	}
	return p.session.AmChoking(), nil
}

func (p *Peer) TryPeerInterested() (bool, error) {
	if p.session == nil {
		return false, ErrNoSession
	}
	return p.session.PeerInterested(), nil
}

// --- Stats ---

func (p *Peer) UpdateUploadLength(n uint64)   { p.requireSession().UpdateUploadLength(n) }
func (p *Peer) UpdateDownloadLength(n uint64) { p.requireSession().UpdateDownloadLength(n) }

func (p *Peer) CalculateUploadSpeed() uint64   { return p.requireSession().CalculateUploadSpeed() }
func (p *Peer) CalculateDownloadSpeed() uint64 { return p.requireSession().CalculateDownloadSpeed() }

func (p *Peer) GetSessionUploadLength() uint64   { return p.requireSession().UploadLength() }
func (p *Peer) GetSessionDownloadLength() uint64 { return p.requireSession().DownloadLength() }

func (p *Peer) GetLastDownloadUpdate() clock.Timer { return p.requireSession().LastDownloadUpdate() }
func (p *Peer) GetLastAmUnchoking() clock.Timer    { return p.requireSession().LastAmUnchoking() }

// --- Bitfield ---

// UpdateBitfield applies a single HAVE-style mutation, then updates seeder
// status.
func (p *Peer) UpdateBitfield(index int, op session.Operation) error {
	s := p.requireSession()
	if err := s.UpdateBitfield(index, op); err != nil {
		return err
	}
	p.updateSeeder()
	return nil
}

// SetBitfield replaces the entire bitmap, then updates seeder status.
func (p *Peer) SetBitfield(b []byte) error {
	s := p.requireSession()
	if err := s.SetBitfield(b); err != nil {
		return err
	}
	p.updateSeeder()
	return nil
}

// SetAllBitfield marks every piece present (Fast-Extension HAVE_ALL) and
// latches seeder immediately.
func (p *Peer) SetAllBitfield() {
	p.requireSession().MarkSeeder()
	p.seeder = true
}

// ClearAllBitfield clears every piece (Fast-Extension HAVE_NONE). It never
// clears an already-latched seeder flag — seeder is monotonic for the
// life of a session, per spec.md §3.
func (p *Peer) ClearAllBitfield() {
	p.requireSession().ClearAllPieces()
}

// updateSeeder latches seeder true once the session reports every piece
// present. It never clears seeder back to false.
func (p *Peer) updateSeeder() {
	if p.requireSession().HasAllPieces() {
		p.seeder = true
	}
}

// HasPiece reports whether the peer has piece index. Session required;
// behavior for an out-of-range index is undefined — callers validate
// against the session's piece count first.
func (p *Peer) HasPiece(index int) bool { return p.requireSession().HasPiece(index) }

// GetCompletedLength returns the sum of piece lengths this peer has,
// adjusted for the possibly-short last piece.
func (p *Peer) GetCompletedLength() uint64 { return p.requireSession().GetCompletedLength() }

func (p *Peer) GetBitfieldBytes() []byte { return p.requireSession().GetBitfieldBytes() }
func (p *Peer) GetBitfieldLength() int   { return p.requireSession().GetBitfieldLength() }
func (p *Peer) PieceCount() int          { return p.requireSession().PieceCount() }

// --- Fast Extension ---

func (p *Peer) SetFastExtensionEnabled(b bool) { p.requireSession().SetFastExtensionEnabled(b) }
func (p *Peer) IsFastExtensionEnabled() bool   { return p.requireSession().FastExtensionEnabled() }

func (p *Peer) AddPeerAllowedIndex(index int) { p.requireSession().AddPeerAllowedIndex(index) }
func (p *Peer) IsInPeerAllowedIndexSet(index int) bool {
	return p.requireSession().IsInPeerAllowedIndexSet(index)
}
func (p *Peer) CountPeerAllowedIndexSet() int { return p.requireSession().CountPeerAllowedIndexSet() }
func (p *Peer) GetPeerAllowedIndexSet() []int { return p.requireSession().GetPeerAllowedIndexSet() }

func (p *Peer) AddAmAllowedIndex(index int) { p.requireSession().AddAmAllowedIndex(index) }
func (p *Peer) IsInAmAllowedIndexSet(index int) bool {
	return p.requireSession().IsInAmAllowedIndexSet(index)
}

// --- Extension protocol ---

func (p *Peer) SetExtension(name string, id uint8) { p.requireSession().SetExtension(name, id) }
func (p *Peer) GetExtensionMessageID(name string) uint8 {
	return p.requireSession().GetExtensionMessageID(name)
}
func (p *Peer) GetExtensionName(id uint8) string { return p.requireSession().GetExtensionName(id) }

func (p *Peer) SetExtendedMessagingEnabled(b bool) {
	p.requireSession().SetExtendedMessagingEnabled(b)
}
func (p *Peer) IsExtendedMessagingEnabled() bool {
	return p.requireSession().ExtendedMessagingEnabled()
}

func (p *Peer) SetDHTEnabled(b bool) { p.requireSession().SetDHTEnabled(b) }
func (p *Peer) IsDHTEnabled() bool   { return p.requireSession().DHTEnabled() }

// ApplyExtensionHandshake decodes a BEP-10 extended handshake payload
// (message id 0 under the Extended message) and registers its (name, id)
// pairs against the current session.
func (p *Peer) ApplyExtensionHandshake(r io.Reader) error {
	return p.requireSession().ApplyExtensionHandshake(r)
}

// ExtensionHandshakePayload bencodes the local extension table for sending
// as a BEP-10 extended handshake.
func (p *Peer) ExtensionHandshakePayload() ([]byte, error) {
	return p.requireSession().ExtensionHandshakePayload()
}

// --- Dispatcher backlink ---

// SetBtMessageDispatcher installs a non-owning weak reference to the
// message dispatcher on the current session.
func (p *Peer) SetBtMessageDispatcher(ref dispatcher.WeakRef) {
	p.requireSession().SetBtMessageDispatcher(ref)
}

// CountOutstandingUpload reports how many upload requests are in flight
// from the local side on behalf of this peer, or 0 if the dispatcher has
// gone away.
func (p *Peer) CountOutstandingUpload() int {
	return p.requireSession().CountOutstandingUpload(p.id)
}

// --- Bad-condition cool-down ---

// StartBadCondition stamps badConditionStartTime at the current time.
func (p *Peer) StartBadCondition() { p.badConditionStartTime = p.clk.Now() }

// IsGood reports whether at least BadConditionInterval seconds have
// elapsed since the last StartBadCondition call. A Peer that has never had
// StartBadCondition called is good from birth, since the zero Timer's
// Difference is defined to be large.
func (p *Peer) IsGood() bool {
	return p.badConditionStartTime.Difference(p.clk.Now()) >= BadConditionInterval
}
