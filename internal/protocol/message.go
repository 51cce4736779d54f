// Package protocol implements the wire codec for the subset of BitTorrent
// peer-wire messages the peer session engine consumes directly: HAVE,
// BITFIELD, the Fast Extension's HAVE_ALL/HAVE_NONE/ALLOWED_FAST, and the
// BEP-10 extended-messaging envelope. It deliberately does not cover
// REQUEST/PIECE/CANCEL or the choke/interest messages — those carry no
// session-engine state of their own (choke/interest are driven by
// Peer.SetAmChoking et al. directly, not decoded here) and are out of
// scope for this package.
package protocol

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/qitv/gofetch/internal/peer"
	"github.com/qitv/gofetch/internal/session"
)

type MessageID uint8

const (
	Have        MessageID = 4
	Bitfield    MessageID = 5
	HaveAll     MessageID = 14
	HaveNone    MessageID = 15
	AllowedFast MessageID = 17
	Extended    MessageID = 20
)

func (mid MessageID) String() string {
	switch mid {
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case HaveAll:
		return "HaveAll"
	case HaveNone:
		return "HaveNone"
	case AllowedFast:
		return "AllowedFast"
	case Extended:
		return "Extended"
	default:
		return fmt.Sprintf("Unknown(%d)", mid)
	}
}

// Message is a single length-prefixed peer-wire message.
//
// Wire format:
//
//	keep-alive: <length=0>
//	otherwise: <length:4><id:1><payload:length-1>
//
// A nil *Message denotes a keep-alive frame.
type Message struct {
	ID      MessageID
	Payload []byte
}

var (
	ErrShortMessage    = errors.New("protocol: short message")
	ErrBadLengthPrefix = errors.New("protocol: invalid length prefix")
	ErrBadPayloadSize  = errors.New("protocol: invalid payload size for message")
	ErrUnhandledID     = errors.New("protocol: message id not handled by this decoder")
)

var (
	_ encoding.BinaryMarshaler   = (*Message)(nil)
	_ encoding.BinaryUnmarshaler = (*Message)(nil)
	_ io.WriterTo                = (*Message)(nil)
	_ io.ReaderFrom              = (*Message)(nil)
)

// IsKeepAlive reports whether m denotes a keep-alive frame.
func IsKeepAlive(m *Message) bool { return m == nil }

func MessageHave(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: Have, Payload: payload}
}

func MessageBitfield(bits []byte) *Message {
	cp := make([]byte, len(bits))
	copy(cp, bits)
	return &Message{ID: Bitfield, Payload: cp}
}

func MessageHaveAll() *Message  { return &Message{ID: HaveAll} }
func MessageHaveNone() *Message { return &Message{ID: HaveNone} }

func MessageAllowedFast(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: AllowedFast, Payload: payload}
}

// MessageExtendedHandshake wraps a pre-encoded BEP-10 "m" dictionary
// payload (see session.ExtensionHandshakePayload) as message id 0 under
// the Extended envelope.
func MessageExtendedHandshake(bencoded []byte) *Message {
	payload := make([]byte, 1+len(bencoded))
	payload[0] = 0
	copy(payload[1:], bencoded)
	return &Message{ID: Extended, Payload: payload}
}

// parseIndex decodes the common 4-byte big-endian piece index payload
// shared by Have and AllowedFast.
func (m *Message) parseIndex(want MessageID) (index uint32, ok bool) {
	if m == nil || m.ID != want || len(m.Payload) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(m.Payload), true
}

// ParseHave returns the piece index for a Have message.
func (m *Message) ParseHave() (index uint32, ok bool) { return m.parseIndex(Have) }

// ParseAllowedFast returns the piece index for an AllowedFast message.
func (m *Message) ParseAllowedFast() (index uint32, ok bool) { return m.parseIndex(AllowedFast) }

// ExtendedExtensionID returns the local extension message id carried by an
// Extended message's first payload byte, and whether this is a well-formed
// Extended frame at all. id 0 denotes the extended handshake.
func (m *Message) ExtendedExtensionID() (id uint8, ok bool) {
	if m == nil || m.ID != Extended || len(m.Payload) < 1 {
		return 0, false
	}
	return m.Payload[0], true
}

func (m *Message) MarshalBinary() ([]byte, error) {
	if m == nil {
		return []byte{0, 0, 0, 0}, nil
	}

	length := 1 + len(m.Payload)
	if length < 1 || length > int(^uint32(0)) {
		return nil, ErrBadLengthPrefix
	}

	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)

	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Accepts keep-alive
// (length=0) and normal frames for any message id — ValidatePayloadSize
// and Apply are where the "only this subset is handled" scoping lives.
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return ErrShortMessage
	}

	length := binary.BigEndian.Uint32(b[0:4])
	if length == 0 {
		*m = Message{}
		return nil
	}
	if len(b) < 4+int(length) {
		return ErrShortMessage
	}

	m.ID = MessageID(b[4])
	m.Payload = append(m.Payload[:0], b[5:4+int(length)]...)

	return nil
}

func (m *Message) WriteTo(w io.Writer) (int64, error) {
	if m == nil {
		var z [4]byte
		n, err := w.Write(z[:])
		return int64(n), err
	}

	var hdr [5]byte
	length := 1 + len(m.Payload)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(length))
	hdr[4] = byte(m.ID)

	n1, err := w.Write(hdr[:])
	if err != nil {
		return int64(n1), err
	}
	if len(m.Payload) == 0 {
		return int64(n1), nil
	}

	n2, err := w.Write(m.Payload)
	return int64(n1 + n2), err
}

func (m *Message) ReadFrom(r io.Reader) (int64, error) {
	var lp [4]byte
	if _, err := io.ReadFull(r, lp[:]); err != nil {
		return 0, err
	}

	length := binary.BigEndian.Uint32(lp[:])
	if length == 0 {
		*m = Message{}
		return 4, nil
	}
	if length < 1 {
		return 4, ErrBadLengthPrefix
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return int64(4 + len(buf)), err
	}
	m.ID = MessageID(buf[0])
	m.Payload = append(m.Payload[:0], buf[1:]...)

	return int64(4 + len(buf)), nil
}

func ReadMessage(r io.Reader) (*Message, error) {
	var m Message
	if _, err := m.ReadFrom(r); err != nil {
		return nil, err
	}
	if m.Payload == nil && m.ID == 0 {
		return nil, nil
	}
	return &m, nil
}

func WriteMessage(w io.Writer, m *Message) error {
	_, err := m.WriteTo(w)
	return err
}

func (m *Message) ValidatePayloadSize() error {
	if m == nil {
		return nil
	}

	switch m.ID {
	case Have, AllowedFast:
		if len(m.Payload) != 4 {
			return ErrBadPayloadSize
		}
	case HaveAll, HaveNone:
		if len(m.Payload) != 0 {
			return ErrBadPayloadSize
		}
	case Extended:
		if len(m.Payload) < 1 {
			return ErrBadPayloadSize
		}
	}
	return nil
}

// Apply decodes m and drives the corresponding state transition on p
// through the Peer façade — this is the concrete WireDecoder behavior for
// the message subset this package covers. Keep-alive frames (nil m) and
// Extended messages carrying an application extension id (id != 0) are
// accepted as no-ops; anything outside {Have, Bitfield, HaveAll, HaveNone,
// AllowedFast, Extended} returns ErrUnhandledID.
func Apply(p *peer.Peer, m *Message) error {
	if IsKeepAlive(m) {
		return nil
	}
	if err := m.ValidatePayloadSize(); err != nil {
		return err
	}

	switch m.ID {
	case Have:
		index, _ := m.ParseHave()
		return p.UpdateBitfield(int(index), session.SET)
	case Bitfield:
		return p.SetBitfield(m.Payload)
	case HaveAll:
		p.SetAllBitfield()
		return nil
	case HaveNone:
		p.ClearAllBitfield()
		return nil
	case AllowedFast:
		index, _ := m.ParseAllowedFast()
		p.AddPeerAllowedIndex(int(index))
		return nil
	case Extended:
		id, _ := m.ExtendedExtensionID()
		if id != 0 {
			return nil // application extension payload: out of scope
		}
		return p.ApplyExtensionHandshake(bytes.NewReader(m.Payload[1:]))
	default:
		return ErrUnhandledID
	}
}
