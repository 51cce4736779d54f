package session

import (
	"bytes"
	"io"

	bencode "github.com/jackpal/bencode-go"
)

// extensionTable is the bidirectional name<->id mapping backing BEP-10
// extended messaging. id 0 is reserved for the extended-handshake message
// itself and can never be assigned to an application extension, per
// spec.md §9.
type extensionTable struct {
	nameToID map[string]uint8
	idToName map[uint8]string
}

func newExtensionTable() *extensionTable {
	return &extensionTable{
		nameToID: make(map[string]uint8),
		idToName: make(map[uint8]string),
	}
}

// set registers name<->id, overwriting whichever stale mapping(s) would
// otherwise leave the table inconsistent — last write wins, as spec.md
// §4.1 requires explicitly. id 0 is rejected silently: it can never be an
// application id.
func (t *extensionTable) set(name string, id uint8) {
	if id == 0 {
		return
	}

	if oldID, ok := t.nameToID[name]; ok {
		delete(t.idToName, oldID)
	}
	if oldName, ok := t.idToName[id]; ok {
		delete(t.nameToID, oldName)
	}

	t.nameToID[name] = id
	t.idToName[id] = name
}

func (t *extensionTable) id(name string) uint8 { return t.nameToID[name] }
func (t *extensionTable) name(id uint8) string { return t.idToName[id] }

// extendedHandshake is the "m" sub-dictionary of a BEP-10 extended
// handshake message: extension name -> local message id.
type extendedHandshake struct {
	M map[string]int64 `bencode:"m"`
}

// SetExtension registers name<->id for the extension protocol.
func (s *Session) SetExtension(name string, id uint8) {
	s.ext.set(name, id)
}

// GetExtensionMessageID returns the id registered for name, or 0 if name is
// not registered. 0 is never a valid application id, so this value doubles
// as the "not registered" sentinel, per spec.md §4.1.
func (s *Session) GetExtensionMessageID(name string) uint8 {
	return s.ext.id(name)
}

// GetExtensionName returns the name registered for id, or "" if id is not
// registered.
func (s *Session) GetExtensionName(id uint8) string {
	return s.ext.name(id)
}

// ExtensionHandshakePayload bencodes the current extension table into the
// "m" dictionary a BEP-10 extended handshake carries on the wire.
func (s *Session) ExtensionHandshakePayload() ([]byte, error) {
	m := make(map[string]int64, len(s.ext.nameToID))
	for name, id := range s.ext.nameToID {
		m[name] = int64(id)
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, extendedHandshake{M: m}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ApplyExtensionHandshake decodes a peer's extended handshake payload and
// registers every (name, id) pair it carries through the same last-write-
// wins path SetExtension uses, so wire-sourced and locally-driven
// registration can never diverge in behavior. A session only gets one
// extended handshake; a second call returns ErrDuplicateHandshake without
// touching the extension table.
func (s *Session) ApplyExtensionHandshake(r io.Reader) error {
	if s.handshakeApplied {
		return ErrDuplicateHandshake
	}

	var hs extendedHandshake
	if err := bencode.Unmarshal(r, &hs); err != nil {
		return err
	}
	s.handshakeApplied = true

	for name, id := range hs.M {
		if id <= 0 || id > 255 {
			continue
		}
		s.SetExtension(name, uint8(id))
	}
	return nil
}
