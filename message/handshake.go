package message

import (
	"io"

	"github.com/pkg/errors"
)

// Pstr is the fixed protocol identifier string sent in every handshake.
const Pstr = "BitTorrent protocol"

// HandshakeLen is the fixed wire length of a handshake message: 1 + 19 +
// 8 + 20 + 20 bytes.
const HandshakeLen = 1 + len(Pstr) + 8 + 20 + 20

// Handshake is the fixed 68-byte message exchanged first on every peer
// connection.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Encode serializes the handshake: <19><"BitTorrent protocol"><8 zero
// bytes><info_hash><peer_id>.
func (h Handshake) Encode() []byte {
	buf := make([]byte, HandshakeLen)
	cursor := 0
	buf[cursor] = byte(len(Pstr))
	cursor++
	cursor += copy(buf[cursor:], Pstr)
	cursor += 8 // reserved, left zero
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads exactly HandshakeLen bytes from r and validates the
// protocol string before decoding info_hash and peer_id.
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, errors.Wrap(err, "message: reading handshake")
	}
	if !IsValidHandshakePrefix(buf) {
		return Handshake{}, errors.Wrap(ErrProtocol, "invalid handshake prefix")
	}
	var h Handshake
	copy(h.InfoHash[:], buf[1+len(Pstr)+8:1+len(Pstr)+8+20])
	copy(h.PeerID[:], buf[1+len(Pstr)+8+20:])
	return h, nil
}

// IsValidHandshakePrefix reports whether buf starts with the fixed
// pstrlen byte (19) and the literal protocol string, per spec §4.3: "A
// handshake is valid iff the first byte is 19 and the next 19 bytes equal
// 'BitTorrent protocol'."
func IsValidHandshakePrefix(buf []byte) bool {
	if len(buf) < 1+len(Pstr) {
		return false
	}
	return buf[0] == byte(len(Pstr)) && string(buf[1:1+len(Pstr)]) == Pstr
}
