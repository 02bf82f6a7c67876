// Package message implements the peer-wire framing used between peers:
// the handshake, and the request/piece messages exchanged once connected.
package message

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ID identifies a peer-wire message type. The full BitTorrent message set
// is named here for protocol completeness, but this profile only ever
// sends Request and Piece: no choke/unchoke fairness, no bitfield
// exchange, no have/cancel (see spec §4.3).
type ID uint8

const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	BitField      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
)

// ErrProtocol is the sentinel cause for malformed peer-wire framing.
var ErrProtocol = errors.New("message: protocol error")

// RequestMessage is <len=0013><id=6><index><begin><length>.
type RequestMessage struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// Encode serializes a RequestMessage to its 17-byte wire form.
func (r RequestMessage) Encode() []byte {
	buf := make([]byte, 4+13)
	binary.BigEndian.PutUint32(buf[0:4], 13)
	buf[4] = byte(Request)
	binary.BigEndian.PutUint32(buf[5:9], r.Index)
	binary.BigEndian.PutUint32(buf[9:13], r.Begin)
	binary.BigEndian.PutUint32(buf[13:17], r.Length)
	return buf
}

// PieceMessage is <len=9+len(block)><id=7><index><begin><block>.
type PieceMessage struct {
	Index uint32
	Begin uint32
	Block []byte
}

// Encode serializes a PieceMessage to its wire form.
func (p PieceMessage) Encode() []byte {
	length := 9 + len(p.Block)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	buf[4] = byte(Piece)
	binary.BigEndian.PutUint32(buf[5:9], p.Index)
	binary.BigEndian.PutUint32(buf[9:13], p.Begin)
	copy(buf[13:], p.Block)
	return buf
}

// ReadLengthPrefixed reads a 4-byte big-endian length prefix followed by
// that many body bytes from r. Used by both the seeder (reading Request
// bodies) and the leecher (reading Piece bodies).
func ReadLengthPrefixed(r io.Reader) (id ID, body []byte, err error) {
	lenBuf := make([]byte, 4)
	if _, err = io.ReadFull(r, lenBuf); err != nil {
		return 0, nil, errors.Wrap(err, "message: reading length prefix")
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 {
		return 0, nil, errors.Wrap(ErrProtocol, "zero-length message")
	}
	buf := make([]byte, length)
	if _, err = io.ReadFull(r, buf); err != nil {
		return 0, nil, errors.Wrap(err, "message: reading message body")
	}
	return ID(buf[0]), buf[1:], nil
}

// DecodeRequest parses a Request message body (everything after the ID
// byte): <index><begin><length>.
func DecodeRequest(body []byte) (RequestMessage, error) {
	if len(body) != 12 {
		return RequestMessage{}, errors.Wrapf(ErrProtocol, "request body length %d, want 12", len(body))
	}
	return RequestMessage{
		Index:  binary.BigEndian.Uint32(body[0:4]),
		Begin:  binary.BigEndian.Uint32(body[4:8]),
		Length: binary.BigEndian.Uint32(body[8:12]),
	}, nil
}

// DecodePiece parses a Piece message body: <index><begin><block>.
func DecodePiece(body []byte) (PieceMessage, error) {
	if len(body) < 8 {
		return PieceMessage{}, errors.Wrapf(ErrProtocol, "piece body length %d, want >= 8", len(body))
	}
	return PieceMessage{
		Index: binary.BigEndian.Uint32(body[0:4]),
		Begin: binary.BigEndian.Uint32(body[4:8]),
		Block: body[8:],
	}, nil
}
