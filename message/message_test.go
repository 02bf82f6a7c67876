package message

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], bytes.Repeat([]byte{0xAB}, 20))
	copy(peerID[:], bytes.Repeat([]byte{0xCD}, 20))

	h := Handshake{InfoHash: infoHash, PeerID: peerID}
	encoded := h.Encode()
	require.Len(t, encoded, HandshakeLen)
	require.Equal(t, byte(19), encoded[0])
	require.Equal(t, Pstr, string(encoded[1:20]))

	decoded, err := ReadHandshake(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestHandshakeRejectsBadPrefix(t *testing.T) {
	bad := make([]byte, HandshakeLen)
	bad[0] = 18
	_, err := ReadHandshake(bytes.NewReader(bad))
	require.Error(t, err)
}

func TestRequestPieceRoundTrip(t *testing.T) {
	req := RequestMessage{Index: 2, Begin: 0, Length: 262144}
	encoded := req.Encode()

	id, body, err := ReadLengthPrefixed(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, Request, id)
	decoded, err := DecodeRequest(body)
	require.NoError(t, err)
	require.Equal(t, req, decoded)

	piece := PieceMessage{Index: 2, Begin: 0, Block: []byte("hello piece data")}
	pieceEncoded := piece.Encode()
	id2, body2, err := ReadLengthPrefixed(bytes.NewReader(pieceEncoded))
	require.NoError(t, err)
	require.Equal(t, Piece, id2)
	decodedPiece, err := DecodePiece(body2)
	require.NoError(t, err)
	require.Equal(t, piece, decodedPiece)
}

func TestReadLengthPrefixedRejectsZeroLength(t *testing.T) {
	_, _, err := ReadLengthPrefixed(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.Error(t, err)
}
