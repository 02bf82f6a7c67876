package peer

import (
	"crypto/rand"
	"net"

	"github.com/pkg/errors"
)

// newPeerID generates a random 20-byte peer identifier, the length the
// handshake reserves for it (spec §9 design notes, "Peer ID length").
func newPeerID() ([20]byte, error) {
	var id [20]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, errors.Wrap(err, "peer: generating peer id")
	}
	return id, nil
}

// localIP resolves this host's outbound IPv4 address by opening a UDP
// "connection" to a public address and reading the chosen local address;
// no packets are actually sent.
func localIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "peer: resolving local IP")
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP.String(), nil
}
