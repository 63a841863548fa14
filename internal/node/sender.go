package node

import (
	"net"

	"github.com/sharenet/sharenet/internal/wire"
)

// udpSender is the concrete overlay.Sender and searchengine.Sender backed
// by this node's own UDP sockets: unicast replies go out on unicastConn
// addressed to the peer's unicast UDP port, broadcasts go out on
// broadcastConn addressed to the subnet broadcast address.
type udpSender struct {
	unicastConn   *net.UDPConn
	broadcastConn *net.UDPConn
	broadcastAddr *net.UDPAddr
	udpPort       int
}

// SendUnicast sends msg to addr's unicast UDP port.
func (s *udpSender) SendUnicast(addr string, msg wire.Message) error {
	dst := &net.UDPAddr{IP: net.ParseIP(addr), Port: s.udpPort}
	_, err := s.unicastConn.WriteToUDP(wire.Encode(msg), dst)
	return err
}

// SendBroadcast sends msg to the subnet broadcast address.
func (s *udpSender) SendBroadcast(msg wire.Message) error {
	_, err := s.broadcastConn.WriteToUDP(wire.Encode(msg), s.broadcastAddr)
	return err
}
