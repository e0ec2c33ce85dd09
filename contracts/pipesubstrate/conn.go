package pipesubstrate

import "net"

// Conn adapts a net.Pipe connection into a contracts.Stream by adding the
// authenticated peer identity established during the handshake.
type Conn struct {
	net.Conn
	remotePeer string
}

// RemotePeer implements contracts.Stream.
func (c *Conn) RemotePeer() string { return c.remotePeer }
