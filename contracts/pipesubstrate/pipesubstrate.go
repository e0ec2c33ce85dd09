// Package pipesubstrate provides an in-process contracts.Substrate over
// net.Pipe, authenticated with golang.org/x/crypto/nacl/box the same way
// the teacher's crypto package builds Tox's encrypted channel, used by
// end-to-end tests and the cmd/p2pconvert demo in place of a real
// encrypted peer-to-peer link. A peer's identity is the hex encoding of
// its NaCl box public key, so dialing a peer and authenticating it are
// the same operation: Dial only succeeds once the responder proves
// possession of the private key matching the identity string the caller
// asked for.
package pipesubstrate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/box"

	"github.com/opd-ai/p2pconvert/contracts"
)

// protocolID is the out-of-band negotiated identifier named in §6.
const protocolID = "/convert/1.0.0"

var greeting = []byte("p2pconvert-hello:" + protocolID)
var ack = []byte("p2pconvert-ack:" + protocolID)

// ErrPeerUnknown is returned by Dial when the target peer has not
// registered with the shared Network.
var ErrPeerUnknown = errors.New("pipesubstrate: peer not registered on this network")

// ErrHandshakeFailed is returned when the NaCl box handshake does not
// authenticate the expected peer.
var ErrHandshakeFailed = errors.New("pipesubstrate: handshake authentication failed")

// Network is the shared in-process registry every pipesubstrate.Substrate
// in a test or demo must join, playing the role the concrete P2P
// substrate's discovery layer would play in production (out of scope per
// §1).
type Network struct {
	mu    sync.Mutex
	peers map[string]*Substrate
}

// NewNetwork returns an empty shared registry.
func NewNetwork() *Network {
	return &Network{peers: make(map[string]*Substrate)}
}

// Substrate implements contracts.Substrate over net.Pipe connections
// exchanged through a shared Network.
type Substrate struct {
	net     *Network
	id      string // hex-encoded public key; also the dial target string
	public  [32]byte
	private [32]byte

	mu     sync.Mutex
	inbox  chan net.Conn
	closed bool
}

// New creates a fresh keypair, registers it on net under the resulting
// hex public key identity, and returns the ready-to-use Substrate. The
// identity string is what other participants pass to Dial.
func New(net_ *Network) (*Substrate, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pipesubstrate: generate keypair: %w", err)
	}

	s := &Substrate{
		net:     net_,
		id:      hex.EncodeToString(pub[:]),
		public:  *pub,
		private: *priv,
		inbox:   make(chan net.Conn, 16),
	}

	net_.mu.Lock()
	net_.peers[s.id] = s
	net_.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"peer_id":  s.id,
	}).Info("registered pipesubstrate identity")

	return s, nil
}

// ID returns this Substrate's dialable identity.
func (s *Substrate) ID() string { return s.id }

// Dial implements contracts.Substrate. It opens a net.Pipe, hands one end
// to the target's inbox, and performs a mutual NaCl box handshake over
// the other end before returning an authenticated Stream.
func (s *Substrate) Dial(ctx context.Context, peer string) (contracts.Stream, error) {
	s.net.mu.Lock()
	target, ok := s.net.peers[peer]
	s.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnknown, peer)
	}

	peerPub, err := decodeHexKey(peer)
	if err != nil {
		return nil, err
	}

	clientEnd, serverEnd := net.Pipe()

	select {
	case target.inbox <- serverEnd:
	case <-ctx.Done():
		clientEnd.Close()
		serverEnd.Close()
		return nil, ctx.Err()
	}

	if err := clientHandshake(ctx, clientEnd, s.public, s.private, peerPub); err != nil {
		clientEnd.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Dial",
		"self":      s.id,
		"peer":      peer,
		"protocol":  protocolID,
	}).Info("dialed and authenticated peer")

	return &Conn{Conn: clientEnd, remotePeer: peer}, nil
}

// Listen implements contracts.Substrate. Each inbound net.Pipe connection
// is handshake-authenticated before being published on the returned
// channel; connections that fail authentication are closed and dropped.
func (s *Substrate) Listen(ctx context.Context) (<-chan contracts.Stream, error) {
	out := make(chan contracts.Stream)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-s.inbox:
				if !ok {
					return
				}
				go s.acceptOne(ctx, raw, out)
			}
		}
	}()

	return out, nil
}

func (s *Substrate) acceptOne(ctx context.Context, raw net.Conn, out chan<- contracts.Stream) {
	remotePub, err := serverHandshake(ctx, raw, s.public, s.private)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "acceptOne",
			"self":     s.id,
			"error":    err.Error(),
		}).Warn("rejecting inbound connection: handshake failed")
		raw.Close()
		return
	}

	conn := &Conn{Conn: raw, remotePeer: hex.EncodeToString(remotePub[:])}
	select {
	case out <- conn:
	case <-ctx.Done():
		raw.Close()
	}
}

// Close unregisters this Substrate from its Network and stops accepting
// new inbound connections.
func (s *Substrate) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.net.mu.Lock()
	delete(s.net.peers, s.id)
	s.net.mu.Unlock()

	close(s.inbox)
	return nil
}

func decodeHexKey(s string) ([32]byte, error) {
	var key [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return key, fmt.Errorf("pipesubstrate: invalid peer identity %q", s)
	}
	copy(key[:], b)
	return key, nil
}

// clientHandshake seals `greeting` for peerPub, writes it, then reads and
// verifies the server's sealed `ack`.
func clientHandshake(ctx context.Context, conn net.Conn, selfPub, selfPriv, peerPub [32]byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("pipesubstrate: handshake nonce: %w", err)
	}
	sealed := box.Seal(nil, greeting, &nonce, &peerPub, &selfPriv)

	if err := writeFrame(conn, selfPub[:], nonce[:], sealed); err != nil {
		return fmt.Errorf("pipesubstrate: write handshake: %w", err)
	}

	_, respNonce, respSealed, err := readFrame(conn)
	if err != nil {
		return fmt.Errorf("pipesubstrate: read handshake response: %w", err)
	}
	opened, ok := box.Open(nil, respSealed, toNonce(respNonce), &peerPub, &selfPriv)
	if !ok || string(opened) != string(ack) {
		return ErrHandshakeFailed
	}
	return nil
}

// serverHandshake reads the dialer's sealed greeting, opens it with the
// claimed public key, and on success replies with a sealed ack. Returns
// the authenticated peer's public key.
func serverHandshake(ctx context.Context, conn net.Conn, selfPub, selfPriv [32]byte) ([32]byte, error) {
	var claimedPub [32]byte

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	peerPubBytes, nonce, sealed, err := readFrame(conn)
	if err != nil {
		return claimedPub, fmt.Errorf("pipesubstrate: read handshake: %w", err)
	}
	if len(peerPubBytes) != 32 {
		return claimedPub, ErrHandshakeFailed
	}
	copy(claimedPub[:], peerPubBytes)

	opened, ok := box.Open(nil, sealed, toNonce(nonce), &claimedPub, &selfPriv)
	if !ok || string(opened) != string(greeting) {
		return claimedPub, ErrHandshakeFailed
	}

	var respNonce [24]byte
	if _, err := rand.Read(respNonce[:]); err != nil {
		return claimedPub, fmt.Errorf("pipesubstrate: ack nonce: %w", err)
	}
	respSealed := box.Seal(nil, ack, &respNonce, &claimedPub, &selfPriv)

	if err := writeFrame(conn, selfPub[:], respNonce[:], respSealed); err != nil {
		return claimedPub, fmt.Errorf("pipesubstrate: write ack: %w", err)
	}

	return claimedPub, nil
}

func toNonce(b []byte) *[24]byte {
	var n [24]byte
	copy(n[:], b)
	return &n
}

// writeFrame/readFrame carry the handshake's three fixed-size-prefixed
// fields (pubkey, nonce, sealed box) over the raw pipe, ahead of the
// codec's own framing which governs the stream once the handshake
// completes.
func writeFrame(conn net.Conn, pub, nonce, sealed []byte) error {
	buf := make([]byte, 0, 1+len(pub)+1+len(nonce)+4+len(sealed))
	buf = append(buf, byte(len(pub)))
	buf = append(buf, pub...)
	buf = append(buf, byte(len(nonce)))
	buf = append(buf, nonce...)
	buf = append(buf, byte(len(sealed)>>24), byte(len(sealed)>>16), byte(len(sealed)>>8), byte(len(sealed)))
	buf = append(buf, sealed...)
	_, err := conn.Write(buf)
	return err
}

func readFrame(conn net.Conn) (pub, nonce, sealed []byte, err error) {
	var lenBuf [1]byte
	if _, err = readFull(conn, lenBuf[:]); err != nil {
		return
	}
	pub = make([]byte, lenBuf[0])
	if _, err = readFull(conn, pub); err != nil {
		return
	}
	if _, err = readFull(conn, lenBuf[:]); err != nil {
		return
	}
	nonce = make([]byte, lenBuf[0])
	if _, err = readFull(conn, nonce); err != nil {
		return
	}
	var sealedLenBuf [4]byte
	if _, err = readFull(conn, sealedLenBuf[:]); err != nil {
		return
	}
	sealedLen := int(sealedLenBuf[0])<<24 | int(sealedLenBuf[1])<<16 | int(sealedLenBuf[2])<<8 | int(sealedLenBuf[3])
	sealed = make([]byte, sealedLen)
	_, err = readFull(conn, sealed)
	return
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
