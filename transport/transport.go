// Package transport implements siphon's peer data links: a TCP sender/
// receiver pipeline pair per peer, and a single shared UDP socket carrying
// all peers' datagrams with ack piggyback (spec.md §4.5, §4.6).
/*
 * The teacher's own transport package is HTTP-stream based (bundle/stream
 * groups multiplexed over net/http); siphon's datapath is raw TCP/UDP, so
 * this package is written fresh, grounded in
 * original_source/datapath/siphon/networking/tcp_connection_manager.cpp for
 * the connection-manager shape (per-peer sender/receiver maps under a
 * reader-writer lock, accept-reads-peer-id-first, the initiation tie-break)
 * while keeping the teacher's package name and its pdu.go-style preference
 * for named returns and explicit offset bookkeeping in the framing code.
 */
package transport

import (
	"net"

	"github.com/iqua-toronto/siphon/minion"
)

// flatten concatenates a scatter-send slice into one contiguous buffer, for
// links (UDP datagrams) that cannot issue a vectored write.
func flatten(bufs [][]byte) []byte {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}

// onPeerFailure is invoked by a sender or receiver goroutine the moment its
// socket reports a peer I/O failure (spec.md §7 kind 2): the caller drops
// that peer's sender and receiver, no retry.
type onPeerFailure func(peerID uint32, err error)

// shouldInitiateConnectionTo implements the tie-break of spec.md §4.5,
// ported literally from
// TCPConnectionManager::shouldInitiateConnectionTo in
// original_source/datapath/siphon/networking/tcp_connection_manager.cpp:
// the node pair's id sum decides which side of the "greater/lesser" rule
// applies, so exactly one side initiates.
func shouldInitiateConnectionTo(localNodeID, peerNodeID uint32) bool {
	if (localNodeID+peerNodeID)%2 == 0 {
		return peerNodeID > localNodeID
	}
	return peerNodeID < localNodeID
}

// setNoDelay enables TCP_NODELAY on conn if it is a TCP connection
// (spec.md §4.5: "TCP uses a stream socket with TCP_NODELAY").
func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}

// Manager is the minion.Stop-resolving surface both the TCP and UDP
// connection managers implement, satisfying crossbar.PeerSenders.
type Manager interface {
	Sender(nodeID uint32) (minion.Stop, bool)
	Connect(peerID uint32, addr string) error
	Remove(peerID uint32)
	Close() error
}
