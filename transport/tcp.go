package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/iqua-toronto/siphon/cmn/cos"
	"github.com/iqua-toronto/siphon/cmn/nlog"
	"github.com/iqua-toronto/siphon/minion"
	"github.com/iqua-toronto/siphon/wire"
	"github.com/iqua-toronto/siphon/workerpool"
)

// TCPManager owns one listening socket and a per-peer sender/receiver pair
// for every connected peer (spec.md §4.5-§4.6). Senders and receivers are
// independent: LocalDebugNoReceivingSocket disables only the receiver half.
type TCPManager struct {
	localNodeID uint32
	pool        *minion.Pool
	crossbar    minion.Stop
	noReceiver  bool
	dispatch    *workerpool.Pool

	ln net.Listener

	mu        sync.RWMutex
	senders   map[uint32]*tcpSender
	receivers map[uint32]*tcpReceiver
}

// NewTCPManager constructs a manager that has not yet bound a listening
// socket; call Listen to start accepting. dispatch may be nil, in which
// case a receiver drives a completed minion's pipeline inline on its own
// goroutine rather than handing it to a shared worker pool.
func NewTCPManager(pool *minion.Pool, localNodeID uint32, crossbar minion.Stop, noReceiver bool, dispatch *workerpool.Pool) *TCPManager {
	return &TCPManager{
		localNodeID: localNodeID,
		pool:        pool,
		crossbar:    crossbar,
		noReceiver:  noReceiver,
		dispatch:    dispatch,
		senders:     make(map[uint32]*tcpSender),
		receivers:   make(map[uint32]*tcpReceiver),
	}
}

// Listen binds the TCP listening port and starts the accept loop in its own
// goroutine. A bind failure is fatal (spec.md §7 kind 5).
func (m *TCPManager) Listen(port uint16) {
	if _, err := m.ListenAddr(fmt.Sprintf(":%d", port)); err != nil {
		cos.Exitf("transport: failed to bind tcp listening port %d: %v", port, err)
	}
}

// ListenAddr binds addr (host:port, port 0 picks an ephemeral port) and
// starts the accept loop, returning the bound address. Tests use this to
// bind an ephemeral port; Listen is the fixed-port production entry point.
func (m *TCPManager) ListenAddr(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	m.ln = ln
	go m.acceptLoop(ln)
	return ln.Addr(), nil
}

func (m *TCPManager) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			nlog.Warningf("transport: tcp accept loop exiting: %v", err)
			return
		}
		go m.onAccept(conn)
	}
}

// onAccept reads the peer's node id off the freshly accepted socket before
// anything else (spec.md §6: "on accept, peer writes u32 peer_node_id"),
// then wires up a sender/receiver pair for it.
func (m *TCPManager) onAccept(conn net.Conn) {
	var peerID uint32
	if err := binary.Read(conn, binary.LittleEndian, &peerID); err != nil {
		nlog.Warningf("transport: tcp accept: failed to read peer node id: %v", err)
		conn.Close()
		return
	}
	setNoDelay(conn)
	m.register(peerID, conn)
}

// Connect dials peerID at addr, but only if the tie-break rule says this
// node initiates; otherwise it is a no-op (the peer will connect to us).
func (m *TCPManager) Connect(peerID uint32, addr string) error {
	if !shouldInitiateConnectionTo(m.localNodeID, peerID) {
		return nil
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	setNoDelay(conn)
	if err := binary.Write(conn, binary.LittleEndian, m.localNodeID); err != nil {
		conn.Close()
		return err
	}
	m.register(peerID, conn)
	return nil
}

func (m *TCPManager) register(peerID uint32, conn net.Conn) {
	sender := newTCPSender(conn, m.pool, m.localNodeID, peerID, m.onPeerFailure)
	go sender.run()

	m.mu.Lock()
	if old, ok := m.senders[peerID]; ok {
		old.close()
	}
	m.senders[peerID] = sender
	m.mu.Unlock()

	if m.noReceiver {
		return
	}
	receiver := newTCPReceiver(conn, m.pool, m.crossbar, m.dispatch)
	m.mu.Lock()
	if old, ok := m.receivers[peerID]; ok {
		old.close()
	}
	m.receivers[peerID] = receiver
	m.mu.Unlock()
	go receiver.run(peerID, m.onPeerFailure)
}

// onPeerFailure implements spec.md §7 kind 2: log, drop that peer's sender
// and receiver, no retry. The control plane re-announces the peer if it
// reappears (NodeOnline rewires Connect from scratch).
func (m *TCPManager) onPeerFailure(peerID uint32, err error) {
	nlog.Warningf("transport: tcp link to peer %d failed: %v", peerID, err)
	m.Remove(peerID)
}

// Remove drops peerID's sender and receiver, closing their sockets.
func (m *TCPManager) Remove(peerID uint32) {
	m.mu.Lock()
	sender, hasSender := m.senders[peerID]
	receiver, hasReceiver := m.receivers[peerID]
	delete(m.senders, peerID)
	delete(m.receivers, peerID)
	m.mu.Unlock()
	if hasSender {
		sender.close()
	}
	if hasReceiver {
		receiver.close()
	}
}

// Sender implements crossbar.PeerSenders.
func (m *TCPManager) Sender(nodeID uint32) (minion.Stop, bool) {
	m.mu.RLock()
	s, ok := m.senders[nodeID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s, true
}

// Close stops accepting new connections and tears down every peer link.
func (m *TCPManager) Close() error {
	if m.ln != nil {
		m.ln.Close()
	}
	m.mu.Lock()
	senders := m.senders
	receivers := m.receivers
	m.senders = make(map[uint32]*tcpSender)
	m.receivers = make(map[uint32]*tcpReceiver)
	m.mu.Unlock()
	for _, s := range senders {
		s.close()
	}
	for _, r := range receivers {
		r.close()
	}
	return nil
}

// tcpSender implements minion.Stop for one peer's outbound TCP link: Process
// stamps the header and pushes the minion onto the outbox; a dedicated
// goroutine (run) is the single consumer that owns the socket write.
type tcpSender struct {
	conn        net.Conn
	pool        *minion.Pool
	localNodeID uint32
	peerID      uint32
	onFail      onPeerFailure
	outbox      chan *minion.Minion
	closeOne    sync.Once
}

func newTCPSender(conn net.Conn, pool *minion.Pool, localNodeID, peerID uint32, onFail onPeerFailure) *tcpSender {
	return &tcpSender{
		conn:        conn,
		pool:        pool,
		localNodeID: localNodeID,
		peerID:      peerID,
		onFail:      onFail,
		outbox:      make(chan *minion.Minion, pool.Capacity()),
	}
}

// Process implements spec.md §4.5 step 1 for the TCP case: stamp header
// fields and push to the outbox (no coder hook on the TCP link).
func (s *tcpSender) Process(m *minion.Minion) minion.Stop {
	h := &m.Message.Header
	h.Src = s.localNodeID
	h.Dst = s.peerID
	h.Ack = false
	h.PayloadSize = uint32(len(m.Message.Payload()))
	s.outbox <- m
	return nil
}

// run is the socket wrapper: single consumer, at most one outstanding write
// at a time (spec.md §4.5 step 2).
func (s *tcpSender) run() {
	for m := range s.outbox {
		if err := s.sendOne(m.Message); err != nil {
			s.pool.Process(m)
			s.onFail(s.peerID, err)
			return
		}
		for _, extra := range m.Message.Extra {
			if err := s.sendOne(extra); err != nil {
				s.pool.Process(m)
				s.onFail(s.peerID, err)
				return
			}
		}
		s.pool.Process(m)
	}
}

func (s *tcpSender) sendOne(msg *wire.Message) error {
	msg.Header.TimestampUs = time.Now().UnixMicro()
	bufs, err := msg.ToBuffer()
	if err != nil {
		return err
	}
	_, err = (net.Buffers(bufs)).WriteTo(s.conn)
	return err
}

func (s *tcpSender) close() {
	s.closeOne.Do(func() { s.conn.Close() })
}

// tcpReceiver drives one peer's inbound TCP link in its own goroutine
// (spec.md §4.6); the socket read stays on that goroutine, but driving the
// minion's pipeline once a frame is complete is handed to dispatch so a
// slow downstream stop cannot stall the read loop.
type tcpReceiver struct {
	conn     net.Conn
	pool     *minion.Pool
	crossbar minion.Stop
	dispatch *workerpool.Pool
	closeOne sync.Once
}

func newTCPReceiver(conn net.Conn, pool *minion.Pool, crossbar minion.Stop, dispatch *workerpool.Pool) *tcpReceiver {
	return &tcpReceiver{conn: conn, pool: pool, crossbar: crossbar, dispatch: dispatch}
}

func (r *tcpReceiver) run(peerID uint32, onFail onPeerFailure) {
	for {
		m := r.pool.Acquire()
		if err := m.Message.ReceiveTCP(r.conn); err != nil {
			r.pool.Process(m)
			onFail(peerID, err)
			return
		}
		if m.Message.Header.Ack {
			nlog.Warningf("transport: tcp link received an ack-flagged frame, dropping")
			r.pool.Process(m)
			continue
		}
		r.dispatch.Submit(func() { m.Wakeup(r.crossbar) })
	}
}

func (r *tcpReceiver) close() {
	r.closeOne.Do(func() { r.conn.Close() })
}
