package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/iqua-toronto/siphon/cmn/cos"
	"github.com/iqua-toronto/siphon/cmn/nlog"
	"github.com/iqua-toronto/siphon/coder"
	"github.com/iqua-toronto/siphon/minion"
	"github.com/iqua-toronto/siphon/wire"
	"github.com/iqua-toronto/siphon/workerpool"
)

// UDPManager owns the single shared datagram socket for the node (spec.md
// §4.5: "UDP never creates a second socket"). Per-peer "senders" (udpPeer)
// are logical: they all write through the same conn, serialized by one
// outbox consumer goroutine.
type UDPManager struct {
	conn        *net.UDPConn
	localNodeID uint32
	pool        *minion.Pool
	crossbar    minion.Stop
	coderName   string
	dispatch    *workerpool.Pool

	outbox chan udpOutItem

	mu       sync.RWMutex
	peers    map[uint32]*udpPeer // keyed by peer node id, sender side
	decMu    sync.Mutex
	decoders map[string]coder.Decoder // keyed by session id, receiver side

	closeOnce sync.Once
	done      chan struct{}
}

type udpOutItem struct {
	msg   *wire.Message
	addr  *net.UDPAddr
	owner *minion.Minion // set only on the last item belonging to a minion
}

// NewUDPManager binds port (the wildcard interface) and starts the
// send/receive loops. A bind failure is fatal (spec.md §7 kind 5). dispatch
// may be nil, in which case the receive loop drives a decoded minion's
// pipeline inline rather than handing it to a shared worker pool.
func NewUDPManager(pool *minion.Pool, localNodeID uint32, crossbar minion.Stop, port uint16, coderName string, dispatch *workerpool.Pool) *UDPManager {
	m, err := newUDPManagerAddr(pool, localNodeID, crossbar, fmt.Sprintf(":%d", port), coderName, dispatch)
	if err != nil {
		cos.Exitf("transport: failed to bind udp listening port %d: %v", port, err)
		return nil
	}
	return m
}

// newUDPManagerAddr binds laddr directly (host:port); used by tests that
// need to bind to 127.0.0.1 specifically rather than the wildcard address.
func newUDPManagerAddr(pool *minion.Pool, localNodeID uint32, crossbar minion.Stop, laddr, coderName string, dispatch *workerpool.Pool) (*UDPManager, error) {
	udpLaddr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpLaddr)
	if err != nil {
		return nil, err
	}
	if coderName == "" {
		coderName = "DirectPass"
	}
	m := &UDPManager{
		conn:        conn,
		localNodeID: localNodeID,
		pool:        pool,
		crossbar:    crossbar,
		coderName:   coderName,
		dispatch:    dispatch,
		outbox:      make(chan udpOutItem, pool.Capacity()),
		peers:       make(map[uint32]*udpPeer),
		decoders:    make(map[string]coder.Decoder),
		done:        make(chan struct{}),
	}
	go m.sendLoop()
	go m.receiveLoop()
	return m, nil
}

// Connect registers addr as the datagram destination for peerID; UDP has no
// connection to establish, so this always creates the sender (spec.md
// §4.8's NodeOnline handler: "for UDP always create the sender").
func (m *UDPManager) Connect(peerID uint32, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	factory, err := coder.Lookup(m.coderName)
	if err != nil {
		return err
	}
	peer := &udpPeer{
		mgr:      m,
		nodeID:   peerID,
		addr:     udpAddr,
		factory:  factory,
		encoders: make(map[string]coder.Encoder),
	}
	m.mu.Lock()
	m.peers[peerID] = peer
	m.mu.Unlock()
	return nil
}

func (m *UDPManager) Remove(peerID uint32) {
	m.mu.Lock()
	delete(m.peers, peerID)
	m.mu.Unlock()
}

// Sender implements crossbar.PeerSenders.
func (m *UDPManager) Sender(nodeID uint32) (minion.Stop, bool) {
	m.mu.RLock()
	p, ok := m.peers[nodeID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return p, true
}

func (m *UDPManager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return m.conn.Close()
}

// enqueue fans owner's primary message and any coder-produced extras out as
// individual outbox items, tagging only the last one with owner so the
// minion returns to the pool once every one of them has been sent (spec.md
// §4.5 step 2's "walks the minion's optional extra-message list").
func (m *UDPManager) enqueue(owner *minion.Minion, addr *net.UDPAddr) {
	items := make([]udpOutItem, 0, 1+len(owner.Message.Extra))
	items = append(items, udpOutItem{msg: owner.Message, addr: addr})
	for _, extra := range owner.Message.Extra {
		items = append(items, udpOutItem{msg: extra, addr: addr})
	}
	items[len(items)-1].owner = owner
	for _, it := range items {
		m.outbox <- it
	}
}

// sendLoop is the socket wrapper's single consumer for outbound traffic.
func (m *UDPManager) sendLoop() {
	for item := range m.outbox {
		item.msg.Header.TimestampUs = time.Now().UnixMicro()
		bufs, err := item.msg.ToBuffer()
		if err != nil {
			nlog.Warningf("transport: udp: failed to serialize outbound message: %v", err)
		} else if _, err := m.conn.WriteToUDP(flatten(bufs), item.addr); err != nil {
			nlog.Warningf("transport: udp: write to %s failed: %v", item.addr, err)
		}
		if item.owner != nil {
			m.pool.Process(item.owner)
		}
	}
}

// receiveLoop implements spec.md §4.6's UDP receiver steps 1-7.
func (m *UDPManager) receiveLoop() {
	for {
		mn := m.pool.Acquire()
		n, srcAddr, err := m.conn.ReadFromUDP(mn.Message.UDPRecvBuffer())
		if err != nil {
			m.pool.Process(mn)
			select {
			case <-m.done:
				return
			default:
				nlog.Warningf("transport: udp: receive failed, stopping shared socket loop: %v", err)
				return
			}
		}
		if err := mn.Message.ParseUDP(n); err != nil {
			nlog.Warningf("transport: udp: malformed datagram from %s: %v", srcAddr, err)
			m.pool.Process(mn)
			continue
		}
		if mn.Message.Header.Ack {
			m.handleAck(mn)
			m.pool.Process(mn)
			continue
		}
		m.handleData(mn, srcAddr)
	}
}

func (m *UDPManager) handleAck(mn *minion.Minion) {
	peerID := mn.Message.Header.Dst
	m.mu.RLock()
	peer, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	peer.onAck(mn.Message.Header.SessionID, coder.Params(mn.Message.Header.CodingParameters))
}

func (m *UDPManager) handleData(mn *minion.Minion, srcAddr *net.UDPAddr) {
	dec := m.decoderFor(mn.Message.Header.SessionID)
	produced := dec.Decode(mn)

	if !m.shouldSuppressAck(srcAddr) {
		m.sendAck(mn.Message.Header, dec.EncodedParameters(), srcAddr)
	}

	if produced {
		m.dispatch.Submit(func() { mn.Wakeup(m.crossbar) })
	} else {
		m.pool.Process(mn)
	}
}

// shouldSuppressAck implements spec.md §4.6 step 7's special case exactly
// as specified (Open Question: condition retained as-is, see DESIGN.md):
// no ack when the coder is not "test" and the remote endpoint is loopback.
func (m *UDPManager) shouldSuppressAck(srcAddr *net.UDPAddr) bool {
	return m.coderName != "test" && srcAddr.IP.IsLoopback()
}

func (m *UDPManager) sendAck(h wire.Header, params coder.Params, addr *net.UDPAddr) {
	ack := h
	ack.Ack = true
	ack.PayloadSize = 0
	ack.CodingParameters = uint32(params)
	ack.TimestampUs = time.Now().UnixMicro()

	buf := make([]byte, ack.MarshalLen())
	n, err := ack.Marshal(buf)
	if err != nil {
		nlog.Warningf("transport: udp: failed to build ack for session %q: %v", h.SessionID, err)
		return
	}
	frame := make([]byte, 4+2+n)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(2+n))
	binary.LittleEndian.PutUint16(frame[4:6], uint16(n))
	copy(frame[6:], buf[:n])
	if _, err := m.conn.WriteToUDP(frame, addr); err != nil {
		nlog.Warningf("transport: udp: ack write to %s failed: %v", addr, err)
	}
}

func (m *UDPManager) decoderFor(sessionID string) coder.Decoder {
	m.decMu.Lock()
	defer m.decMu.Unlock()
	if dec, ok := m.decoders[sessionID]; ok {
		return dec
	}
	factory, err := coder.Lookup(m.coderName)
	if err != nil {
		// Configuration is validated at startup; an unknown coder name
		// reaching here is a programming error, not a runtime condition.
		cos.Exitf("transport: udp: unknown coder %q: %v", m.coderName, err)
	}
	dec := factory.NewDecoder()
	m.decoders[sessionID] = dec
	return dec
}

// udpPeer is the logical per-peer sender that crossbar dispatches to; it
// shares UDPManager's one socket and owns that peer's per-session encoders.
type udpPeer struct {
	mgr     *UDPManager
	nodeID  uint32
	addr    *net.UDPAddr
	factory coder.Factory

	encMu    sync.Mutex
	encoders map[string]coder.Encoder
}

// Process implements spec.md §4.5 step 1 for the UDP case: stamp header,
// encode, and enqueue (or drop to the pool if the encoder has nothing to
// emit yet).
func (p *udpPeer) Process(m *minion.Minion) minion.Stop {
	h := &m.Message.Header
	h.Src = p.mgr.localNodeID
	h.Dst = p.nodeID
	h.Ack = false
	h.PayloadSize = uint32(len(m.Message.Payload()))

	enc := p.encoderFor(h.SessionID)
	if !enc.Encode(m) {
		return p.mgr.pool
	}
	p.mgr.enqueue(m, p.addr)
	return nil
}

func (p *udpPeer) onAck(sessionID string, params coder.Params) {
	p.encoderFor(sessionID).SetParameters(params)
}

func (p *udpPeer) encoderFor(sessionID string) coder.Encoder {
	p.encMu.Lock()
	defer p.encMu.Unlock()
	if enc, ok := p.encoders[sessionID]; ok {
		return enc
	}
	enc := p.factory.NewEncoder()
	p.encoders[sessionID] = enc
	return enc
}

