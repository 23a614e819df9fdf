// Package controlplane implements siphon's controller proxy (spec.md
// §4.8): the persistent TCP control link to the central controller, the
// NUL-delimited JSON envelope protocol carried over it, and dispatch of
// inbound control messages to the forwarding table, peer connection
// manager, and notification bus.
/*
 * Grounded on
 * original_source/datapath/siphon/controller/controller_connection.{hpp,cpp}
 * (the handshake, NUL-delimited framing, and the should_call_send_
 * output-queue flag -- reimplemented here as notify.Context, the same
 * single-consumer primitive the notification bus already uses for
 * serialized observers) and controller_proxy.{hpp,cpp} (the envelope
 * dispatch table: NodeOnline/NodeOffline/Routing/SetSessionWeight).
 */
package controlplane

import (
	"bytes"
	"encoding/binary"
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/iqua-toronto/siphon/cmn/cos"
	"github.com/iqua-toronto/siphon/cmn/nlog"
	"github.com/iqua-toronto/siphon/crossbar"
	"github.com/iqua-toronto/siphon/notify"
	"github.com/iqua-toronto/siphon/stats"
	"github.com/iqua-toronto/siphon/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope type codes, matching the controller wire protocol's "Type"
// field (spec.md §4.8's dispatch table).
const (
	TypeNodeOnline = iota + 1
	TypeNodeOffline
	TypeRouting
	TypeRTT
	TypeBandwidth
	TypeSessionSubscribed
	TypeQuerySessionID
	TypeNewSession
	TypeSetSessionWeight
)

type envelope struct {
	Type uint
	Msg  jsoniter.RawMessage
}

// NodeInfo is one {NodeID, Hostname} pair as carried by a NodeOnline
// envelope. Hostname is "host:port" of that node's data-plane listener.
type NodeInfo struct {
	NodeID   uint32
	Hostname string
}

type nodeOnlineMsg struct {
	Nodes []NodeInfo
}

type nodeOfflineMsg struct {
	NodeID uint32
}

type routingMsg struct {
	SessionID string
	Entry     jsoniter.RawMessage
	Timeout   *float64 // seconds; absent or 0 means no TTL
}

// Proxy is the local stand-in for the central controller: every inbound
// control decision (routing, peer membership) arrives through it, and
// every outbound notification (RTT samples, routing queries, ...) leaves
// through it.
type Proxy struct {
	addr        string
	hostname    string
	localNodeID uint32

	conn net.Conn
	out  *notify.Context // outbound send queue, one write at a time

	crossbar *crossbar.Crossbar
	conns    transport.Manager
	bus      *notify.Bus
	reporter *stats.Reporter
}

// New constructs a Proxy. addr is "host:port" of the controller; hostname
// is what this node reports about itself during the handshake (its own
// data-plane-reachable host:port, so NodeOnline's peer entries are
// directly dialable).
func New(addr, hostname string, cb *crossbar.Crossbar, conns transport.Manager, bus *notify.Bus) *Proxy {
	return &Proxy{
		addr:     addr,
		hostname: hostname,
		out:      notify.NewContext(),
		crossbar: cb,
		conns:    conns,
		bus:      bus,
	}
}

// LocalNodeID returns the id assigned by the controller during the
// handshake. Only valid after Connect (or Run) has completed connecting.
func (p *Proxy) LocalNodeID() uint32 { return p.localNodeID }

// SetConnectionManager wires in the peer connection manager that
// NodeOnline/NodeOffline dispatch drives. Callers that must learn the
// local node id (via Connect) before they can construct a connection
// manager call this between Connect and Serve; New already accepts one
// directly for callers that don't have that ordering constraint.
func (p *Proxy) SetConnectionManager(conns transport.Manager) { p.conns = conns }

// SetReporter wires a metrics reporter in; every RTT sample forwarded to
// the controller is also recorded there. nil (the default) disables
// reporting.
func (p *Proxy) SetReporter(r *stats.Reporter) { p.reporter = r }

// Run connects to the controller and then serves it forever; see Connect
// and Serve. Most callers want this. Callers whose connection manager
// needs the handshake-assigned local node id before it can be constructed
// should call Connect and Serve separately instead, wiring
// SetConnectionManager in between.
func (p *Proxy) Run() {
	p.Connect()
	p.Serve()
}

// Connect dials the controller (retrying with back-off) and completes the
// handshake, leaving LocalNodeID populated. A post-retry dial failure or a
// handshake failure is fatal (spec.md §7 kind 5).
func (p *Proxy) Connect() {
	conn := p.connectWithBackoff()
	p.conn = conn

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	if err := p.handshake(); err != nil {
		cos.Exitf("controlplane: handshake with controller %s failed: %v", p.addr, err)
	}
	nlog.Infof("controlplane: connected to controller %s as node %d", p.addr, p.localNodeID)
}

// Serve registers this Proxy as the serialized observer for every
// outbound-capable notification type and then blocks reading control
// messages until the connection fails. Must be called after Connect.
func (p *Proxy) Serve() {
	p.bus.ObserveSerialized(notify.RTT, p.out, p.sendNotification(TypeRTT))
	p.bus.ObserveSerialized(notify.Bandwidth, p.out, p.sendNotification(TypeBandwidth))
	p.bus.ObserveSerialized(notify.SessionSubscribed, p.out, p.sendNotification(TypeSessionSubscribed))
	p.bus.ObserveSerialized(notify.QuerySessionID, p.out, p.sendNotification(TypeQuerySessionID))
	p.bus.ObserveSerialized(notify.NewSession, p.out, p.sendNotification(TypeNewSession))
	p.bus.ObserveSerialized(notify.QueryForwardingEntry, p.out, p.sendQueryForwardingEntry)

	p.readLoop()
}

// connectWithBackoff dials p.addr, retrying up to 5 times with delays
// 1, 2, 4, 8, 16 seconds (spec.md §4.8). Exhausting all retries is fatal.
// This is a plain blocking loop rather than an hk registration: it runs
// once, sequentially, in the dedicated goroutine that calls Run, before
// there is anything else for that goroutine to do -- hk's re-armable
// named timers exist for state that outlives a single call stack (the
// forwarding table's per-session TTLs), not a one-shot startup wait.
func (p *Proxy) connectWithBackoff() net.Conn {
	delay := time.Second
	for attempt := 0; attempt <= 5; attempt++ {
		conn, err := net.Dial("tcp", p.addr)
		if err == nil {
			return conn
		}
		nlog.Warningf("controlplane: connect to controller %s failed (attempt %d/6): %v", p.addr, attempt+1, err)
		if attempt < 5 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	cos.Exitf("controlplane: could not connect to controller %s after 6 attempts", p.addr)
	return nil // unreachable, cos.Exitf terminates the process
}

// handshake implements spec.md §4.8's handshake: send hostname length and
// bytes, then read the assigned node id.
func (p *Proxy) handshake() error {
	hostBytes := []byte(p.hostname)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(hostBytes)))
	if _, err := p.conn.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "write hostname length")
	}
	if _, err := p.conn.Write(hostBytes); err != nil {
		return errors.Wrap(err, "write hostname")
	}

	var idBuf [4]byte
	if _, err := readFull(p.conn, idBuf[:]); err != nil {
		return errors.Wrap(err, "read assigned node id")
	}
	p.localNodeID = binary.LittleEndian.Uint32(idBuf[:])
	p.crossbar.SetLocalNodeID(p.localNodeID)
	return nil
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

// readLoop reads NUL-delimited JSON frames off the control connection,
// dispatching each complete one as it is parsed and carrying any partial
// suffix over to the next read (spec.md §4.8). Any read failure is fatal.
func (p *Proxy) readLoop() {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := p.conn.Read(tmp)
		if err != nil {
			cos.Exitf("controlplane: control connection read failed: %v", err)
			return
		}
		buf = append(buf, tmp[:n]...)
		for {
			idx := bytes.IndexByte(buf, 0)
			if idx < 0 {
				break
			}
			frame := buf[:idx]
			buf = buf[idx+1:]
			p.handleFrame(frame)
		}
	}
}

func (p *Proxy) handleFrame(frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		nlog.Warningf("controlplane: malformed control envelope, discarding: %v", err)
		return
	}
	p.dispatch(env)
}

// dispatch implements spec.md §4.8's Type -> handler table.
func (p *Proxy) dispatch(env envelope) {
	switch env.Type {
	case TypeNodeOnline:
		p.handleNodeOnline(env.Msg)
	case TypeNodeOffline:
		p.handleNodeOffline(env.Msg)
	case TypeRouting:
		p.handleRouting(env.Msg)
	case TypeRTT, TypeBandwidth, TypeSessionSubscribed, TypeQuerySessionID, TypeNewSession:
		// Outbound-only: the controller never sends these to a node.
	case TypeSetSessionWeight:
		nlog.Warningf("controlplane: unsupported op: set session weight")
	default:
		nlog.Warningf("controlplane: unknown control message type %d, discarding", env.Type)
	}
}

func (p *Proxy) handleNodeOnline(raw []byte) {
	var msg nodeOnlineMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		nlog.Warningf("controlplane: malformed NodeOnline message: %v", err)
		return
	}
	for _, n := range msg.Nodes {
		if n.NodeID == p.localNodeID {
			continue
		}
		if err := p.conns.Connect(n.NodeID, n.Hostname); err != nil {
			nlog.Warningf("controlplane: connect to node %d at %s failed: %v", n.NodeID, n.Hostname, err)
			continue
		}
		nlog.Infof("controlplane: node %d online at %s", n.NodeID, n.Hostname)
	}
}

func (p *Proxy) handleNodeOffline(raw []byte) {
	var msg nodeOfflineMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		nlog.Warningf("controlplane: malformed NodeOffline message: %v", err)
		return
	}
	p.conns.Remove(msg.NodeID)
	nlog.Infof("controlplane: node %d offline", msg.NodeID)
}

func (p *Proxy) handleRouting(raw []byte) {
	var msg routingMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		nlog.Warningf("controlplane: malformed Routing message: %v", err)
		return
	}
	var timeout time.Duration
	if msg.Timeout != nil {
		timeout = time.Duration(*msg.Timeout * float64(time.Second))
	}
	if err := p.crossbar.InstallForwardingTableEntry(msg.SessionID, msg.Entry, timeout); err != nil {
		nlog.Warningf("controlplane: install forwarding entry for %q failed: %v", msg.SessionID, err)
	}
}

// sendNotification returns a notify.Observer that wraps payload in an
// envelope of the given type and writes it to the controller. Used for
// the outbound-only notification types (spec.md §4.8, table rows 4-8).
// RTT samples also update the reporter, if one is wired: the bus allows
// only one observer per type, so this is the only place that can see RTT
// samples besides the controller write itself.
func (p *Proxy) sendNotification(envType uint) notify.Observer {
	return func(payload any) {
		if envType == TypeRTT && p.reporter != nil {
			if sample, ok := payload.(notify.RTTSample); ok {
				p.reporter.SetRTT(sample.PeerID, time.Duration(sample.SampleUs)*time.Microsecond)
			}
		}
		p.send(envType, payload)
	}
}

// sendQueryForwardingEntry forwards crossbar's internal
// QueryForwardingEntry notification (a bare session id string) to the
// controller as a QuerySessionID envelope asking it to resolve the
// session's route.
func (p *Proxy) sendQueryForwardingEntry(payload any) {
	sessionID, _ := payload.(string)
	p.send(TypeQuerySessionID, struct{ SessionID string }{SessionID: sessionID})
}

// send marshals and enqueues one outbound envelope. Delivery is ordered
// by p.out: this may be called concurrently from any number of bus
// observers, but writes to the socket never interleave.
func (p *Proxy) send(envType uint, msg any) {
	data, err := json.Marshal(struct {
		Type uint
		Msg  any
	}{Type: envType, Msg: msg})
	if err != nil {
		nlog.Warningf("controlplane: failed to marshal outbound envelope type %d: %v", envType, err)
		return
	}
	data = append(data, 0)
	p.out.Run(func() {
		if _, err := p.conn.Write(data); err != nil {
			cos.Exitf("controlplane: control connection write failed: %v", err)
		}
	})
}
