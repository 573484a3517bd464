package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	timeSliceLength  = 8
	trackerLength    = len(uuid.UUID{})
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

var (
	rawProto = map[bool]string{false: "ip4:icmp", true: "ip6:ipv6-icmp"}
	udpProto = map[bool]string{false: "udp4", true: "udp6"}
)

// Executor issues a single echo probe against one address.
type Executor interface {
	Probe(ctx context.Context, address string, timeout time.Duration) Outcome
}

// ICMP sends one echo request per Probe call. It prefers a raw socket and
// falls back to an unprivileged datagram ICMP socket when raw sockets are
// denied (Linux: net.ipv4.ping_group_range).
type ICMP struct {
	id      int
	tracker uuid.UUID
	seq     atomic.Uint32

	mu           sync.Mutex
	unprivileged bool
}

func NewICMP() *ICMP {
	return &ICMP{
		id:      os.Getpid() & 0xffff,
		tracker: uuid.New(),
	}
}

// Probe sends a single echo request and waits for a matching reply, a
// negative ICMP response, or the timeout. The socket is released on every
// exit path.
func (e *ICMP) Probe(ctx context.Context, address string, timeout time.Duration) Outcome {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return Errorf("resolve %s: %v", address, err)
	}
	addr = addr.Unmap()
	v6 := addr.Is6()

	conn, raw, err := e.listen(v6)
	if err != nil {
		return Errorf("socket: %v", err)
	}
	defer conn.Close()

	seq := int(e.seq.Add(1) & 0xffff)
	sent := time.Now()
	msg := &icmp.Message{
		Type: echoRequestType(v6),
		Code: 0,
		Body: &icmp.Echo{
			ID:   e.id,
			Seq:  seq,
			Data: e.payload(sent),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return Errorf("marshal echo: %v", err)
	}

	if _, err := conn.WriteTo(wire, destAddr(addr, raw)); err != nil {
		return classifyNetErr(err, "send")
	}
	if err := conn.SetReadDeadline(sent.Add(timeout)); err != nil {
		return Errorf("set deadline: %v", err)
	}

	proto := protocolICMP
	if v6 {
		proto = protocolIPv6ICMP
	}
	// The read deadline bounds the wait; an in-flight probe always runs to
	// one of the four outcomes rather than aborting on cancellation.
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return Timeout()
			}
			return classifyNetErr(err, "receive")
		}
		reply, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}
		switch reply.Type {
		case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
			echo, ok := reply.Body.(*icmp.Echo)
			if !ok || !e.matches(echo, seq, raw) {
				continue
			}
			return Success(time.Since(sent))
		case ipv4.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeDestinationUnreachable:
			// A raw socket sees unreachables for every flow on the
			// host, not just ours.
			if !e.invokedByUs(reply.Body, seq, v6, raw) {
				continue
			}
			return Unreachable()
		}
	}
}

// listen opens the probe socket, downgrading to unprivileged mode once and
// remembering the decision for later calls.
func (e *ICMP) listen(v6 bool) (*icmp.PacketConn, bool, error) {
	e.mu.Lock()
	unpriv := e.unprivileged
	e.mu.Unlock()

	if !unpriv {
		conn, err := icmp.ListenPacket(rawProto[v6], "")
		if err == nil {
			return conn, true, nil
		}
		if !errors.Is(err, os.ErrPermission) {
			return nil, false, err
		}
		e.mu.Lock()
		e.unprivileged = true
		e.mu.Unlock()
	}
	conn, err := icmp.ListenPacket(udpProto[v6], "")
	return conn, false, err
}

// payload carries the send time plus the executor tracker so stray echo
// replies from other processes are ignored.
func (e *ICMP) payload(sent time.Time) []byte {
	data := make([]byte, timeSliceLength+trackerLength)
	binary.BigEndian.PutUint64(data[:timeSliceLength], uint64(sent.UnixNano()))
	copy(data[timeSliceLength:], e.tracker[:])
	return data
}

// invokedByUs verifies a destination-unreachable message was triggered by
// this probe. The body carries the invoking packet: its IP header followed
// by at least the first eight bytes of the original echo, which hold the
// echo ID and sequence. The ID is only checked in raw mode, as in matches.
func (e *ICMP) invokedByUs(body icmp.MessageBody, seq int, v6, raw bool) bool {
	du, ok := body.(*icmp.DstUnreach)
	if !ok {
		return false
	}
	data := du.Data
	off := ipv6.HeaderLen
	if !v6 {
		if len(data) < 1 {
			return false
		}
		off = int(data[0]&0x0f) * 4
		if off < ipv4.HeaderLen {
			return false
		}
	}
	if len(data) < off+8 {
		return false
	}
	echo := data[off:]
	if raw && int(binary.BigEndian.Uint16(echo[4:6])) != e.id {
		return false
	}
	return int(binary.BigEndian.Uint16(echo[6:8])) == seq
}

// matches verifies a reply belongs to this probe. The kernel rewrites the
// echo ID on datagram sockets, so the ID is only checked in raw mode.
func (e *ICMP) matches(echo *icmp.Echo, seq int, raw bool) bool {
	if raw && echo.ID != e.id {
		return false
	}
	if echo.Seq != seq {
		return false
	}
	if len(echo.Data) < timeSliceLength+trackerLength {
		return false
	}
	var tracker uuid.UUID
	copy(tracker[:], echo.Data[timeSliceLength:timeSliceLength+trackerLength])
	return tracker == e.tracker
}

func echoRequestType(v6 bool) icmp.Type {
	if v6 {
		return ipv6.ICMPTypeEchoRequest
	}
	return ipv4.ICMPTypeEcho
}

func destAddr(addr netip.Addr, raw bool) net.Addr {
	ip := net.IP(addr.AsSlice())
	if raw {
		return &net.IPAddr{IP: ip, Zone: addr.Zone()}
	}
	return &net.UDPAddr{IP: ip, Zone: addr.Zone()}
}

// classifyNetErr maps transport-level failures onto the outcome taxonomy.
// Unreachable networks are operational data, everything else is an error.
func classifyNetErr(err error, op string) Outcome {
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return Unreachable()
	}
	return Errorf("%s: %v", op, err)
}
