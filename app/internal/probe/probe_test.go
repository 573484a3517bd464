package probe

import (
	"context"
	"encoding/binary"
	"net"
	"syscall"
	"testing"
	"time"

	"golang.org/x/net/icmp"
)

// --------------- Outcome ---------------

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSuccess, "success"},
		{KindTimeout, "timeout"},
		{KindUnreachable, "unreachable"},
		{KindError, "error"},
		{Kind(42), "kind(42)"},
	}
	for _, tc := range tests {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tc.kind), got, tc.want)
		}
	}
}

func TestOutcomeConstructors(t *testing.T) {
	if o := Success(42 * time.Millisecond); o.Kind != KindSuccess || o.Latency != 42*time.Millisecond {
		t.Errorf("Success: %+v", o)
	}
	if o := Timeout(); o.Kind != KindTimeout || o.Latency != 0 {
		t.Errorf("Timeout: %+v", o)
	}
	if o := Unreachable(); o.Kind != KindUnreachable {
		t.Errorf("Unreachable: %+v", o)
	}
	if o := Errorf("socket: %v", "denied"); o.Kind != KindError || o.Reason != "socket: denied" {
		t.Errorf("Errorf: %+v", o)
	}
}

// --------------- Reply matching ---------------

func TestMatches(t *testing.T) {
	e := NewICMP()
	sent := time.Now()

	ours := &icmp.Echo{ID: e.id, Seq: 7, Data: e.payload(sent)}
	if !e.matches(ours, 7, true) {
		t.Error("own reply in raw mode should match")
	}
	if !e.matches(ours, 7, false) {
		t.Error("own reply in datagram mode should match")
	}

	if e.matches(ours, 8, true) {
		t.Error("wrong sequence should not match")
	}

	foreignID := &icmp.Echo{ID: e.id ^ 0x1, Seq: 7, Data: e.payload(sent)}
	if e.matches(foreignID, 7, true) {
		t.Error("foreign echo ID should not match in raw mode")
	}
	// The kernel rewrites the ID on datagram sockets, so only the payload counts.
	if !e.matches(foreignID, 7, false) {
		t.Error("rewritten echo ID should still match in datagram mode")
	}

	other := NewICMP()
	foreignTracker := &icmp.Echo{ID: e.id, Seq: 7, Data: other.payload(sent)}
	if e.matches(foreignTracker, 7, true) {
		t.Error("another executor's payload should not match")
	}

	short := &icmp.Echo{ID: e.id, Seq: 7, Data: []byte{1, 2, 3}}
	if e.matches(short, 7, true) {
		t.Error("truncated payload should not match")
	}
}

// unreachBody builds a destination-unreachable body carrying an invoking
// echo with the given ID and sequence behind a plain IP header.
func unreachBody(t *testing.T, v6 bool, ihl, id, seq int) *icmp.DstUnreach {
	t.Helper()
	hdr := 40
	if !v6 {
		hdr = ihl * 4
	}
	data := make([]byte, hdr+8)
	if !v6 {
		data[0] = 0x40 | byte(ihl)
	}
	echo := data[hdr:]
	echo[0] = 8
	if v6 {
		echo[0] = 128
	}
	binary.BigEndian.PutUint16(echo[4:6], uint16(id))
	binary.BigEndian.PutUint16(echo[6:8], uint16(seq))
	return &icmp.DstUnreach{Data: data}
}

func TestInvokedByUs(t *testing.T) {
	e := NewICMP()

	if !e.invokedByUs(unreachBody(t, false, 5, e.id, 7), 7, false, true) {
		t.Error("unreachable for own echo should match in raw mode")
	}
	if !e.invokedByUs(unreachBody(t, false, 6, e.id, 7), 7, false, true) {
		t.Error("invoking header with IP options should still parse")
	}
	if !e.invokedByUs(unreachBody(t, true, 0, e.id, 7), 7, true, true) {
		t.Error("unreachable for own echo should match for IPv6")
	}

	if e.invokedByUs(unreachBody(t, false, 5, e.id^0x1, 7), 7, false, true) {
		t.Error("unreachable for a foreign echo ID should not match in raw mode")
	}
	// The kernel rewrites the ID on datagram sockets, so only the sequence counts.
	if !e.invokedByUs(unreachBody(t, false, 5, e.id^0x1, 7), 7, false, false) {
		t.Error("rewritten echo ID should still match in datagram mode")
	}
	if e.invokedByUs(unreachBody(t, false, 5, e.id, 8), 7, false, true) {
		t.Error("wrong sequence should not match")
	}

	short := &icmp.DstUnreach{Data: []byte{0x45, 0, 0}}
	if e.invokedByUs(short, 7, false, true) {
		t.Error("truncated invoking packet should not match")
	}
	if e.invokedByUs(&icmp.Echo{ID: e.id, Seq: 7}, 7, false, true) {
		t.Error("non-unreachable body should not match")
	}
}

// --------------- Failure classification ---------------

func TestClassifyNetErr(t *testing.T) {
	hostUnreach := &net.OpError{Op: "write", Err: syscall.EHOSTUNREACH}
	if o := classifyNetErr(hostUnreach, "send"); o.Kind != KindUnreachable {
		t.Errorf("EHOSTUNREACH: %+v", o)
	}
	netUnreach := &net.OpError{Op: "write", Err: syscall.ENETUNREACH}
	if o := classifyNetErr(netUnreach, "send"); o.Kind != KindUnreachable {
		t.Errorf("ENETUNREACH: %+v", o)
	}
	denied := &net.OpError{Op: "listen", Err: syscall.EPERM}
	if o := classifyNetErr(denied, "send"); o.Kind != KindError {
		t.Errorf("EPERM: %+v", o)
	}
}

func TestProbe_InvalidAddress(t *testing.T) {
	e := NewICMP()
	o := e.Probe(context.Background(), "not-an-ip", time.Second)
	if o.Kind != KindError {
		t.Errorf("invalid address: %+v", o)
	}
}
