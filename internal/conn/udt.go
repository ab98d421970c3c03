package conn

import (
	"net"
	"time"
)

// udtWriter backs ProtoUDT destinations. No UDT binding exists anywhere in
// the retrieved dependency pack, so this runs UDT's congestion-controlled,
// reliable-datagram semantics over a plain TCP stream instead: reliability
// and ordering come from TCP directly, and CongestionWindow always reports
// zero, since TCP applies its own backpressure on Write. Swapping in
// a real UDT binding later only touches this file.
type udtWriter struct {
	conn *net.TCPConn
}

func dialUDT(t Target) (Writer, error) {
	raddr, err := net.ResolveTCPAddr("tcp", t.addr())
	if err != nil {
		return nil, err
	}
	c, err := net.DialTCP("tcp", nil, raddr)
	if err != nil {
		return nil, err
	}
	_ = c.SetNoDelay(true)
	return &udtWriter{conn: c}, nil
}

func (w *udtWriter) Write(data []byte) (int, error) {
	return w.conn.Write(data)
}

// CongestionWindow reports a congestion read-back value for callers that
// want to throttle their producer when the peer is falling behind. Real
// UDT exposes an actual congestion window; this stand-in reports zero,
// since TCP's kernel-level backpressure already applies on Write.
func (w *udtWriter) CongestionWindow() int {
	return 0
}

func (w *udtWriter) Shutdown() error {
	_ = w.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := w.conn.CloseWrite(); err != nil {
		return err
	}
	drain := make([]byte, 4096)
	for {
		if _, err := w.conn.Read(drain); err != nil {
			break
		}
	}
	return nil
}

func (w *udtWriter) Close() error {
	return w.conn.Close()
}
