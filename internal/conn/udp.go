package conn

import (
	"net"
)

// udpWriter backs plain ProtoUDP destinations: no sequence header, just
// fixed-size chopping and (optional) pacing between datagrams.
type udpWriter struct {
	conn        *net.UDPConn
	packetBytes int
	pacer       *Pacer
}

func dialUDP(t Target) (Writer, error) {
	raddr, err := net.ResolveUDPAddr("udp", t.addr())
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	packetBytes := t.PacketBytes
	if packetBytes <= 0 {
		packetBytes = 1472 // conservative Ethernet-MTU-minus-headers default
	}
	return &udpWriter{
		conn:        c,
		packetBytes: packetBytes,
		pacer:       NewPacer(t.IPD, t.LinkRateBitsPerSec, packetBytes),
	}, nil
}

func (w *udpWriter) Write(data []byte) (int, error) {
	total := 0
	for len(data) > 0 {
		n := w.packetBytes
		if n > len(data) {
			n = len(data)
		}
		if w.pacer.operatorIPD > 0 || w.pacer.linkRateIPD > 0 {
			w.pacer.Wait()
		}
		written, err := w.conn.Write(data[:n])
		total += written
		if err != nil {
			return total, err
		}
		data = data[n:]
	}
	return total, nil
}

func (w *udpWriter) Shutdown() error {
	return nil // UDP has no connection state to close gracefully
}

func (w *udpWriter) Close() error {
	return w.conn.Close()
}

// vtpWriter backs ProtoVTP destinations: a single datagram per Write call
// carrying an 8-byte sequence number and the caller's payload verbatim, no
// reassembly on the wire — the payload must already fit in one packet;
// callers that need chopping use ProtoUDPS instead.
type vtpWriter struct {
	conn  *net.UDPConn
	seq   uint64
	pacer *Pacer
}

func dialVTP(t Target) (Writer, error) {
	raddr, err := net.ResolveUDPAddr("udp", t.addr())
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &vtpWriter{
		conn:  c,
		pacer: NewPacer(t.IPD, t.LinkRateBitsPerSec, t.PacketBytes),
	}, nil
}

func (w *vtpWriter) Write(data []byte) (int, error) {
	if w.pacer.operatorIPD > 0 || w.pacer.linkRateIPD > 0 {
		w.pacer.Wait()
	}
	buf := make([]byte, 8+len(data))
	putSeqnr(buf, w.seq)
	copy(buf[8:], data)
	w.seq++
	if _, err := w.conn.Write(buf); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (w *vtpWriter) Shutdown() error { return nil }
func (w *vtpWriter) Close() error    { return w.conn.Close() }

func putSeqnr(buf []byte, seq uint64) {
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(seq >> (8 * i))
	}
}
