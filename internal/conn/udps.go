package conn

import (
	"net"

	"github.com/jive5ab/chaincore/internal/wire"
)

// udpsWriter backs ProtoUDPS destinations: data is chopped into
// PacketBytes-sized datagrams, each prefixed with an 8-byte big-endian
// sequence number (wire.UDPSHeader) so a udps.Window receiver on the
// other end can reassemble and detect loss.
type udpsWriter struct {
	conn        *net.UDPConn
	packetBytes int
	seq         uint64
	pacer       *Pacer
}

func dialUDPS(t Target) (Writer, error) {
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
		packetBytes = 1472 - wire.UDPSHeaderSize
	}
	return &udpsWriter{
		conn:        c,
		packetBytes: packetBytes,
		pacer:       NewPacer(t.IPD, t.LinkRateBitsPerSec, packetBytes+wire.UDPSHeaderSize),
	}, nil
}

func (w *udpsWriter) Write(data []byte) (int, error) {
	total := 0
	buf := make([]byte, wire.UDPSHeaderSize+w.packetBytes)

	for len(data) > 0 {
		n := w.packetBytes
		if n > len(data) {
			n = len(data)
		}

		if w.pacer.operatorIPD > 0 || w.pacer.linkRateIPD > 0 {
			w.pacer.Wait()
		}

		hdr := wire.MarshalUDPSHeader(wire.UDPSHeader{Seqnr: w.seq})
		copy(buf[:wire.UDPSHeaderSize], hdr)
		copy(buf[wire.UDPSHeaderSize:], data[:n])
		w.seq++

		if _, err := w.conn.Write(buf[:wire.UDPSHeaderSize+n]); err != nil {
			return total, err
		}
		total += n
		data = data[n:]
	}
	return total, nil
}

func (w *udpsWriter) Shutdown() error {
	return nil
}

func (w *udpsWriter) Close() error {
	return w.conn.Close()
}
