package udps

import (
	"encoding/binary"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Socket is the UDPS bottom half's view of its listening datagram socket:
// a thin wrapper that exposes the MSG_PEEK/MSG_WAITALL receive sequence
// and the back-channel ACK send, on top of a
// plain *net.UDPConn. Kept as an interface (PacketConn) so the reorder
// logic in receiver.go can be driven by a fake in tests.
type PacketConn interface {
	// Peek reads up to len(buf) bytes without consuming them, reporting
	// the sender's address. Used to learn a datagram's header before
	// deciding where in the window it belongs.
	Peek(buf []byte) (n int, from *net.UDPAddr, err error)
	// ReadFull consumes exactly one datagram into buf (MSG_WAITALL
	// semantics: a UDP recv always returns one whole datagram or fails,
	// so this is just a full read).
	ReadFull(buf []byte) (n int, from *net.UDPAddr, err error)
	// WriteTo sends data to addr, used for the back-channel ACK.
	WriteTo(data []byte, addr *net.UDPAddr) error
	// Close releases the underlying fd; also used by the Chain's cancel
	// hook to unblock a thread parked in a read.
	Close() error
	LocalAddr() net.Addr
}

// udpSocket is the real PacketConn, backed by a bound *net.UDPConn.
type udpSocket struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket on laddr ("" or ":0" style addr strings as
// accepted by net.ListenUDP).
func Listen(network, laddr string) (PacketConn, error) {
	addr, err := net.ResolveUDPAddr(network, laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, err
	}
	return &udpSocket{conn: conn}, nil
}

func (s *udpSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *udpSocket) Peek(buf []byte) (int, *net.UDPAddr, error) {
	return s.recv(buf, unix.MSG_PEEK)
}

func (s *udpSocket) ReadFull(buf []byte) (int, *net.UDPAddr, error) {
	return s.recv(buf, 0)
}

// recv drives recvfrom(2) directly through the socket's raw fd so the
// MSG_PEEK flag (unavailable through net.UDPConn's own ReadFromUDP) can be
// set.
func (s *udpSocket) recv(buf []byte, flags int) (n int, from *net.UDPAddr, err error) {
	raw, rerr := s.conn.SyscallConn()
	if rerr != nil {
		return 0, nil, rerr
	}
	var sa unix.Sockaddr
	ctrlErr := raw.Read(func(fd uintptr) bool {
		n, _, _, sa, err = unix.Recvmsg(int(fd), buf, nil, flags)
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return false // tell the runtime poller to keep waiting
		}
		return true
	})
	if ctrlErr != nil {
		return 0, nil, ctrlErr
	}
	if err != nil {
		return 0, nil, err
	}
	from = sockaddrToUDPAddr(sa)
	return n, from, nil
}

func (s *udpSocket) WriteTo(data []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

func (s *udpSocket) Close() error {
	return s.conn.Close()
}

func sockaddrToUDPAddr(sa unix.Sockaddr) *net.UDPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	default:
		return nil
	}
}

// ParseSeqnr extracts the sequence number from a received datagram's
// header, using the 64-bit form unless use32 selects the sender variant
// that only ever populates the low 32 bits.
func ParseSeqnr(data []byte, use32 bool) uint64 {
	if use32 {
		if len(data) < 4 {
			return 0
		}
		return uint64(binary.BigEndian.Uint32(data[:4]))
	}
	if len(data) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data[:8])
}
