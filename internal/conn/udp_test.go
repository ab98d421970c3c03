package conn

import (
	"net"
	"testing"
	"time"

	"github.com/jive5ab/chaincore/internal/wire"
)

func listenLoopbackUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	return c
}

func TestUDPWriterChopsIntoFixedSizeDatagrams(t *testing.T) {
	srv := listenLoopbackUDP(t)
	defer srv.Close()
	port := srv.LocalAddr().(*net.UDPAddr).Port

	w, err := dialUDP(Target{Protocol: ProtoUDP, Host: "127.0.0.1", Port: port, PacketBytes: 4})
	if err != nil {
		t.Fatalf("dialUDP: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("ABCDEFGH")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = srv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := srv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("first datagram: %v", err)
	}
	if n != 4 || string(buf[:4]) != "ABCD" {
		t.Fatalf("expected first 4-byte chop, got %q", buf[:n])
	}

	n, _, err = srv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("second datagram: %v", err)
	}
	if n != 4 || string(buf[:4]) != "EFGH" {
		t.Fatalf("expected second 4-byte chop, got %q", buf[:n])
	}
}

func TestUDPSWriterPrependsSequenceHeader(t *testing.T) {
	srv := listenLoopbackUDP(t)
	defer srv.Close()
	port := srv.LocalAddr().(*net.UDPAddr).Port

	w, err := dialUDPS(Target{Protocol: ProtoUDPS, Host: "127.0.0.1", Port: port, PacketBytes: 4})
	if err != nil {
		t.Fatalf("dialUDPS: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("ABCD")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("EFGH")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = srv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 32)

	n, _, err := srv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("first datagram: %v", err)
	}
	hdr, err := wire.UnmarshalUDPSHeader(buf[:n])
	if err != nil {
		t.Fatalf("UnmarshalUDPSHeader: %v", err)
	}
	if hdr.Seqnr != 0 {
		t.Fatalf("expected first seqnr 0, got %d", hdr.Seqnr)
	}
	if string(buf[wire.UDPSHeaderSize:n]) != "ABCD" {
		t.Fatalf("expected payload ABCD, got %q", buf[wire.UDPSHeaderSize:n])
	}

	n, _, err = srv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("second datagram: %v", err)
	}
	hdr, err = wire.UnmarshalUDPSHeader(buf[:n])
	if err != nil {
		t.Fatalf("UnmarshalUDPSHeader: %v", err)
	}
	if hdr.Seqnr != 1 {
		t.Fatalf("expected second seqnr 1, got %d", hdr.Seqnr)
	}
}

func TestVTPWriterSingleDatagramPerWrite(t *testing.T) {
	srv := listenLoopbackUDP(t)
	defer srv.Close()
	port := srv.LocalAddr().(*net.UDPAddr).Port

	w, err := dialVTP(Target{Protocol: ProtoVTP, Host: "127.0.0.1", Port: port})
	if err != nil {
		t.Fatalf("dialVTP: %v", err)
	}
	defer w.Close()

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = srv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := srv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if n != 8+len(payload) {
		t.Fatalf("expected 8-byte seqnr plus payload, got %d bytes", n)
	}
}
