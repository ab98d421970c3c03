package fanout

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/jive5ab/chaincore"
	"github.com/jive5ab/chaincore/internal/conn"
)

func buildFanoutChain(t *testing.T, cfg Config, items []Tagged) *chaincore.Chain {
	t.Helper()
	c := chaincore.NewChain("test-fanout")

	_, err := chaincore.AddProducer[Tagged, struct{}](c, 4, 1,
		func() struct{} { return struct{}{} },
		func(struct{}) {},
		func(env *chaincore.SyncEnvelope[struct{}], out *chaincore.BoundedQueue[Tagged], threadIndex int) error {
			for _, item := range items {
				if !out.Push(item) {
					item.Payload.Release()
					break
				}
			}
			out.DelayedDisable()
			return nil
		})
	if err != nil {
		t.Fatalf("AddProducer: %v", err)
	}

	maker, deleter := NewMaker(cfg)
	_, err = chaincore.AddConsumer[Tagged, *Fanout](c, 1, maker, deleter, Run)
	if err != nil {
		t.Fatalf("AddConsumer: %v", err)
	}
	return c
}

func tcpBlock(pool *chaincore.Blockpool, payload string) *chaincore.Block {
	b := pool.Get()
	copy(b.Bytes(), payload)
	return b
}

func TestFanoutRoutesTaggedBlocksByDestination(t *testing.T) {
	lnA, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen A: %v", err)
	}
	defer lnA.Close()
	lnB, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen B: %v", err)
	}
	defer lnB.Close()

	gotA := make(chan []byte, 1)
	gotB := make(chan []byte, 1)
	go acceptAndRead(t, lnA, gotA, 8)
	go acceptAndRead(t, lnB, gotB, 8)

	portA := lnA.Addr().(*net.TCPAddr).Port
	portB := lnB.Addr().(*net.TCPAddr).Port

	cfg := Config{Destinations: map[string]conn.Target{
		"alpha": {Protocol: conn.ProtoTCP, Host: "127.0.0.1", Port: portA},
		"beta":  {Protocol: conn.ProtoTCP, Host: "127.0.0.1", Port: portB},
	}}

	pool := chaincore.NewBlockpool(8)
	items := []Tagged{
		{Tag: "alpha", Payload: tcpBlock(pool, "AAAAAAAA")},
		{Tag: "beta", Payload: tcpBlock(pool, "BBBBBBBB")},
	}

	c := buildFanoutChain(t, cfg, items)
	if err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Wait()

	select {
	case data := <-gotA:
		if string(data) != "AAAAAAAA" {
			t.Fatalf("destination A got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("destination A received nothing")
	}
	select {
	case data := <-gotB:
		if string(data) != "BBBBBBBB" {
			t.Fatalf("destination B got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("destination B received nothing")
	}
}

func TestFanoutSharesWriterAcrossTagsForSameTarget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	got := make(chan []byte, 1)
	go acceptAndRead(t, ln, got, 16)

	port := ln.Addr().(*net.TCPAddr).Port
	target := conn.Target{Protocol: conn.ProtoTCP, Host: "127.0.0.1", Port: port}
	cfg := Config{Destinations: map[string]conn.Target{
		"one": target,
		"two": target,
	}}

	pool := chaincore.NewBlockpool(8)
	items := []Tagged{
		{Tag: "one", Payload: tcpBlock(pool, "11111111")},
		{Tag: "two", Payload: tcpBlock(pool, "22222222")},
	}

	c := buildFanoutChain(t, cfg, items)
	if err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Wait()

	select {
	case data := <-got:
		if len(data) != 16 {
			t.Fatalf("expected both tags' payloads on the single shared connection, got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("shared destination received nothing")
	}
}

func TestFanoutDropsUnknownTagSilently(t *testing.T) {
	cfg := Config{Destinations: map[string]conn.Target{}}
	pool := chaincore.NewBlockpool(8)
	items := []Tagged{{Tag: "nowhere", Payload: tcpBlock(pool, "XXXXXXXX")}}

	c := buildFanoutChain(t, cfg, items)
	if err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Wait()
	if err := c.Broken(); err != nil {
		t.Fatalf("expected unknown-tag dispatch not to break the chain, got %v", err)
	}
}

func acceptAndRead(t *testing.T, ln net.Listener, out chan<- []byte, n int) {
	c, err := ln.Accept()
	if err != nil {
		return
	}
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		return
	}
	out <- buf
}
