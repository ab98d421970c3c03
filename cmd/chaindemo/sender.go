package main

import (
	"net"
	"time"

	"github.com/jive5ab/chaincore"
	"github.com/jive5ab/chaincore/internal/conn"
	"github.com/jive5ab/chaincore/internal/logging"
	"github.com/jive5ab/chaincore/internal/wire"
)

// senderConfig parameterizes the demo's hand-rolled UDPS sender. It
// deliberately bypasses internal/conn's Writer: that interface owns its
// sequence counter privately with no hook for the per-datagram drop and
// sequence-restart simulation the loss-recovery and resync scenarios need,
// so this sender is built directly on the same wire encoding and pacer the
// production Writer uses, with those hooks exposed.
type senderConfig struct {
	Addr        string
	DropEvery   int // 0 disables
	ResyncAfter int // 0 disables
	IPD         time.Duration
	Logger      *logging.Logger
}

// senderState is the sender consumer's per-run state: the live socket, its
// pacer, and the sequence counter and counters this demo reports on exit.
type senderState struct {
	cfg   senderConfig
	conn  *net.UDPConn
	pacer *conn.Pacer

	seq           uint64
	framesSent    uint64
	framesDropped uint64
}

func newSenderMaker(cfg senderConfig, packetBytes int) (func() *senderState, func(*senderState)) {
	maker := func() *senderState {
		raddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
		if err != nil {
			panic(err) // a bad --port is a startup misconfiguration, not a runtime fault
		}
		c, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			panic(err)
		}
		return &senderState{
			cfg:   cfg,
			conn:  c,
			pacer: conn.NewPacer(cfg.IPD, 0, packetBytes),
		}
	}
	deleter := func(s *senderState) {
		s.conn.Close()
	}
	return maker, deleter
}

// runSender is the sender chain's consumer stage function: it prefixes
// every frame with a UDPS header built from its own sequence counter,
// optionally dropping every DropEvery-th datagram and restarting numbering
// at 0 after ResyncAfter frames.
func runSender(env *chaincore.SyncEnvelope[*senderState], in *chaincore.BoundedQueue[*chaincore.Block], threadIndex int) error {
	for {
		b, ok := in.Pop()
		if !ok {
			return nil
		}
		s := env.State()

		if s.cfg.ResyncAfter > 0 && s.framesSent > 0 && s.framesSent%uint64(s.cfg.ResyncAfter) == 0 {
			s.seq = 0
			if s.cfg.Logger != nil {
				s.cfg.Logger.Infof("chaindemo: sender resync, restarting seqnr at 0 after %d frames", s.framesSent)
			}
		}

		drop := s.cfg.DropEvery > 0 && s.seq > 0 && s.seq%uint64(s.cfg.DropEvery) == 0

		if s.pacer != nil {
			s.pacer.Wait()
		}

		if !drop {
			hdr := wire.MarshalUDPSHeader(wire.UDPSHeader{Seqnr: s.seq})
			datagram := append(hdr, b.Bytes()...)
			if _, err := s.conn.Write(datagram); err != nil && s.cfg.Logger != nil {
				s.cfg.Logger.Warnf("chaindemo: send failed: %v", err)
			}
		} else {
			s.framesDropped++
		}

		s.seq++
		s.framesSent++
		b.Release()
	}
}
