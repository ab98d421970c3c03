package udps

import (
	"net"

	"github.com/jive5ab/chaincore"
	"github.com/jive5ab/chaincore/internal/interfaces"
)

// Config parameterizes a UDPS bottom half.
type Config struct {
	Conn PacketConn

	Rd int // payload bytes per wire datagram
	Wr int // payload bytes per window slot cell (wr >= rd)
	N  int // datagrams per Block
	R  int // readahead depth

	Use32BitSeqnr          bool // sender variant that only writes the low 32 bits
	AllowVariableBlockSize bool // push a partial window on exit instead of discarding it
	ACKPeriod              int  // P: every P-th received datagram triggers an ACK

	Pool  *chaincore.Blockpool
	Stats *StatsTable

	Logger   interfaces.Logger
	Observer chaincore.Observer
}

// headerSize returns the on-wire sequence-number header size this Config
// expects: 4 bytes for the 32-bit sender variant, 8 otherwise.
func (c Config) headerSize() int {
	if c.Use32BitSeqnr {
		return 4
	}
	return 8
}

// ReceiverState is the bottom half's per-run user-state, suitable as a
// Chain stage's SyncEnvelope payload: constructed fresh on
// every run(), discarded after the stage's thread joins.
type ReceiverState struct {
	cfg Config

	window *Window

	haveSender bool
	senderAddr string

	acks map[string]*ackState

	discarded uint64
	jumps     uint64
}

// NewReceiverState builds the bottom half's state: a fresh Window sized
// per cfg, ready to receive.
func NewReceiverState(cfg Config) *ReceiverState {
	return &ReceiverState{
		cfg:    cfg,
		window: NewWindow(cfg.Pool, cfg.R, cfg.N, cfg.N*cfg.Wr),
		acks:   make(map[string]*ackState),
	}
}

// Discarded reports the count of datagrams dropped as too-late duplicates.
func (s *ReceiverState) Discarded() uint64 { return s.discarded }

// Jumps reports how many times a sender's sequence number advanced past
// the readahead window, forcing base to jump directly to it.
func (s *ReceiverState) Jumps() uint64 { return s.jumps }

func (s *ReceiverState) ackFor(addr string) *ackState {
	a, ok := s.acks[addr]
	if !ok {
		a = newAckState(s.cfg.ACKPeriod)
		s.acks[addr] = a
	}
	return a
}

// RunBottomHalf is the UDPS bottom half's Chain producer stage function: it
// drives the receive loop until cancelled, pushing
// flag-tagged Blocks to out for the top half to fill.
func RunBottomHalf(env *chaincore.SyncEnvelope[*ReceiverState], out *chaincore.BoundedQueue[*chaincore.Block], threadIndex int) error {
	for {
		if env.Cancelled() {
			return drainOnCancel(env.State(), out)
		}
		state := env.State()
		if err := receiveOnce(state, out); err != nil {
			if env.Cancelled() {
				return nil
			}
			return err
		}
	}
}

// drainOnCancel pushes any partially-filled window contents downstream if
// allow_variable_block_size is set; otherwise they are released back to
// the pool rather than simply abandoned.
func drainOnCancel(state *ReceiverState, out *chaincore.BoundedQueue[*chaincore.Block]) error {
	if state == nil {
		return nil
	}
	if !state.cfg.AllowVariableBlockSize {
		state.window.ReleaseAll()
		return nil
	}
	for _, b := range state.window.Drain() {
		if !out.Push(b) {
			b.Release()
		}
	}
	return nil
}

// receiveOnce drives one iteration of the receive loop: peek
// the header to decide placement, adjust the window (discard / shift /
// resync) as needed, then consume the datagram.
func receiveOnce(state *ReceiverState, out *chaincore.BoundedQueue[*chaincore.Block]) error {
	cfg := state.cfg
	hdr := make([]byte, cfg.headerSize())

	_, from, err := cfg.Conn.Peek(hdr)
	if err != nil {
		return err
	}
	seqnr := ParseSeqnr(hdr, cfg.Use32BitSeqnr)

	if !state.haveSender {
		state.haveSender = true
		state.senderAddr = from.String()
		state.window.SetBase(seqnr)
	}

	stats := cfg.Stats.Get(from.String())
	offset := int64(seqnr) - int64(state.window.Base())

	discard := false
	if offset < 0 {
		if -offset <= int64(cfg.N) {
			discard = true
			state.discarded++
			stats.DiscardCount++
		} else {
			// Resync: the sender restarted numbering far below our
			// current base. "How far below counts as a restart" is
			// resolved the same way as the forward-jump case below: any
			// qualifying jump just re-anchors base.
			state.window.Reset(seqnr)
			stats.reset(seqnr)
			if cfg.Logger != nil {
				cfg.Logger.Printf("udps: resync sender %s to seqnr %d", from, seqnr)
			}
			offset = 0
		}
	} else {
		shifts := state.window.ShiftsNeeded(seqnr)
		for i := 0; i < shifts; i++ {
			if evicted := state.window.Shift(); evicted != nil {
				if !out.Push(evicted) {
					evicted.Release()
				}
			}
		}
		if shifts >= cfg.R {
			state.window.SetBase(seqnr)
			state.jumps++
			if cfg.Logger != nil {
				cfg.Logger.Printf("udps: jump > readahead for sender %s, seqnr %d", from, seqnr)
			}
		}
	}

	buf := make([]byte, cfg.headerSize()+cfg.Rd)
	n, _, err := cfg.Conn.ReadFull(buf)
	if err != nil {
		return err
	}
	payload := buf[cfg.headerSize():n]

	if discard {
		return nil
	}

	if !state.window.Place(seqnr, cfg.Wr, payload) {
		state.discarded++
		stats.DiscardCount++
		return nil
	}

	stats.Observe(seqnr)
	if cfg.Observer != nil {
		cfg.Observer.ObservePush(uint64(len(payload)))
	}
	if token, due := state.ackFor(from.String()).Tick(); due {
		_ = cfg.Conn.WriteTo(token, asUDPAddr(from))
	}
	return nil
}

func asUDPAddr(addr net.Addr) *net.UDPAddr {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u
	}
	return nil
}
