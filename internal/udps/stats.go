package udps

import "sync"

// MaxTrackedSenders caps how many distinct senders get their own
// SenderStats; a new sender past this cap evicts the least-recently-seen
// entry.
const MaxTrackedSenders = 8

// recentRingSize is the size of the recent-seqnr ring buffer used to
// approximate RFC4737 §4.2.2 reordering extent.
const recentRingSize = 32

// SenderStats tracks per-sender sequence statistics: loss and reordering.
// AckCounter and LastAckIndex are not updated by the receive path, which
// keeps each sender's ACK rotation in an ackState instead.
type SenderStats struct {
	Addr string

	ExpectSeqnr uint64
	MaxSeqnr    uint64
	MinSeqnr    uint64
	PacketCount uint64
	DiscardCount uint64

	ReorderCount     uint64
	ReorderExtentSum uint64

	recent    [recentRingSize]uint64
	recentLen int

	AckCounter   int
	LastAckIndex int

	seen bool
}

// Loss reports the estimated number of lost packets: the span between
// the lowest and highest sequence numbers seen, minus the number
// actually received.
func (s *SenderStats) Loss() uint64 {
	if s.PacketCount == 0 {
		return 0
	}
	return s.MaxSeqnr - s.MinSeqnr + 1 - s.PacketCount
}

// Observe records one received (non-discarded) datagram's sequence
// number, updating loss/reorder statistics: packets arriving at or above
// the expected sequence number advance the expectation; anything lower is
// a reordering, whose "extent" is approximated over the last
// recentRingSize sequence numbers rather than the full history.
func (s *SenderStats) Observe(seqnr uint64) {
	if !s.seen {
		s.MinSeqnr = seqnr
		s.MaxSeqnr = seqnr
		s.ExpectSeqnr = seqnr
		s.seen = true
	}

	s.PacketCount++
	s.pushRecent(seqnr)

	if seqnr >= s.ExpectSeqnr {
		s.ExpectSeqnr = seqnr + 1
	} else {
		s.ReorderCount++
		s.ReorderExtentSum += s.reorderExtent(seqnr)
	}

	if seqnr > s.MaxSeqnr {
		s.MaxSeqnr = seqnr
	}
	if seqnr < s.MinSeqnr {
		s.MinSeqnr = seqnr
	}
}

// pushRecent appends seqnr to the fixed-size recent-seqnr ring,
// dropping the oldest entry once full.
func (s *SenderStats) pushRecent(seqnr uint64) {
	if s.recentLen < recentRingSize {
		s.recent[s.recentLen] = seqnr
		s.recentLen++
		return
	}
	copy(s.recent[:], s.recent[1:])
	s.recent[recentRingSize-1] = seqnr
}

// reorderExtent counts how many of the recently-seen sequence numbers
// are larger than seqnr, approximating RFC4737 §4.2.2 over a bounded
// window instead of the full history.
func (s *SenderStats) reorderExtent(seqnr uint64) uint64 {
	var extent uint64
	for i := 0; i < s.recentLen; i++ {
		if s.recent[i] > seqnr {
			extent++
		}
	}
	return extent
}

// reset restarts this sender's statistics at a new base sequence
// number, used on resync. The resyncing datagram itself is counted by the
// Observe call that follows.
func (s *SenderStats) reset(seqnr uint64) {
	s.MinSeqnr = seqnr
	s.MaxSeqnr = seqnr
	s.ExpectSeqnr = seqnr
	s.PacketCount = 0
	s.ReorderCount = 0
	s.ReorderExtentSum = 0
	s.recentLen = 0
}

// StatsTable tracks up to MaxTrackedSenders SenderStats, evicting the
// least-recently-seen entry past that cap. A fixed-size array rather than
// a map keeps the receive hot path allocation-free.
type StatsTable struct {
	mu       sync.Mutex
	addrs    [MaxTrackedSenders]string
	stats    [MaxTrackedSenders]*SenderStats
	lastSeen [MaxTrackedSenders]uint64
	clock    uint64
	count    int
}

// NewStatsTable creates an empty table.
func NewStatsTable() *StatsTable {
	return &StatsTable{}
}

// Get returns the SenderStats for addr, creating one (evicting the
// least-recently-seen entry if the table is full) if this is a new
// sender.
func (t *StatsTable) Get(addr string) *SenderStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clock++

	for i := 0; i < t.count; i++ {
		if t.addrs[i] == addr {
			t.lastSeen[i] = t.clock
			return t.stats[i]
		}
	}

	if t.count < MaxTrackedSenders {
		i := t.count
		t.addrs[i] = addr
		t.stats[i] = &SenderStats{Addr: addr}
		t.lastSeen[i] = t.clock
		t.count++
		return t.stats[i]
	}

	oldest := 0
	for i := 1; i < MaxTrackedSenders; i++ {
		if t.lastSeen[i] < t.lastSeen[oldest] {
			oldest = i
		}
	}
	t.addrs[oldest] = addr
	t.stats[oldest] = &SenderStats{Addr: addr}
	t.lastSeen[oldest] = t.clock
	return t.stats[oldest]
}

// Len returns the number of distinct senders currently tracked.
func (t *StatsTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
