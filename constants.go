package chaincore

// Default configuration constants shared across the chain engine and the
// components built on top of it (internal/udps, internal/stripewriter,
// internal/fanout).
const (
	// DefaultQueueCapacity is the default capacity of a BoundedQueue between
	// two stages when a stage declaration doesn't override it.
	DefaultQueueCapacity = 16

	// LargeBlockThreshold is the element size at or above which a
	// Blockpool allocates only 2 elements per chunk instead of the usual
	// 16-32.
	LargeBlockThreshold = 32 << 20 // 32 MiB

	// DefaultElementsPerChunk is used for element sizes below
	// LargeBlockThreshold.
	DefaultElementsPerChunk = 32

	// LargeElementsPerChunk is used for element sizes at or above
	// LargeBlockThreshold.
	LargeElementsPerChunk = 2

	// FillPattern is the 64-bit constant substituted for missing UDPS
	// datagrams.
	FillPattern uint64 = 0x1122334411223344

	// DefaultACKPeriod is the default back-channel ACK interval P: every
	// P-th received datagram triggers an ACK token.
	DefaultACKPeriod = 1000

	// DefaultFanoutQueueCapacity is the default per-destination queue
	// capacity in the fan-out multiwriter.
	DefaultFanoutQueueCapacity = 10

	// MaxTrackedSenders is the number of unique senders tracked per UDPS
	// receiver before the least-recently-seen one is evicted.
	MaxTrackedSenders = 8

	// RecentSeqnrRingSize is the size of the per-sender recent-seqnr ring
	// buffer used to approximate RFC4737 §4.2.2 reordering extent.
	RecentSeqnrRingSize = 32
)
