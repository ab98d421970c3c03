package chaincore

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the stage-latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks throughput, backpressure, and latency statistics for a
// running Chain. One Metrics is normally shared across all of a chain's
// BoundedQueues via an Observer, so a Snapshot reflects the whole pipeline.
type Metrics struct {
	// Block/frame counters, analogous to ublk's ReadOps/WriteOps but keyed
	// on queue direction rather than I/O direction.
	BlocksPushed atomic.Uint64 // elements successfully enqueued
	BlocksPopped atomic.Uint64 // elements successfully dequeued

	BytesPushed atomic.Uint64 // bytes enqueued (Block.Len() at push time)
	BytesPopped atomic.Uint64 // bytes dequeued

	// Backpressure counters.
	PushBlocked atomic.Uint64 // push() had to wait for room
	PopBlocked  atomic.Uint64 // pop() had to wait for data
	PushRefused atomic.Uint64 // push() failed because the queue was disabled

	// Queue depth statistics, sampled by BoundedQueue on every push/pop.
	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	// Latency: elapsed time between an element's push and its matching pop,
	// i.e. how long it waited in queue for the downstream stage.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Histogram bucket counts (cumulative): bucket[i] counts pops with
	// latency <= LatencyBuckets[i].
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Chain lifecycle.
	StartTime atomic.Int64 // chain start timestamp (UnixNano)
	StopTime  atomic.Int64 // chain stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordPush records one successful enqueue of n bytes.
func (m *Metrics) RecordPush(bytes uint64) {
	m.BlocksPushed.Add(1)
	m.BytesPushed.Add(bytes)
}

// RecordPop records one successful dequeue of n bytes, with the time the
// element spent queued between its push and this pop.
func (m *Metrics) RecordPop(bytes uint64, latencyNs uint64) {
	m.BlocksPopped.Add(1)
	m.BytesPopped.Add(bytes)
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records the current depth of a queue for statistics.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordLatency records operation latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the chain as torn down.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, copyable view of Metrics.
type MetricsSnapshot struct {
	BlocksPushed uint64
	BlocksPopped uint64
	BytesPushed  uint64
	BytesPopped  uint64

	PushBlocked uint64
	PopBlocked  uint64
	PushRefused uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds), estimated from the histogram.
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ThroughputBytesPerSec float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		BlocksPushed:  m.BlocksPushed.Load(),
		BlocksPopped:  m.BlocksPopped.Load(),
		BytesPushed:   m.BytesPushed.Load(),
		BytesPopped:   m.BytesPopped.Load(),
		PushBlocked:   m.PushBlocked.Load(),
		PopBlocked:    m.PopBlocked.Load(),
		PushRefused:   m.PushRefused.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}

	queueDepthTotal := m.QueueDepthTotal.Load()
	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(queueDepthTotal) / float64(queueDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ThroughputBytesPerSec = float64(snap.BytesPopped) / uptimeSeconds
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters and restarts the uptime clock. Chain.Run does
// not call it, so a Chain's Metrics accumulate across runs unless the
// caller resets them.
func (m *Metrics) Reset() {
	m.BlocksPushed.Store(0)
	m.BlocksPopped.Store(0)
	m.BytesPushed.Store(0)
	m.BytesPopped.Store(0)
	m.PushBlocked.Store(0)
	m.PopBlocked.Store(0)
	m.PushRefused.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection for a Chain's queues.
type Observer interface {
	// ObservePush is called for each successful enqueue.
	ObservePush(bytes uint64)

	// ObservePop is called for each successful dequeue, with the time the
	// element waited in queue.
	ObservePop(bytes uint64, latencyNs uint64)

	// ObserveQueueDepth is called periodically with the current queue depth.
	ObserveQueueDepth(depth uint32)

	// ObservePushBlocked is called each time push() has to wait for room.
	ObservePushBlocked()

	// ObservePopBlocked is called each time pop() has to wait for data.
	ObservePopBlocked()

	// ObservePushRefused is called when push() fails because the queue was
	// disabled, i.e. the normal shutdown/termination path.
	ObservePushRefused()
}

// NoOpObserver is a no-op implementation of Observer; it is the default for
// a Chain that isn't explicitly instrumented.
type NoOpObserver struct{}

func (NoOpObserver) ObservePush(uint64)        {}
func (NoOpObserver) ObservePop(uint64, uint64)  {}
func (NoOpObserver) ObserveQueueDepth(uint32)   {}
func (NoOpObserver) ObservePushBlocked()        {}
func (NoOpObserver) ObservePopBlocked()         {}
func (NoOpObserver) ObservePushRefused()        {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePush(bytes uint64) { o.metrics.RecordPush(bytes) }

func (o *MetricsObserver) ObservePop(bytes uint64, latencyNs uint64) {
	o.metrics.RecordPop(bytes, latencyNs)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) { o.metrics.RecordQueueDepth(depth) }
func (o *MetricsObserver) ObservePushBlocked()            { o.metrics.PushBlocked.Add(1) }
func (o *MetricsObserver) ObservePopBlocked()             { o.metrics.PopBlocked.Add(1) }
func (o *MetricsObserver) ObservePushRefused()            { o.metrics.PushRefused.Add(1) }

// Compile-time interface check.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
