// Package conn implements the file-descriptor reader/writer library: a
// uniform interface over TCP, UDP, UDPS, VTP, UDT, UNIX-domain, and iTCP
// destinations, plus the per-protocol pacing and congestion read-back
// logic those transports need.
package conn

import "time"

// Pacer computes and sleeps for the inter-packet delay (IPD) between sends
// of a paced protocol (UDP+seqnr, plain UDP, VTP): the delay used is
// the larger of the operator-set value and the
// theoretical value needed to avoid saturating a declared link rate, and a
// change to the operator value is detected each iteration by comparing
// against the remembered previous value.
type Pacer struct {
	operatorIPD  time.Duration
	linkRateIPD  time.Duration // theoretical floor derived from a declared link rate
	lastOperator time.Duration
	anchor       time.Time
}

// NewPacer creates a Pacer targeting operatorIPD, with linkRateBitsPerSec
// (0 disables the link-rate floor) and packetBytes used to derive the
// theoretical per-packet floor.
func NewPacer(operatorIPD time.Duration, linkRateBitsPerSec int64, packetBytes int) *Pacer {
	p := &Pacer{operatorIPD: operatorIPD, lastOperator: operatorIPD}
	if linkRateBitsPerSec > 0 && packetBytes > 0 {
		bitsPerPacket := float64(packetBytes) * 8
		secondsPerPacket := bitsPerPacket / float64(linkRateBitsPerSec)
		p.linkRateIPD = time.Duration(secondsPerPacket * float64(time.Second))
	}
	return p
}

// SetOperatorIPD updates the operator-configured target; the effective IPD
// is always re-derived as max(operator, link-rate floor).
func (p *Pacer) SetOperatorIPD(d time.Duration) {
	p.operatorIPD = d
}

// effective returns the IPD actually enforced this iteration.
func (p *Pacer) effective() time.Duration {
	if p.linkRateIPD > p.operatorIPD {
		return p.linkRateIPD
	}
	return p.operatorIPD
}

// Wait blocks until it is time to send the next packet, anchoring on the
// previous scheduled send time rather than the previous actual send time
// so jitter doesn't accumulate. If the observed wall-clock time jumped
// backward or forward by more than an hour since the last call, the clock
// is treated as having glitched and is simply re-read once rather than
// producing a multi-hour stall or burst.
func (p *Pacer) Wait() {
	ipd := p.effective()
	now := time.Now()

	if p.anchor.IsZero() {
		p.anchor = now
		return
	}

	if d := now.Sub(p.anchor); d > time.Hour || d < -time.Hour {
		p.anchor = time.Now()
	}

	next := p.anchor.Add(ipd)
	if wait := time.Until(next); wait > 0 {
		time.Sleep(wait)
	}
	// Anchor on the scheduled time, not the actual post-sleep time: doing
	// otherwise would let scheduling jitter accumulate call over call.
	p.anchor = next
}

// ChangedSinceLastCheck reports whether the operator value differs from
// the value observed on the previous call, updating the remembered value.
func (p *Pacer) ChangedSinceLastCheck() bool {
	changed := p.operatorIPD != p.lastOperator
	p.lastOperator = p.operatorIPD
	return changed
}
