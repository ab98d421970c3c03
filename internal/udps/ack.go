package udps

// ackTokens is the fixed rotating table of short back-channel ACK payloads:
// any short packet works, since the ACK is only network-state keepalive and
// carries no reliability semantics.
var ackTokens = [][]byte{
	[]byte("ACK0"),
	[]byte("ACK1"),
	[]byte("ACK2"),
	[]byte("ACK3"),
}

// ackState tracks one sender's ACK-period counter and rotating-table index.
type ackState struct {
	period  int
	counter int
	lastIdx int
}

// newAckState creates ack bookkeeping for a sender with the given period P.
func newAckState(period int) *ackState {
	if period < 1 {
		period = 1
	}
	return &ackState{period: period}
}

// SetPeriod reloads P, applied on the sender's next received datagram:
// whenever the operator changes the configured ACK period, it takes effect
// from that point on rather than retroactively.
func (a *ackState) SetPeriod(period int) {
	if period < 1 {
		period = 1
	}
	a.period = period
}

// Tick records one successfully received datagram and reports whether an
// ACK token is due, plus the token to send.
func (a *ackState) Tick() (token []byte, due bool) {
	a.counter++
	if a.counter < a.period {
		return nil, false
	}
	a.counter = 0
	a.lastIdx = (a.lastIdx + 1) % len(ackTokens)
	return ackTokens[a.lastIdx], true
}
