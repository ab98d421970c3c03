// Package fanout implements the fan-out multiwriter: tagged blocks are
// dispatched to one of many outbound destinations by tag,
// with distinct tags that resolve to the same connection target sharing a
// single file descriptor, writer thread, and bounded queue.
package fanout

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jive5ab/chaincore"
	"github.com/jive5ab/chaincore/internal/conn"
	"github.com/jive5ab/chaincore/internal/logging"
)

// Tagged is the unit of work a fan-out stage consumes: a routing tag and a
// payload Block.
type Tagged struct {
	Tag     string
	Payload *chaincore.Block
}

func (t Tagged) Len() int { return t.Payload.Len() }

const destinationQueueCapacity = 10

// Config maps routing tags to destination specs. Tags sharing an identical
// resolved Target share one writer thread.
type Config struct {
	Destinations map[string]conn.Target
	Logger       *logging.Logger
}

// destState is the per-unique-destination resource the dispatcher routes
// into: a private bounded queue and the dial target. The live Writer is
// held by the writer goroutine that serves the queue, not stored here.
type destState struct {
	target conn.Target
	queue  *chaincore.BoundedQueue[*chaincore.Block]
}

// Fanout is the shared user-state for a fan-out consumer stage: one
// destState per unique resolved target, and a lookup from tag to that
// state. It owns the writer goroutines' lifetime directly (they are not
// Chain stages themselves, since their count is data-driven by Config
// rather than fixed at chain-build time).
type Fanout struct {
	cfg     Config
	byTag   map[string]*destState
	uniques []*destState

	writersDone chan struct{}
}

// NewMaker returns the maker/deleter pair AddConsumer needs. The maker
// creates one queue per unique destination and starts its writer
// goroutine, which dials the destination and closes it once its queue has
// drained; the deleter delayed-disables every queue, then joins every
// writer.
func NewMaker(cfg Config) (func() *Fanout, func(*Fanout)) {
	maker := func() *Fanout {
		f := &Fanout{cfg: cfg, byTag: make(map[string]*destState)}

		byKey := make(map[string]*destState)
		for tag, target := range cfg.Destinations {
			key := target.Key()
			st, ok := byKey[key]
			if !ok {
				st = &destState{
					target: target,
					queue:  chaincore.NewBoundedQueue[*chaincore.Block](destinationQueueCapacity),
				}
				st.queue.Enable()
				byKey[key] = st
				f.uniques = append(f.uniques, st)
			}
			f.byTag[tag] = st
		}

		f.writersDone = make(chan struct{}, len(f.uniques))
		for _, st := range f.uniques {
			go runWriter(st, cfg.Logger, f.writersDone)
		}
		return f
	}

	deleter := func(f *Fanout) {
		for _, st := range f.uniques {
			st.queue.DelayedDisable()
		}
		for range f.uniques {
			<-f.writersDone
		}
	}

	return maker, deleter
}

// dialRetryMaxElapsed bounds how long runWriter retries a failed dial
// before giving up and draining its queue.
const dialRetryMaxElapsed = 30 * time.Second

// dialWithBackoff retries conn.Dial with exponential backoff, giving up
// early once st's queue leaves QueueEnabled so a torn-down stage doesn't
// keep a writer goroutine retrying a destination nobody cares about
// anymore.
func dialWithBackoff(st *destState) (conn.Writer, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = dialRetryMaxElapsed

	var w conn.Writer
	op := func() error {
		if st.queue.State() != chaincore.QueueEnabled {
			return backoff.Permanent(fmt.Errorf("fanout: dial %s abandoned, stage disabled", st.target.Key()))
		}
		var err error
		w, err = conn.Dial(st.target)
		return err
	}
	err := backoff.Retry(op, b)
	return w, err
}

// runWriter dials its destination (retrying with backoff on failure) and
// serves its private queue until the queue disables and drains,
// delegating the protocol-specific send loop to internal/conn's Writer.
func runWriter(st *destState, logger *logging.Logger, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	w, err := dialWithBackoff(st)
	if err != nil {
		if logger != nil {
			logger.Errorf("fanout: dial %s failed: %v", st.target.Key(), err)
		}
		// Drain and drop: downstream still expects this queue to empty out
		// once disabled, even though nothing can be sent.
		for {
			b, ok := st.queue.Pop()
			if !ok {
				return
			}
			b.Release()
		}
	}
	defer func() {
		_ = w.Shutdown()
		_ = w.Close()
	}()

	for {
		b, ok := st.queue.Pop()
		if !ok {
			return
		}
		if _, err := w.Write(b.Bytes()); err != nil && logger != nil {
			logger.Warnf("fanout: write to %s failed: %v", st.target.Key(), err)
		}
		b.Release()
	}
}

// Run is the Chain consumer stage function: AddConsumer[Tagged, *Fanout].
// Multiple worker threads may safely share the same Fanout, since dispatch
// is just a map lookup followed by a push to a queue that's itself
// thread-safe; only one dial/writer-goroutine exists per unique target
// regardless of dispatcher thread count.
func Run(env *chaincore.SyncEnvelope[*Fanout], in *chaincore.BoundedQueue[Tagged], threadIndex int) error {
	for {
		item, ok := in.Pop()
		if !ok {
			return nil
		}

		st := env.State().byTag[item.Tag]
		if st == nil {
			// Unknown tag: silently dropped.
			item.Payload.Release()
			continue
		}
		if !st.queue.Push(item.Payload) {
			return fmt.Errorf("fanout: destination queue for tag %q stopped accepting pushes", item.Tag)
		}
	}
}
