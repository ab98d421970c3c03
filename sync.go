package chaincore

import "sync"

// SyncEnvelope wraps a per-stage mutex and condition variable around an
// opaque user-state pointer U, a cancellation flag, a downstream-queue-depth
// hint, and the stage's id. The envelope owns U for the lifetime of a single
// run(): it is (re)constructed by the stage's maker on every run() and torn
// down by the matching deleter after all of the stage's worker threads have
// joined.
type SyncEnvelope[U any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	stageID int
	state   U

	cancelled        bool
	downstreamDepth  int

	maker   func() U
	deleter func(U)
}

// newSyncEnvelope builds an envelope for stageID. downstreamDepth is the
// buffering-budget hint computed at chain-build time: every
// previously added stage's hint grows by capacity+1 each time a new
// intermediate stage is appended.
func newSyncEnvelope[U any](stageID int, maker func() U, deleter func(U)) *SyncEnvelope[U] {
	e := &SyncEnvelope[U]{
		stageID: stageID,
		maker:   maker,
		deleter: deleter,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// StageID returns the id this envelope's stage was constructed with.
func (e *SyncEnvelope[U]) StageID() int {
	return e.stageID
}

// DownstreamDepth returns the buffering-budget hint, read-only to the stage.
func (e *SyncEnvelope[U]) DownstreamDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.downstreamDepth
}

// Cancelled reports whether stop() has requested cancellation. Stage
// functions must check this in any condition-wait loop; failing to do so
// can deadlock a hard stop.
func (e *SyncEnvelope[U]) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// State returns the current user-state value under lock.
func (e *SyncEnvelope[U]) State() U {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Communicate atomically invokes fn on the envelope's user-state under the
// stage's lock, then broadcasts the condition so any waiter can re-observe
// state it depends on.
func (e *SyncEnvelope[U]) Communicate(fn func(*U)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	e.cond.Broadcast()
}

// Wait blocks on the envelope's condition variable. Callers must hold no
// external locks and must re-check their own predicate (including
// Cancelled) after Wait returns, per the standard condition-variable
// contract.
func (e *SyncEnvelope[U]) Wait() {
	e.cond.Wait()
}

// Lock/Unlock expose the envelope's mutex directly for stage functions that
// need to wait on its condition alongside a custom predicate.
func (e *SyncEnvelope[U]) Lock()   { e.mu.Lock() }
func (e *SyncEnvelope[U]) Unlock() { e.mu.Unlock() }

// CancelledLocked and StateLocked are the same reads as Cancelled/State,
// without taking the lock. Callers must already hold it via Lock(); calling
// Cancelled/State instead while holding Lock() double-locks the mutex and
// deadlocks, since sync.Mutex is not reentrant.
func (e *SyncEnvelope[U]) CancelledLocked() bool { return e.cancelled }
func (e *SyncEnvelope[U]) StateLocked() U        { return e.state }

// init (re)constructs the user-state via the maker. Called by Chain.run()
// for every stage on every run(), satisfying the re-entrancy requirement
// that makers produce fresh state each run.
func (e *SyncEnvelope[U]) init() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.maker != nil {
		e.state = e.maker()
	}
	e.cancelled = false
}

// cancel sets the cancellation flag and wakes every waiter, implementing
// the first step of stop()'s cancellation protocol.
func (e *SyncEnvelope[U]) cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
	e.cond.Broadcast()
}

// destroy runs the deleter against the current user-state after the
// stage's threads have joined.
func (e *SyncEnvelope[U]) destroy() {
	e.mu.Lock()
	state := e.state
	deleter := e.deleter
	e.mu.Unlock()
	if deleter != nil {
		deleter(state)
	}
}

// addDownstreamDepth increments the buffering-budget hint, called at
// chain-build time when a later stage is appended.
func (e *SyncEnvelope[U]) addDownstreamDepth(delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.downstreamDepth += delta
}
