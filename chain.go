package chaincore

import (
	"fmt"
	"sync"
)

// Chain is a directed sequence of typed Stages separated by typed
// BoundedQueues. A Chain is closed once a consumer has been appended; only
// closed chains may run(). The invariant enforced at every Add call is that
// stage N's output element type equals stage N+1's input element type.
type Chain struct {
	mu sync.Mutex

	id      string
	stages  []*stageRecord
	queues  []queueHandle // len(stages)-1
	rawOut  []any         // boxed *BoundedQueue[Out] per producer/intermediate, parallel to queues

	closed  bool
	running bool
	broken  error

	finalHooks []func()

	runWg *sync.WaitGroup

	metrics *Metrics
}

// NewChain creates an empty, open Chain identified by id (used in log lines
// and structured errors).
func NewChain(id string) *Chain {
	return &Chain{
		id:      id,
		metrics: NewMetrics(),
	}
}

// ID returns the chain's identifier.
func (c *Chain) ID() string { return c.id }

// Metrics returns the chain's shared Metrics instance.
func (c *Chain) Metrics() *Metrics { return c.metrics }

// StageCount returns the number of stages added so far.
func (c *Chain) StageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stages)
}

// AddFinalHook registers a nullary closure run, in registration order,
// after every stage thread in the chain has joined.
func (c *Chain) AddFinalHook(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalHooks = append(c.finalHooks, fn)
}

// SetCancelHook registers a closure for stageID that stop() runs after
// setting every stage's cancelled flag and before disabling the queues.
// The hook runs without that stage's envelope lock held. Typical use:
// close a blocking socket fd so a recvmsg wakes with EBADF.
func (c *Chain) SetCancelHook(stageID int, fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.stageByIDLocked(stageID)
	if err != nil {
		return err
	}
	s.cancelHook = fn
	return nil
}

// SetCleanupHook registers a closure for stageID run after that stage's
// threads have joined but before its user-state is destroyed.
func (c *Chain) SetCleanupHook(stageID int, fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.stageByIDLocked(stageID)
	if err != nil {
		return err
	}
	s.cleanupHook = fn
	return nil
}

func (c *Chain) stageByIDLocked(stageID int) (*stageRecord, error) {
	for _, s := range c.stages {
		if s.id == stageID {
			return s, nil
		}
	}
	return nil, NewError("stage-lookup", ErrCodeBadStageOrder, fmt.Sprintf("no stage with id %d", stageID))
}

// addDownstreamDepthHints increments the buffering-budget hint on every
// already-added stage's envelope by delta.
func (c *Chain) addDownstreamDepthHints(delta int) {
	for _, s := range c.stages {
		s.envelope.addDownstreamDepth(delta)
	}
}

// AddProducer appends a producer stage. fn is invoked once per worker
// goroutine (threadIndex in [0, threadCount)) with the stage's envelope and
// its output queue. Returns the new stage's id.
func AddProducer[Out, U any](
	c *Chain,
	outputCapacity int,
	threadCount int,
	maker func() U,
	deleter func(U),
	fn func(env *SyncEnvelope[U], out *BoundedQueue[Out], threadIndex int) error,
) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return -1, NewError("add-producer", ErrCodeAlreadyClosed, "chain already closed")
	}
	if len(c.stages) != 0 {
		return -1, NewError("add-producer", ErrCodeBadStageOrder, "producer must be the first stage")
	}
	if threadCount < 1 {
		threadCount = 1
	}

	stageID := len(c.stages)
	out := NewBoundedQueue[Out](outputCapacity)
	out.SetObserver(NewMetricsObserver(c.metrics))
	env := newSyncEnvelope(stageID, maker, deleter)

	s := &stageRecord{
		id:          stageID,
		kind:        StageProducer,
		outputType:  typeOf[Out](),
		threadCount: threadCount,
		outQueue:    out,
		envelope:    envelopeAdapter[U]{env},
	}
	s.spawn = func(threadIndex int) error {
		return fn(env, out, threadIndex)
	}

	c.stages = append(c.stages, s)
	c.queues = append(c.queues, out)
	c.rawOut = append(c.rawOut, out)
	return stageID, nil
}

// AddIntermediate appends an intermediate stage whose input type must match
// the previous stage's output type. Returns the new stage's id.
func AddIntermediate[In, Out, U any](
	c *Chain,
	outputCapacity int,
	threadCount int,
	maker func() U,
	deleter func(U),
	fn func(env *SyncEnvelope[U], in *BoundedQueue[In], out *BoundedQueue[Out], threadIndex int) error,
) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return -1, NewError("add-intermediate", ErrCodeAlreadyClosed, "chain already closed")
	}
	if len(c.stages) == 0 {
		return -1, NewError("add-intermediate", ErrCodeBadStageOrder, "intermediate requires a preceding producer")
	}
	if threadCount < 1 {
		threadCount = 1
	}

	prev := c.stages[len(c.stages)-1]
	wantIn := typeOf[In]()
	if prev.outputType != wantIn {
		return -1, NewError("add-intermediate", ErrCodeTypeMismatch,
			fmt.Sprintf("stage input type %s does not match previous output type %s", wantIn, prev.outputType))
	}

	inQueue, ok := c.rawOut[len(c.rawOut)-1].(*BoundedQueue[In])
	if !ok {
		return -1, NewError("add-intermediate", ErrCodeTypeMismatch, "internal queue type assertion failed")
	}

	stageID := len(c.stages)
	out := NewBoundedQueue[Out](outputCapacity)
	out.SetObserver(NewMetricsObserver(c.metrics))
	env := newSyncEnvelope(stageID, maker, deleter)

	s := &stageRecord{
		id:          stageID,
		kind:        StageIntermediate,
		inputType:   wantIn,
		outputType:  typeOf[Out](),
		threadCount: threadCount,
		inQueue:     inQueue,
		outQueue:    out,
		envelope:    envelopeAdapter[U]{env},
	}
	s.spawn = func(threadIndex int) error {
		return fn(env, inQueue, out, threadIndex)
	}

	c.addDownstreamDepthHints(outputCapacity + 1)

	c.stages = append(c.stages, s)
	c.queues = append(c.queues, out)
	c.rawOut = append(c.rawOut, out)
	return stageID, nil
}

// AddConsumer appends a consumer stage and closes the chain. Returns the
// new stage's id.
func AddConsumer[In, U any](
	c *Chain,
	threadCount int,
	maker func() U,
	deleter func(U),
	fn func(env *SyncEnvelope[U], in *BoundedQueue[In], threadIndex int) error,
) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return -1, NewError("add-consumer", ErrCodeAlreadyClosed, "chain already closed")
	}
	if len(c.stages) == 0 {
		return -1, ErrConsumerRequired
	}
	if threadCount < 1 {
		threadCount = 1
	}

	prev := c.stages[len(c.stages)-1]
	wantIn := typeOf[In]()
	if prev.outputType != wantIn {
		return -1, NewError("add-consumer", ErrCodeTypeMismatch,
			fmt.Sprintf("stage input type %s does not match previous output type %s", wantIn, prev.outputType))
	}

	inQueue, ok := c.rawOut[len(c.rawOut)-1].(*BoundedQueue[In])
	if !ok {
		return -1, NewError("add-consumer", ErrCodeTypeMismatch, "internal queue type assertion failed")
	}

	stageID := len(c.stages)
	env := newSyncEnvelope(stageID, maker, deleter)

	s := &stageRecord{
		id:          stageID,
		kind:        StageConsumer,
		inputType:   wantIn,
		threadCount: threadCount,
		inQueue:     inQueue,
		envelope:    envelopeAdapter[U]{env},
	}
	s.spawn = func(threadIndex int) error {
		return fn(env, inQueue, threadIndex)
	}

	c.stages = append(c.stages, s)
	c.closed = true
	return stageID, nil
}

// Run enables every queue, (re)allocates every stage's user-state, and
// spawns worker goroutines in reverse order (consumer first, producer
// last) so consumers are ready before producers start pushing. A closed,
// non-running chain may be run again: Chain gives that re-entrancy
// guarantee deliberately.
func (c *Chain) Run() error {
	c.mu.Lock()
	if !c.closed {
		c.mu.Unlock()
		return ErrNotClosed
	}
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(c.stages) == 0 {
		c.mu.Unlock()
		return ErrEmptyChain
	}

	c.broken = nil
	for _, q := range c.queues {
		q.Enable()
	}
	for _, s := range c.stages {
		s.envelope.init()
	}

	wg := &sync.WaitGroup{}
	c.runWg = wg
	c.running = true
	stages := append([]*stageRecord(nil), c.stages...)
	c.mu.Unlock()

	for i := len(stages) - 1; i >= 0; i-- {
		s := stages[i]
		for t := 0; t < s.threadCount; t++ {
			wg.Add(1)
			go func(s *stageRecord, threadIndex int) {
				defer wg.Done()
				err := s.spawn(threadIndex)
				if err != nil && !IsCancelTermination(err) {
					c.failStage(s.id, err)
				}
			}(s, t)
		}
	}

	return nil
}

// failStage records the first stage failure and disables that stage's own
// queues: downstream observes drain+disable and terminates; upstream
// observes a failed push and terminates.
func (c *Chain) failStage(stageID int, err error) {
	c.mu.Lock()
	if c.broken == nil {
		c.broken = WrapError("stage", stageID, err)
	}
	var s *stageRecord
	for _, candidate := range c.stages {
		if candidate.id == stageID {
			s = candidate
			break
		}
	}
	c.mu.Unlock()

	if s == nil {
		return
	}
	if s.inQueue != nil {
		s.inQueue.Disable()
	}
	if s.outQueue != nil {
		s.outQueue.Disable()
	}
}

// Broken returns the first stage error recorded since the last Run, or nil.
func (c *Chain) Broken() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Wait blocks until every worker goroutine of the current run has joined.
// It does not itself initiate a stop.
func (c *Chain) Wait() {
	c.mu.Lock()
	wg := c.runWg
	c.mu.Unlock()
	if wg != nil {
		wg.Wait()
	}
}

// Stop initiates a hard cancel: sets the cancelled flag on every envelope
// and broadcasts its condition, runs every stage's cancel hook, disables
// every queue front-to-back, joins all worker threads, runs every stage's
// cleanup hook followed by its user-state destruction, then runs every
// final hook in registration order.
func (c *Chain) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	stages := append([]*stageRecord(nil), c.stages...)
	queues := append([]queueHandle(nil), c.queues...)
	wg := c.runWg
	c.mu.Unlock()

	for _, s := range stages {
		s.envelope.cancel()
	}
	for _, s := range stages {
		if s.cancelHook != nil {
			s.cancelHook()
		}
	}
	for _, q := range queues {
		q.Disable()
	}

	if wg != nil {
		wg.Wait()
	}

	for _, s := range stages {
		if s.cleanupHook != nil {
			s.cleanupHook()
		}
		s.envelope.destroy()
	}

	c.mu.Lock()
	finals := make([]func(), len(c.finalHooks))
	copy(finals, c.finalHooks)
	c.running = false
	c.mu.Unlock()

	for _, fn := range finals {
		fn()
	}

	c.metrics.Stop()
	return nil
}

// GentleStop calls delayed_disable on the producer's output queue only,
// letting data already in flight drain naturally; it does not set the
// cancellation flag and does not invoke cancel hooks. Callers typically
// follow with Wait() to block until the drained pipeline has joined.
func (c *Chain) GentleStop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if len(c.queues) == 0 {
		c.mu.Unlock()
		return ErrEmptyChain
	}
	producerOut := c.queues[0]
	c.mu.Unlock()

	producerOut.DelayedDisable()
	return nil
}

// Running reports whether the chain is currently running.
func (c *Chain) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Communicate looks up stageID and invokes fn against its user-state under
// the stage's lock, broadcasting afterward. The caller must pass the same
// U the stage was constructed with; a mismatch returns an Error with code
// ErrCodeUserStateType and fn is not called.
func Communicate[U any](c *Chain, stageID int, fn func(*U)) error {
	c.mu.Lock()
	var target *stageRecord
	for _, s := range c.stages {
		if s.id == stageID {
			target = s
			break
		}
	}
	c.mu.Unlock()

	if target == nil {
		return NewError("communicate", ErrCodeBadStageOrder, fmt.Sprintf("no stage with id %d", stageID))
	}
	adapter, ok := target.envelope.(envelopeAdapter[U])
	if !ok {
		return NewStageError("communicate", stageID, ErrCodeUserStateType, "user-state type mismatch")
	}
	adapter.env.Communicate(fn)
	return nil
}
