package chaincore

import "reflect"

// StageKind classifies a Stage by its position in a Chain.
type StageKind int

const (
	StageProducer StageKind = iota
	StageIntermediate
	StageConsumer
)

func (k StageKind) String() string {
	switch k {
	case StageProducer:
		return "producer"
	case StageIntermediate:
		return "intermediate"
	case StageConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// queueHandle is the type-erased subset of BoundedQueue[T] the Chain needs
// for lifecycle bookkeeping, regardless of the queue's element type. Every
// *BoundedQueue[T] satisfies it.
type queueHandle interface {
	Disable()
	DelayedDisable()
	Enable()
	State() QueueState
}

// envelopeHandle is the type-erased subset of SyncEnvelope[U] the Chain
// needs to drive run()/stop(), regardless of the stage's user-state type U.
// Type identity of U is fixed at Add-time by the Go compiler, so no
// per-invocation runtime type dispatch is needed here.
type envelopeHandle interface {
	init()
	cancel()
	destroy()
	addDownstreamDepth(delta int)
}

type envelopeAdapter[U any] struct {
	env *SyncEnvelope[U]
}

func (a envelopeAdapter[U]) init()                       { a.env.init() }
func (a envelopeAdapter[U]) cancel()                      { a.env.cancel() }
func (a envelopeAdapter[U]) destroy()                     { a.env.destroy() }
func (a envelopeAdapter[U]) addDownstreamDepth(delta int) { a.env.addDownstreamDepth(delta) }

// stageRecord is the Chain's internal, type-erased bookkeeping for one
// Stage: its kind, the reflect.Type of its input/output element (nil where
// not applicable), its queue endpoints, its envelope, and the closure that
// spawns its worker goroutines.
type stageRecord struct {
	id          int
	kind        StageKind
	inputType   reflect.Type
	outputType  reflect.Type
	threadCount int

	inQueue  queueHandle
	outQueue queueHandle

	envelope envelopeHandle

	// spawn launches one worker goroutine for threadIndex in [0, threadCount)
	// and reports its terminal error (nil on clean exit, a cancellation
	// termination error is still reported but the Chain treats it as
	// non-fatal via IsCancelTermination).
	spawn func(threadIndex int) error

	cancelHook  func()
	cleanupHook func()
}

func typeOf[T any]() reflect.Type {
	var zero T
	t := reflect.TypeOf(zero)
	if t != nil {
		return t
	}
	return reflect.TypeOf((*T)(nil)).Elem()
}
