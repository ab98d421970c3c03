package chaincore

import (
	"testing"
)

type testUserState struct {
	value   int
	created bool
	closed  bool
}

func TestSyncEnvelopeInitAndDestroy(t *testing.T) {
	var destroyed *testUserState
	env := newSyncEnvelope(0, func() *testUserState {
		return &testUserState{value: 7, created: true}
	}, func(s *testUserState) {
		s.closed = true
		destroyed = s
	})

	env.init()
	state := env.State()
	if state == nil || !state.created || state.value != 7 {
		t.Fatalf("expected freshly made state, got %+v", state)
	}

	env.destroy()
	if destroyed == nil || !destroyed.closed {
		t.Fatal("expected deleter to run against the current state")
	}
}

func TestSyncEnvelopeReentrantInit(t *testing.T) {
	calls := 0
	env := newSyncEnvelope(1, func() int {
		calls++
		return calls
	}, nil)

	env.init()
	if env.State() != 1 {
		t.Fatalf("expected state 1 on first init, got %d", env.State())
	}

	env.init()
	if env.State() != 2 {
		t.Fatalf("expected state 2 on second init (fresh per run), got %d", env.State())
	}
}

func TestSyncEnvelopeCancellation(t *testing.T) {
	env := newSyncEnvelope(0, func() int { return 0 }, nil)
	env.init()

	if env.Cancelled() {
		t.Fatal("envelope should not start cancelled")
	}
	env.cancel()
	if !env.Cancelled() {
		t.Fatal("expected Cancelled() to be true after cancel()")
	}
}

func TestSyncEnvelopeCommunicate(t *testing.T) {
	env := newSyncEnvelope(0, func() *testUserState {
		return &testUserState{}
	}, nil)
	env.init()

	env.Communicate(func(s **testUserState) {
		(*s).value = 42
	})

	if env.State().value != 42 {
		t.Fatalf("expected Communicate to mutate state, got %d", env.State().value)
	}
}

func TestSyncEnvelopeDownstreamDepth(t *testing.T) {
	env := newSyncEnvelope(0, func() int { return 0 }, nil)
	if env.DownstreamDepth() != 0 {
		t.Fatalf("expected initial depth 0, got %d", env.DownstreamDepth())
	}
	env.addDownstreamDepth(17)
	env.addDownstreamDepth(5)
	if env.DownstreamDepth() != 22 {
		t.Fatalf("expected depth 22 after two increments, got %d", env.DownstreamDepth())
	}
}

func TestSyncEnvelopeStageID(t *testing.T) {
	env := newSyncEnvelope(3, func() int { return 0 }, nil)
	if env.StageID() != 3 {
		t.Fatalf("expected stage id 3, got %d", env.StageID())
	}
}
