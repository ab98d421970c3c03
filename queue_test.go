package chaincore

import (
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewBoundedQueue[int](4)

	for i := 0; i < 4; i++ {
		if !q.Push(i) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}

	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		if !ok || v != i {
			t.Fatalf("expected pop %d, got %d ok=%v", i, v, ok)
		}
	}
}

func TestQueuePushBlocksWhenFull(t *testing.T) {
	q := NewBoundedQueue[int](1)
	if !q.Push(1) {
		t.Fatal("first push should succeed")
	}

	pushed := make(chan bool, 1)
	go func() {
		pushed <- q.Push(2)
	}()

	select {
	case <-pushed:
		t.Fatal("push should have blocked while queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := q.Pop()
	if !ok || v != 1 {
		t.Fatalf("expected to pop 1, got %d ok=%v", v, ok)
	}

	select {
	case ok := <-pushed:
		if !ok {
			t.Fatal("blocked push should have succeeded once room opened")
		}
	case <-time.After(time.Second):
		t.Fatal("push never unblocked after pop freed room")
	}
}

func TestQueuePopBlocksWhenEmpty(t *testing.T) {
	q := NewBoundedQueue[int](4)

	result := make(chan int, 1)
	go func() {
		v, _ := q.Pop()
		result <- v
	}()

	time.Sleep(30 * time.Millisecond)
	q.Push(42)

	select {
	case v := <-result:
		if v != 42 {
			t.Fatalf("expected popped value 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("pop never unblocked after push")
	}
}

func TestQueueDisableWakesWaiters(t *testing.T) {
	q := NewBoundedQueue[int](4)

	result := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		result <- ok
	}()

	time.Sleep(30 * time.Millisecond)
	q.Disable()

	select {
	case ok := <-result:
		if ok {
			t.Fatal("pop on a disabled, empty queue should return ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("disable() never woke the blocked pop")
	}

	if q.Push(1) {
		t.Fatal("push on a disabled queue must fail")
	}
}

func TestQueueDelayedDisableDrains(t *testing.T) {
	q := NewBoundedQueue[int](100)

	for i := 0; i < 10; i++ {
		q.Push(i)
	}
	q.DelayedDisable()

	if q.Push(99) {
		t.Fatal("push after delayed_disable must fail")
	}

	count := 0
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		if v != count {
			t.Fatalf("expected FIFO order %d, got %d", count, v)
		}
		count++
	}
	if count != 10 {
		t.Fatalf("expected to drain 10 elements, drained %d", count)
	}
}

func TestQueueGentleStopDrainsExactCount(t *testing.T) {
	q := NewBoundedQueue[int](100)

	const n = 10000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if !q.Push(i) {
				t.Error("push should not fail before delayed_disable")
				return
			}
		}
		q.DelayedDisable()
	}()

	received := 0
	for {
		_, ok := q.Pop()
		if !ok {
			break
		}
		received++
	}
	wg.Wait()

	if received != n {
		t.Fatalf("expected consumer to receive exactly %d elements, got %d", n, received)
	}
}

func TestQueueEnableAfterDisable(t *testing.T) {
	q := NewBoundedQueue[int](4)
	q.Disable()
	if q.Push(1) {
		t.Fatal("push on disabled queue should fail")
	}

	q.Enable()
	if !q.Push(1) {
		t.Fatal("push on re-enabled queue should succeed")
	}
	v, ok := q.Pop()
	if !ok || v != 1 {
		t.Fatalf("expected to pop 1 after re-enable, got %d ok=%v", v, ok)
	}
}

func TestQueuePopDeadlineTimesOut(t *testing.T) {
	q := NewBoundedQueue[int](4)
	_, ok, timedOut := q.PopDeadline(time.Now().Add(20 * time.Millisecond))
	if ok {
		t.Fatal("expected no value from an empty queue")
	}
	if !timedOut {
		t.Fatal("expected PopDeadline to report a timeout")
	}
}

func TestQueuePopDeadlineReceivesBeforeDeadline(t *testing.T) {
	q := NewBoundedQueue[int](4)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(7)
	}()

	v, ok, timedOut := q.PopDeadline(time.Now().Add(time.Second))
	if timedOut {
		t.Fatal("did not expect a timeout")
	}
	if !ok || v != 7 {
		t.Fatalf("expected to receive 7, got %d ok=%v", v, ok)
	}
}

func TestQueueLenAndCap(t *testing.T) {
	q := NewBoundedQueue[int](8)
	if q.Cap() != 8 {
		t.Fatalf("expected capacity 8, got %d", q.Cap())
	}
	q.Push(1)
	q.Push(2)
	if q.Len() != 2 {
		t.Fatalf("expected length 2, got %d", q.Len())
	}
}
