package udps

import "testing"

func TestAckStateFiresEveryPeriod(t *testing.T) {
	a := newAckState(3)
	for i := 0; i < 2; i++ {
		if _, due := a.Tick(); due {
			t.Fatalf("tick %d: expected no ack yet", i)
		}
	}
	tok, due := a.Tick()
	if !due || tok == nil {
		t.Fatalf("expected an ack on the 3rd tick")
	}
}

func TestAckStateRotatesTokens(t *testing.T) {
	a := newAckState(1)
	seen := map[string]bool{}
	for i := 0; i < len(ackTokens)*2; i++ {
		tok, due := a.Tick()
		if !due {
			t.Fatalf("expected an ack every tick at period 1")
		}
		seen[string(tok)] = true
	}
	if len(seen) != len(ackTokens) {
		t.Fatalf("expected to cycle through all %d tokens, saw %d", len(ackTokens), len(seen))
	}
}

func TestAckStateSetPeriod(t *testing.T) {
	a := newAckState(10)
	a.SetPeriod(1)
	_, due := a.Tick()
	if !due {
		t.Fatalf("expected SetPeriod to take effect immediately")
	}
}
