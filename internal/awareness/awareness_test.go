package awareness

import "testing"

func TestSetLocalStateAndGet(t *testing.T) {
	a := New()
	a.SetLocalState(1, State(`{"cursor":5}`))
	states := a.GetStates()
	if len(states) != 1 {
		t.Fatalf("expected 1 state, got %d", len(states))
	}
	if string(states[1]) != `{"cursor":5}` {
		t.Fatalf("unexpected state: %s", states[1])
	}
}

func TestRemoveOnClose(t *testing.T) {
	a := New()
	a.SetLocalState(1, State(`{}`))
	a.SetLocalState(2, State(`{}`))
	a.Remove([]ClientID{1})
	states := a.GetStates()
	if _, ok := states[1]; ok {
		t.Fatal("client 1 should have been removed")
	}
	if _, ok := states[2]; !ok {
		t.Fatal("client 2 should remain")
	}
}

func TestObserverFires(t *testing.T) {
	a := New()
	var seen map[ClientID]State
	a.OnUpdate(func(changed map[ClientID]State) { seen = changed })
	a.SetLocalState(7, State(`{"x":1}`))
	if seen == nil || string(seen[7]) != `{"x":1}` {
		t.Fatalf("observer did not see update: %+v", seen)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	a := New()
	a.SetLocalState(1, State(`{}`))
	a.Destroy()
	a.Destroy()
	if len(a.GetStates()) != 0 {
		t.Fatal("expected empty states after destroy")
	}
}
