package middleware

import "testing"

func TestChainOrdersByPriorityAscending(t *testing.T) {
	var c Chain[string]
	c.Register("low-priority-but-registered-first", PhaseOuterRequest, 10, "a")
	c.Register("high-priority", PhaseOuterRequest, 0, "b")
	c.Register("mid-priority", PhaseOuterRequest, 5, "c")

	got := c.Funcs()
	want := []string{"b", "c", "a"}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("position %d: expected %q, got %q (full order %v)", i, v, got[i], got)
		}
	}
}

func TestChainBreaksTiesByRegistrationOrder(t *testing.T) {
	var c Chain[string]
	c.Register("first", PhaseResponse, 1, "a")
	c.Register("second", PhaseResponse, 1, "b")
	c.Register("third", PhaseResponse, 1, "c")

	got := c.Funcs()
	want := []string{"a", "b", "c"}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("position %d: expected %q, got %q", i, v, got[i])
		}
	}
}

func TestChainLen(t *testing.T) {
	var c Chain[int]
	if c.Len() != 0 {
		t.Fatalf("expected empty chain to have len 0, got %d", c.Len())
	}
	c.Register("a", PhasePipelinePre, 0, 1)
	c.Register("b", PhasePipelinePre, 0, 2)
	if c.Len() != 2 {
		t.Errorf("expected len 2, got %d", c.Len())
	}
}

func TestChainFuncsEmptyWhenUnregistered(t *testing.T) {
	var c Chain[func()]
	if got := c.Funcs(); len(got) != 0 {
		t.Errorf("expected no funcs, got %d", len(got))
	}
}
