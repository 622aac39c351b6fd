package rank

import "testing"

func TestForCompleted(t *testing.T) {
	cases := []struct {
		completed int
		want      string
	}{
		{0, "Novice"},
		{6, "Novice"},
		{7, "Experienced"},
		{13, "Experienced"},
		{14, "Professional"},
		{21, "Master"},
		{28, "Expert"},
		{1000, "Expert"},
		{-3, "Novice"},
	}
	for _, c := range cases {
		if got := ForCompleted(c.completed); got != c.want {
			t.Errorf("ForCompleted(%d) = %q, want %q", c.completed, got, c.want)
		}
	}
}

func TestForCompleted_Deterministic(t *testing.T) {
	for n := 0; n < 40; n++ {
		if ForCompleted(n) != ForCompleted(n) {
			t.Fatalf("non-deterministic result for %d", n)
		}
	}
}

func TestForCompleted_SingleStepPromotion(t *testing.T) {
	// Adding PromotionStep completions advances exactly one rank until capped.
	for n := 0; n < PromotionStep*(len(Names)-1); n += PromotionStep {
		cur, next := ForCompleted(n), ForCompleted(n+PromotionStep)
		var ci, ni int
		for i, name := range Names {
			if name == cur {
				ci = i
			}
			if name == next {
				ni = i
			}
		}
		if ni != ci+1 {
			t.Fatalf("completed %d->%d moved rank %q->%q, want single step", n, n+PromotionStep, cur, next)
		}
	}
}

func TestNext(t *testing.T) {
	label, remaining, ok := Next(6)
	if !ok || label != "Experienced" || remaining != 1 {
		t.Fatalf("Next(6) = %q,%d,%v; want Experienced,1,true", label, remaining, ok)
	}
	if _, _, ok := Next(100); ok {
		t.Fatal("Next should report capped ladder")
	}
}
