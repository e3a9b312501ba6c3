package window

import "testing"

func TestAlignedTo(t *testing.T) {
	d := Duration{Millis: 30000, Name: "30s"}

	cases := []struct {
		ts   Timestamp
		want Timestamp
	}{
		{0, 0},
		{1, 0},
		{29999, 0},
		{30000, 30000},
		{30001, 30000},
		{-1, -30000},
	}

	for _, c := range cases {
		if got := c.ts.AlignedTo(d); got != c.want {
			t.Errorf("AlignedTo(%d) = %d, want %d", c.ts, got, c.want)
		}
	}
}

func TestToBucketNumberOf(t *testing.T) {
	raw := RawDuration
	bn := Timestamp(30001).ToBucketNumberOf(raw)
	if bn.Number != 30001 {
		t.Fatalf("expected bucket number 30001, got %d", bn.Number)
	}
}

func TestBucketNumberRebase(t *testing.T) {
	raw := RawDuration
	w30s := Duration{Millis: 30000, Name: "30s"}

	bn := BucketNumber{Number: 1, Duration: raw}
	target := bn.Rebase(w30s)
	if target.Number != 0 {
		t.Fatalf("expected target bucket 0, got %d", target.Number)
	}

	bn2 := BucketNumber{Number: 30001, Duration: raw}
	target2 := bn2.Rebase(w30s)
	if target2.Number != 1 {
		t.Fatalf("expected target bucket 1, got %d", target2.Number)
	}
}

func TestBucketNumberStartEnd(t *testing.T) {
	w30s := Duration{Millis: 30000, Name: "30s"}
	bn := BucketNumber{Number: 1, Duration: w30s}

	if bn.StartTimestamp() != 30000 {
		t.Errorf("expected start 30000, got %d", bn.StartTimestamp())
	}
	if bn.EndTimestamp() != 60000 {
		t.Errorf("expected end 60000, got %d", bn.EndTimestamp())
	}
}

func TestTickAlreadyProcessed(t *testing.T) {
	tick := NewTick(Timestamp(100000), 10000)
	if tick.BucketNumber.Number != 90000 {
		t.Fatalf("expected tick bucket 90000, got %d", tick.BucketNumber.Number)
	}

	raw := RawDuration
	if !tick.AlreadyProcessed(BucketNumber{Number: 90000, Duration: raw}) {
		t.Errorf("expected 90000 to be already processed")
	}
	if tick.AlreadyProcessed(BucketNumber{Number: 90001, Duration: raw}) {
		t.Errorf("expected 90001 to not be already processed")
	}
}

func TestUndefinedSentinel(t *testing.T) {
	if !Undefined.IsUndefined() {
		t.Fatalf("expected Undefined to report IsUndefined")
	}
	bn := BucketNumber{Number: 5, Duration: RawDuration}
	if bn.IsUndefined() {
		t.Fatalf("real bucket number incorrectly reported as undefined")
	}
}
