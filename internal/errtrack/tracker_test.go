package errtrack

import "testing"

func TestRecordFailureTripsAtThreshold(t *testing.T) {
	t.Parallel()

	tr := New(3, 10)
	if tr.RecordFailure() {
		t.Fatal("tripped after 1 failure, threshold is 3")
	}
	if tr.RecordFailure() {
		t.Fatal("tripped after 2 failures, threshold is 3")
	}
	if !tr.RecordFailure() {
		t.Fatal("did not trip on the 3rd failure")
	}
}

func TestWindowResetOnSuccess(t *testing.T) {
	t.Parallel()

	// threshold=2, limit=3: two failures spread across window boundaries
	// must not trip because the window rolls over in between.
	tr := New(2, 3)
	if tr.RecordFailure() {
		t.Fatal("tripped on first failure")
	}
	tr.RecordSuccess()
	tr.RecordSuccess() // attempts hits limit, counters reset
	if a, e := tr.Counters(); a != 0 || e != 0 {
		t.Fatalf("counters after window rollover: attempts=%d errors=%d, want 0/0", a, e)
	}
	if tr.RecordFailure() {
		t.Fatal("tripped on first failure of the new window")
	}
}

func TestFailureOnWindowBoundaryStillTrips(t *testing.T) {
	t.Parallel()

	// The attempt that is both the limit-th attempt and the threshold-th
	// failure must trip; the threshold check happens before the reset.
	tr := New(2, 2)
	if tr.RecordFailure() {
		t.Fatal("tripped early")
	}
	if !tr.RecordFailure() {
		t.Fatal("failure on the window boundary did not trip")
	}
}

func TestSpecScenarioTwoFive(t *testing.T) {
	t.Parallel()

	// With (2,5) and the sequence success, failure, success, failure the
	// second failure reaches the threshold and trips.
	tr := New(2, 5)
	tr.RecordSuccess()
	if tr.RecordFailure() {
		t.Fatal("tripped on first failure")
	}
	tr.RecordSuccess()
	if a, e := tr.Counters(); a != 3 || e != 1 {
		t.Fatalf("counters before tripping call: attempts=%d errors=%d, want 3/1", a, e)
	}
	if !tr.RecordFailure() {
		t.Fatal("second failure did not trip with threshold 2")
	}
}

func TestLongRunDeterminism(t *testing.T) {
	t.Parallel()

	// With threshold=900, limit=1000 and every attempt failing, the fatal
	// verdict lands exactly on the 900th failure.
	tr := New(900, 1000)
	for i := 1; i <= 1000; i++ {
		fatal := tr.RecordFailure()
		switch {
		case i < 900 && fatal:
			t.Fatalf("tripped early on attempt %d", i)
		case i == 900 && !fatal:
			t.Fatal("did not trip on the 900th failure")
		case i == 900:
			return
		}
	}
}

func TestHealthyStreamNeverTrips(t *testing.T) {
	t.Parallel()

	// Failure rate permanently below threshold/limit never trips: one
	// failure per 10 attempts against a 50/100 window.
	tr := New(50, 100)
	for i := 0; i < 10_000; i++ {
		if i%10 == 0 {
			if tr.RecordFailure() {
				t.Fatalf("tripped at attempt %d with 10%% failure rate", i)
			}
		} else {
			tr.RecordSuccess()
		}
	}
}

func TestNewRejectsBadWindow(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ threshold, limit int }{
		{0, 10},
		{-1, 10},
		{11, 10},
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("New(%d, %d) did not panic", tc.threshold, tc.limit)
				}
			}()
			New(tc.threshold, tc.limit)
		}()
	}
}
