package memindex

import (
	"math"
	"testing"
)

func key(b byte) []byte {
	k := make([]byte, 32)
	k[0] = b
	return k
}

func TestClusterSingleReporterConfidence(t *testing.T) {
	c := NewCluster()
	conf, unique := c.Record(1, 1, key(1), 1000)
	if unique != 1 {
		t.Fatalf("expected 1 unique reporter, got %d", unique)
	}
	want := (math.Log(1) + 1.0) / 3.0
	if math.Abs(conf-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", conf, want)
	}
}

func TestClusterConfidenceMonotoneInDistinctReporters(t *testing.T) {
	c := NewCluster()
	prev, _ := c.Record(1, 1, key(1), 1000)
	for i := byte(2); i <= 10; i++ {
		conf, _ := c.Record(1, 1, key(i), 1000)
		if conf < prev && prev < 1.0 {
			t.Fatalf("confidence decreased from %v to %v after adding a distinct key", prev, conf)
		}
		if conf <= prev && prev < 1.0 {
			t.Fatalf("confidence should strictly increase for a new distinct reporter while below 1.0: %v -> %v", prev, conf)
		}
		prev = conf
	}
}

func TestClusterConfidenceNonInflationByDuplicates(t *testing.T) {
	c := NewCluster()
	c.Record(1, 1, key(1), 1000)
	c.Record(1, 1, key(2), 1000)
	conf, unique := c.Record(1, 1, key(3), 1000)
	if unique != 3 {
		t.Fatalf("expected 3 unique reporters, got %d", unique)
	}
	for i := 0; i < 20; i++ {
		next, u := c.Record(1, 1, key(1), 1000)
		if u != 3 {
			t.Fatalf("repeat reports must not grow the unique set: got %d", u)
		}
		if next > conf {
			t.Fatalf("confidence increased from %v to %v after a repeat report", conf, next)
		}
		conf = next
	}
}

func TestClusterSpamFactorCrossesThreshold(t *testing.T) {
	c := NewCluster()
	c.Record(1, 1, key(1), 1000)
	c.Record(1, 1, key(2), 1000)
	conf, _ := c.Record(1, 1, key(3), 1000) // 3 unique, 3 reports: at threshold, factor 1.0
	unspammed := conf
	// 3*unique = 9; the 10th report pushes totalReports > 9, crossing the threshold.
	for i := 0; i < 7; i++ {
		conf, _ = c.Record(1, 1, key(1), 1000)
	}
	if conf >= unspammed {
		t.Fatalf("confidence should drop once reports exceed 3x unique reporters: %v -> %v", unspammed, conf)
	}
}

func TestClusterConsensusThreshold(t *testing.T) {
	c := NewCluster()
	_, u1 := c.Record(1, 1, key(1), 1000)
	_, u2 := c.Record(1, 1, key(2), 1000)
	_, u3 := c.Record(1, 1, key(3), 1000)
	if u1 >= ConsensusThreshold || u2 >= ConsensusThreshold {
		t.Fatalf("consensus should not be reached before 3 unique reporters")
	}
	if u3 < ConsensusThreshold {
		t.Fatalf("consensus should be reached at 3 unique reporters")
	}
}

func TestClusterEviction(t *testing.T) {
	c := NewCluster()
	c.Record(1, 1, key(1), 0)
	removed := c.Evict(ClusterTTLMS + 1)
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("expected 0 remaining clusters, got %d", c.Len())
	}
}
