package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := NewLatencyWindow(8)
	for i := 1; i <= 4; i++ {
		w.Observe(StageConnectToAck, time.Duration(i*100)*time.Millisecond)
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageConnectToAck || s.Samples != 4 {
		t.Fatalf("stage stats = %+v", s)
	}
	if s.LastMS != 400 {
		t.Fatalf("last = %v, want 400", s.LastMS)
	}
	if s.AvgMS != 250 {
		t.Fatalf("avg = %v, want 250", s.AvgMS)
	}
	if s.P50MS != 250 {
		t.Fatalf("p50 = %v, want 250", s.P50MS)
	}
}

func TestLatencyWindowWrapsRing(t *testing.T) {
	w := NewLatencyWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe(StageTurnTotal, time.Second)
	}
	snap := w.Snapshot()
	if snap.Stages[0].Samples != 4 {
		t.Fatalf("samples = %d, want ring size 4", snap.Stages[0].Samples)
	}
}

func TestLatencyWindowIgnoresEmptyStage(t *testing.T) {
	w := NewLatencyWindow(4)
	w.Observe("", time.Second)
	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("stages = %d, want 0", len(snap.Stages))
	}
}

func TestLatencyWindowReset(t *testing.T) {
	w := NewLatencyWindow(4)
	w.Observe(StageAudioToFirstOut, 300*time.Millisecond)
	w.Reset()
	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("stages after reset = %d, want 0", len(snap.Stages))
	}
}
