package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func testSample(name string) Sample {
	return Sample{Name: name, Time: time.Now(), Value: 1, Processor: "llm"}
}

func TestMultiObserverFansOut(t *testing.T) {
	a := NewMemoryObserver()
	b := NewMemoryObserver()
	multi := MultiObserver{a, nil, b}

	multi.RecordSample(testSample("ttfb_ms"))

	if len(a.Snapshot()) != 1 || len(b.Snapshot()) != 1 {
		t.Fatalf("sample not fanned out: %d/%d", len(a.Snapshot()), len(b.Snapshot()))
	}
}

func TestAsyncObserverDeliversAndDropsWhenFull(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 1)

	async.RecordSample(testSample("one"))
	deadline := time.Now().Add(time.Second)
	for len(mem.Snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sample never delivered")
		}
		time.Sleep(time.Millisecond)
	}
	async.Close()
	async.RecordSample(testSample("after_close"))
	if got := len(mem.Snapshot()); got != 1 {
		t.Fatalf("samples after close must be dropped: %d", got)
	}
}

func TestSamplingObserverRateZeroAndOne(t *testing.T) {
	mem := NewMemoryObserver()
	all := NewSamplingObserver(mem, 1)
	none := NewSamplingObserver(NewMemoryObserver(), 0)

	for i := 0; i < 5; i++ {
		all.RecordSample(testSample("s"))
		none.RecordSample(testSample("s"))
	}
	if got := len(mem.Snapshot()); got != 5 {
		t.Fatalf("rate 1 must pass everything: %d", got)
	}
}

func TestSamplingObserverFractionalRate(t *testing.T) {
	mem := NewMemoryObserver()
	half := NewSamplingObserver(mem, 0.5)

	for i := 0; i < 10; i++ {
		half.RecordSample(testSample("s"))
	}
	if got := len(mem.Snapshot()); got != 5 {
		t.Fatalf("rate 0.5 over 10 samples = %d, want 5", got)
	}
}

func TestJSONLObserverWritesOneLinePerSample(t *testing.T) {
	var buf bytes.Buffer
	obs := NewJSONLObserver(&buf)

	obs.RecordSample(Sample{
		Name:      "ttfb_ms",
		Time:      time.Now(),
		Value:     42,
		Processor: "deepgram_stt",
		Model:     "nova-2",
		Tags:      map[string]string{"session_id": "s1"},
	})

	out := strings.TrimSpace(buf.String())
	if strings.Count(out, "\n") != 0 || out == "" {
		t.Fatalf("expected exactly one line, got %q", out)
	}
	for _, want := range []string{"ttfb_ms", "deepgram_stt", "nova-2", "s1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("line missing %q: %s", want, out)
		}
	}
}
