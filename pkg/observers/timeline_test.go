package observers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voxlane/parley/pkg/metrics"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordSample(metrics.Sample{
		Name:      "ttfb_ms",
		Time:      time.Now(),
		Value:     120,
		Processor: "deepgram_stt",
		Tags: map[string]string{
			"session_id": "sess-1",
		},
	})
	_ = obs.Close()

	path := filepath.Join(dir, "sess-1.jsonl")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(b), "ttfb_ms") {
		t.Fatalf("expected ttfb_ms sample in file")
	}
	if !strings.Contains(string(b), "deepgram_stt") {
		t.Fatalf("expected processor in file")
	}
}

func TestTimelineObserverSkipsUntaggedSamples(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordSample(metrics.Sample{Name: "ttfb_ms", Time: time.Now(), Value: 1})
	_ = obs.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no trace files, got %d", len(entries))
	}
}
