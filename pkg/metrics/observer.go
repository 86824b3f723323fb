package metrics

import "time"

// Sample is one timing/usage measurement emitted by a pipeline stage,
// tagged with the processor that produced it.
type Sample struct {
	Name      string
	Time      time.Time
	Value     float64
	Processor string
	Model     string
	Tags      map[string]string
}

type Observer interface {
	RecordSample(s Sample)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordSample(Sample) {}

// MultiObserver fans one sample out to several observers.
type MultiObserver []Observer

func (m MultiObserver) RecordSample(s Sample) {
	for _, o := range m {
		if o != nil {
			o.RecordSample(s)
		}
	}
}
