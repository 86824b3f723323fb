package observers

import (
	"context"
	"log/slog"

	"github.com/voxlane/parley/pkg/metrics"
)

// LoggerObserver mirrors every sample into structured logs at debug level.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

// RecordSample implements metrics.Observer.
func (o *LoggerObserver) RecordSample(s metrics.Sample) {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.Time("time", s.Time),
		slog.Float64("value", s.Value),
	}
	if s.Processor != "" {
		attrs = append(attrs, slog.String("processor", s.Processor))
	}
	if s.Model != "" {
		attrs = append(attrs, slog.String("model", s.Model))
	}
	for k, v := range s.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	o.log.LogAttrs(context.TODO(), slog.LevelDebug, "metrics", attrs...)
}

var _ metrics.Observer = (*LoggerObserver)(nil)
