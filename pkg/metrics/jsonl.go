package metrics

import (
	"context"
	"io"
	"log/slog"
)

type JSONLObserver struct {
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (o *JSONLObserver) RecordSample(s Sample) {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.Time("time", s.Time),
		slog.Float64("value", s.Value),
		slog.String("processor", s.Processor),
	}
	if s.Model != "" {
		attrs = append(attrs, slog.String("model", s.Model))
	}
	for k, v := range s.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	o.logger.LogAttrs(context.TODO(), slog.LevelInfo, "metrics", attrs...)
}
