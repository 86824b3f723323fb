package parley

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxlane/parley/pkg/events"
	"github.com/voxlane/parley/pkg/filler"
	"github.com/voxlane/parley/pkg/llm"
	"github.com/voxlane/parley/pkg/logging"
	"github.com/voxlane/parley/pkg/metering"
	"github.com/voxlane/parley/pkg/metrics"
	"github.com/voxlane/parley/pkg/observers"
	"github.com/voxlane/parley/pkg/parser"
	"github.com/voxlane/parley/pkg/redact"
	"github.com/voxlane/parley/pkg/session"
)

// Speak delivers one outbound chunk for a session to the synthesis side.
type Speak func(sessionID string, chunk events.SpeakableText)

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Speak     Speak
	Logger    *slog.Logger
}

// Engine is the process-level assembly: provider registry, shared
// observers, and the per-conversation session registry. Each session gets
// its own meter; observers are shared and receive samples tagged with the
// session identifier.
type Engine struct {
	cfg         Config
	providers   *ProviderRegistry
	registry    *session.Registry
	prices      metering.PriceTable
	asyncObs    *metrics.AsyncObserver
	timeline    *observers.TimelineObserver
	metricsFile *os.File
	log         *slog.Logger
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = logging.InitLogger(ParseLevel(cfg.LogLevel))
		slog.SetDefault(log)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}

	var fillerAdapter llm.Adapter
	if cfg.Filler.Enabled {
		adapter, err := providers.BuildLLM(cfg.Vendors.LLM.Provider, cfg)
		if err != nil {
			return nil, fmt.Errorf("build filler adapter: %w", err)
		}
		fillerAdapter = adapter
	}

	obsList := []metrics.Observer{observers.NewLoggerObserver(log)}
	var timeline *observers.TimelineObserver
	var metricsFile *os.File
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			maxAge := time.Duration(cfg.Observability.RetentionDays) * 24 * time.Hour
			if n, err := observers.PurgeTraces(dir, maxAge); err != nil {
				log.Warn("trace_purge_failed", "error", err)
			} else if n > 0 {
				log.Info("traces_purged", "count", n)
			}
		}
		timeline = observers.NewTimelineObserver(dir)
		obsList = append(obsList, timeline)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn("artifacts_dir_create_failed", "error", err)
		} else if f, err := os.OpenFile(filepath.Join(dir, "metrics.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			log.Warn("metrics_file_open_failed", "error", err)
		} else {
			metricsFile = f
			obsList = append(obsList, metrics.NewJSONLObserver(f))
		}
	}
	asyncObs := metrics.NewAsyncObserver(metrics.MultiObserver(obsList), 2048)

	e := &Engine{
		cfg:         cfg,
		providers:   providers,
		prices:      metering.NewPriceTable(cfg.Pricing),
		asyncObs:    asyncObs,
		timeline:    timeline,
		metricsFile: metricsFile,
		log:         log,
	}

	speak := opts.Speak
	e.registry = session.NewRegistry(func(_ context.Context, id string) (*session.Session, error) {
		meter := metering.NewAggregator(e.prices, log)
		return session.New(session.Options{
			SessionID:     id,
			DedupCapacity: cfg.Dedup.WindowSize,
			FinalizeDelay: cfg.Turn.FinalizeDelay(),
			Parser: parser.Config{
				StreamFields: cfg.Parser.StreamFields,
				MinChunkSize: cfg.Parser.MinChunkSize,
			},
			Filler: filler.Config{
				MaxTokens:   cfg.Filler.MaxTokens,
				Timeout:     cfg.Filler.Timeout(),
				MaxWords:    cfg.Filler.MaxWords,
				MinWords:    cfg.Filler.MinWords,
				SkipPhrases: cfg.Filler.SkipPhrases,
			},
			FillerAdapter: fillerAdapter,
			Meter:         meter,
			Observer:      metrics.MultiObserver{meter, asyncObs},
			Logger:        log,
			Speak: func(chunk events.SpeakableText) {
				if speak != nil {
					speak(id, chunk)
				}
			},
		}), nil
	})

	log.Info("engine_init",
		"environment", cfg.Environment,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"filler_enabled", cfg.Filler.Enabled,
	)
	return e, nil
}

// Dispatch routes one inbound event to its session, creating the session on
// first contact.
func (e *Engine) Dispatch(sessionID string, ev events.Event) error {
	if e.registry.Draining() {
		if _, ok := e.registry.Get(sessionID); !ok {
			return fmt.Errorf("draining: refusing new session %s", sessionID)
		}
	}
	sess, _, err := e.registry.GetOrCreate(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("empty session identifier")
	}
	sess.Dispatch(ev)
	return nil
}

// Session returns the live session for id, if any.
func (e *Engine) Session(id string) (*session.Session, bool) {
	return e.registry.Get(id)
}

// EndSession closes one conversation and releases its state.
func (e *Engine) EndSession(id string) {
	e.registry.Remove(id)
}

// Registry exposes the session registry for transports and drains.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Drain implements runner.Drainer: stop accepting sessions, close the live
// ones, and flush observers.
func (e *Engine) Drain() error {
	e.registry.SetDraining(true)
	e.registry.CloseAll()
	return nil
}

// Close tears the engine down after draining.
func (e *Engine) Close() error {
	_ = e.Drain()
	e.asyncObs.Close()
	var err error
	if e.timeline != nil {
		err = e.timeline.Close()
	}
	if e.metricsFile != nil {
		if cerr := e.metricsFile.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ParseLevel maps the config string onto a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
