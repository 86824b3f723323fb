package parley

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/voxlane/parley/pkg/dedup"
	"github.com/voxlane/parley/pkg/filler"
	"github.com/voxlane/parley/pkg/metering"
	"github.com/voxlane/parley/pkg/parser"
	"github.com/voxlane/parley/pkg/turn"
)

type Config struct {
	Environment   string                   `mapstructure:"environment"`
	LogLevel      string                   `mapstructure:"log_level"`
	Dedup         DedupConfig              `mapstructure:"dedup"`
	Turn          TurnConfig               `mapstructure:"turn"`
	Parser        ParserConfig             `mapstructure:"parser"`
	Filler        FillerConfig             `mapstructure:"filler"`
	Vendors       VendorsConfig            `mapstructure:"vendors"`
	Pricing       map[string]metering.Rate `mapstructure:"pricing"`
	Transport     TransportConfig          `mapstructure:"transport"`
	Telephony     TelephonyConfig          `mapstructure:"telephony"`
	Observability ObservabilityConfig      `mapstructure:"observability"`
	Privacy       PrivacyConfig            `mapstructure:"privacy"`
}

type DedupConfig struct {
	WindowSize int `mapstructure:"window_size"`
}

type TurnConfig struct {
	FinalizeDelayMS int `mapstructure:"finalize_delay_ms"`
}

type ParserConfig struct {
	StreamFields []string `mapstructure:"stream_fields"`
	MinChunkSize int      `mapstructure:"min_chunk_size"`
}

type FillerConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	TimeoutMS   int      `mapstructure:"timeout_ms"`
	MaxWords    int      `mapstructure:"max_words"`
	MinWords    int      `mapstructure:"min_words"`
	SkipPhrases []string `mapstructure:"skip_phrases"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportConfig struct {
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

type TelephonyConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	StreamURL  string `mapstructure:"stream_url"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("dedup.window_size", dedup.DefaultCapacity)
	v.SetDefault("turn.finalize_delay_ms", int(turn.DefaultFinalizeDelay/time.Millisecond))
	v.SetDefault("parser.stream_fields", parser.DefaultStreamFields)
	v.SetDefault("parser.min_chunk_size", parser.DefaultMinChunkSize)
	v.SetDefault("filler.enabled", true)
	v.SetDefault("filler.max_tokens", filler.DefaultMaxTokens)
	v.SetDefault("filler.timeout_ms", int(filler.DefaultTimeout/time.Millisecond))
	v.SetDefault("filler.max_words", filler.DefaultMaxWords)
	v.SetDefault("filler.min_words", filler.DefaultMinWords)
	v.SetDefault("filler.skip_phrases", filler.DefaultSkipPhrases)
	v.SetDefault("transport.listen", ":8080")
	v.SetDefault("transport.path", "/events")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(expandEnvHook())); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	return cfg, nil
}

// expandEnvHook substitutes $VAR / ${VAR} in every string value so secrets
// like API keys and auth tokens stay out of config files.
func expandEnvHook() mapstructure.DecodeHookFuncKind {
	return func(f reflect.Kind, _ reflect.Kind, data any) (any, error) {
		if f != reflect.String {
			return data, nil
		}
		return os.ExpandEnv(data.(string)), nil
	}
}

// FinalizeDelay converts the millisecond knob to a duration.
func (c TurnConfig) FinalizeDelay() time.Duration {
	return time.Duration(c.FinalizeDelayMS) * time.Millisecond
}

// Timeout converts the millisecond knob to a duration.
func (c FillerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
