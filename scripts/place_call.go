package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/voxlane/parley/pkg/configutil"
	"github.com/voxlane/parley/pkg/telephony"
)

type telephonyConfig struct {
	Telephony map[string]any `mapstructure:"telephony"`
}

func main() {
	configPath := flag.String("config", "examples/console/config.local.yaml", "")
	to := flag.String("to", "", "")
	streamURL := flag.String("stream_url", "", "")
	flag.Parse()
	if *to == "" {
		fmt.Println("usage: place_call -to=+456 [-config=...] [-stream_url=wss://...]")
		os.Exit(1)
	}

	cfg, err := loadTelephonyConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	var settings telephony.Config
	if err := configutil.DecodeSettings(cfg.Telephony, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	if *streamURL != "" {
		settings.StreamURL = *streamURL
	}
	if err := configutil.RequireString(settings.StreamURL, "telephony.stream_url"); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	dialer := telephony.NewDialer(settings)
	callSID, err := dialer.Dial(context.Background(), *to)
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}

func loadTelephonyConfig(path string) (telephonyConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return telephonyConfig{}, err
	}
	var cfg telephonyConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return telephonyConfig{}, err
	}
	return cfg, nil
}
