// Package config implements SPEC_FULL.md's configuration surface:
// flag-based configuration in the teacher's config.Parse() style,
// covering the score cache location, the Tier-3 model bundle, and the
// default session behavior.
package config

import (
	"flag"
	"os"
)

type Config struct {
	// Data locations.
	DataDir   string
	ModelPath string // path to a PFM1 polyphonic model bundle; "" uses the Goertzel fallback

	LogLevel string

	// Session defaults, overridable per start_exercise request.
	DefaultHand string // "right", "left", "both"
	DefaultMode string // "monophonic", "polyphonic", "auto"

	SampleRateHz int
}

func Parse() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataDir, "data-dir", defaultDataDir(), "data directory for the score cache database")
	flag.StringVar(&cfg.ModelPath, "model-path", "", "path to a PFM1 polyphonic model bundle (empty uses the Goertzel CPU fallback)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.DefaultHand, "default-hand", "both", "default hand filter (right, left, both)")
	flag.StringVar(&cfg.DefaultMode, "default-mode", "auto", "default detector mode (monophonic, polyphonic, auto)")
	flag.IntVar(&cfg.SampleRateHz, "sample-rate", 44100, "expected input sample rate in Hz")

	flag.Parse()
	return cfg
}

func defaultDataDir() string {
	if dir := os.Getenv("PIANOFOLLOW_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pianofollow"
	}
	return home + "/.pianofollow"
}
