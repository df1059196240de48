// Package config is the process-wide configuration surface: data
// directory, bind address, and every tunable this module pins to a
// default (worker cap, resource limits, message queue and retry settings).
// Flags are wired through cobra/pflag; an optional --config file
// overlays a YAML document on top of the flag defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable the engine and Transport Surface need at
// startup.
type Config struct {
	DataDir  string `yaml:"dataDir"`
	BindAddr string `yaml:"bindAddr"`
	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJSON"`

	MaxActiveWorkers int           `yaml:"maxActiveWorkers"`
	WorkerWallClock  time.Duration `yaml:"workerWallClock"`
	MemoryLimitBytes uint64        `yaml:"memoryLimitBytes"`

	MessageQueueCapacity int           `yaml:"messageQueueCapacity"`
	MessageMaxRetries    int           `yaml:"messageMaxRetries"`
	MessageRetryBase     time.Duration `yaml:"messageRetryBase"`

	SampleInterval time.Duration `yaml:"sampleInterval"`
}

// Default returns the baked-in defaults: 10 active workers, 30 minute
// wall clock, 512MB memory cap, 1000-message queues, 3 retries at 1s
// doubling, 5s resource sampling.
func Default() Config {
	return Config{
		DataDir:              defaultDataDir(),
		BindAddr:             "127.0.0.1:7777",
		LogLevel:             "info",
		MaxActiveWorkers:     10,
		WorkerWallClock:      30 * time.Minute,
		MemoryLimitBytes:     512 * 1024 * 1024,
		MessageQueueCapacity: 1000,
		MessageMaxRetries:    3,
		MessageRetryBase:     1 * time.Second,
		SampleInterval:       5 * time.Second,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/orchestrator"
	}
	return filepath.Join(home, ".config", "orchestrator")
}

// BindFlags registers every tunable as a persistent flag on fs, seeded
// with Default()'s values.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("data-dir", d.DataDir, "Directory for registry/message/consolidation persistence")
	fs.String("bind-addr", d.BindAddr, "Transport Surface bind address")
	fs.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.Bool("log-json", d.LogJSON, "Output logs in JSON format")
	fs.Int("max-active-workers", d.MaxActiveWorkers, "Host-wide cap on concurrently active workers")
	fs.Duration("worker-wall-clock", d.WorkerWallClock, "Maximum wall-clock duration before a worker is terminated")
	fs.Uint64("memory-limit-bytes", d.MemoryLimitBytes, "Resident memory ceiling before a worker is terminated")
	fs.Int("message-queue-capacity", d.MessageQueueCapacity, "Bounded capacity per message queue")
	fs.Int("message-max-retries", d.MessageMaxRetries, "Maximum delivery retries before a message fails")
	fs.Duration("message-retry-base", d.MessageRetryBase, "Base delay for exponential message retry backoff")
	fs.Duration("sample-interval", d.SampleInterval, "Resource monitor sampling cadence")
	fs.String("config", "", "Optional YAML config file overlaying these flags")
}

// FromFlags reads every bound flag into a Config, then overlays a YAML
// file if --config was supplied.
func FromFlags(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	cfg.DataDir, _ = fs.GetString("data-dir")
	cfg.BindAddr, _ = fs.GetString("bind-addr")
	cfg.LogLevel, _ = fs.GetString("log-level")
	cfg.LogJSON, _ = fs.GetBool("log-json")
	cfg.MaxActiveWorkers, _ = fs.GetInt("max-active-workers")
	cfg.WorkerWallClock, _ = fs.GetDuration("worker-wall-clock")
	cfg.MemoryLimitBytes, _ = fs.GetUint64("memory-limit-bytes")
	cfg.MessageQueueCapacity, _ = fs.GetInt("message-queue-capacity")
	cfg.MessageMaxRetries, _ = fs.GetInt("message-max-retries")
	cfg.MessageRetryBase, _ = fs.GetDuration("message-retry-base")
	cfg.SampleInterval, _ = fs.GetDuration("sample-interval")

	path, _ := fs.GetString("config")
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
