// Package config loads server settings from defaults, an optional YAML file, an
// optional .env file and LOCALTRADER_* environment variables, in that order.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "LOCALTRADER_"

type Config struct {
	Instrument string        `yaml:"instrument"`
	HTTPAddr   string        `yaml:"httpAddr"`
	GRPCAddr   string        `yaml:"grpcAddr"`
	Log        LogConfig     `yaml:"log"`
	Storage    StorageConfig `yaml:"storage"`
	Jobs       JobsConfig    `yaml:"jobs"`
	Kafka      KafkaConfig   `yaml:"kafka"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type StorageConfig struct {
	DataDir         string        `yaml:"dataDir"`
	SegmentSize     int64         `yaml:"segmentSize"`
	SegmentDuration time.Duration `yaml:"segmentDuration"`
	Sync            bool          `yaml:"sync"`
}

type JobsConfig struct {
	SnapshotInterval   time.Duration `yaml:"snapshotInterval"`
	CompactionInterval time.Duration `yaml:"compactionInterval"`
	BroadcastInterval  time.Duration `yaml:"broadcastInterval"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	OrdersTopic string   `yaml:"ordersTopic"`
	TradesTopic string   `yaml:"tradesTopic"`
	GroupID     string   `yaml:"groupId"`
}

func Default() Config {
	return Config{
		Instrument: "ABC",
		HTTPAddr:   ":8080",
		GRPCAddr:   ":9090",
		Log:        LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			DataDir:         "./data",
			SegmentSize:     2 * 1024 * 1024,
			SegmentDuration: time.Minute,
			Sync:            true,
		},
		Jobs: JobsConfig{
			SnapshotInterval:   time.Minute,
			CompactionInterval: 10 * time.Second,
			BroadcastInterval:  250 * time.Millisecond,
		},
		Kafka: KafkaConfig{
			OrdersTopic: "localtrader.orders",
			TradesTopic: "localtrader.trades",
			GroupID:     "localtrader",
		},
	}
}

// Load builds the configuration. An empty path skips the YAML file; a missing
// .env file is ignored.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "decode config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	str("INSTRUMENT", &c.Instrument)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DATA_DIR", &c.Storage.DataDir)
	str("KAFKA_ORDERS_TOPIC", &c.Kafka.OrdersTopic)
	str("KAFKA_TRADES_TOPIC", &c.Kafka.TradesTopic)
	str("KAFKA_GROUP_ID", &c.Kafka.GroupID)

	if v, ok := os.LookupEnv(envPrefix + "KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}

	var errs error
	parse := func(name string, fn func(string) error) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			if err := fn(v); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s%s", envPrefix, name))
			}
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseBool(v)
			return err
		}
	}

	parse("KAFKA_ENABLED", boolean(&c.Kafka.Enabled))
	parse("SYNC", boolean(&c.Storage.Sync))
	parse("SEGMENT_SIZE", func(v string) (err error) {
		c.Storage.SegmentSize, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("SEGMENT_DURATION", duration(&c.Storage.SegmentDuration))
	parse("SNAPSHOT_INTERVAL", duration(&c.Jobs.SnapshotInterval))
	parse("COMPACTION_INTERVAL", duration(&c.Jobs.CompactionInterval))
	parse("BROADCAST_INTERVAL", duration(&c.Jobs.BroadcastInterval))
	return errs
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs error
	bad := func(format string, args ...interface{}) {
		errs = errors.CombineErrors(errs, errors.Newf(format, args...))
	}

	if strings.TrimSpace(c.Instrument) == "" {
		bad("instrument is required")
	}
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		bad("at least one of httpAddr and grpcAddr is required")
	}
	if c.Storage.DataDir == "" {
		bad("storage.dataDir is required")
	}
	if c.Storage.SegmentSize <= 0 {
		bad("storage.segmentSize must be positive, got %d", c.Storage.SegmentSize)
	}
	for name, d := range map[string]time.Duration{
		"storage.segmentDuration": c.Storage.SegmentDuration,
		"jobs.snapshotInterval":   c.Jobs.SnapshotInterval,
		"jobs.compactionInterval": c.Jobs.CompactionInterval,
		"jobs.broadcastInterval":  c.Jobs.BroadcastInterval,
	} {
		if d <= 0 {
			bad("%s must be positive, got %s", name, d)
		}
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			bad("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.OrdersTopic == "" || c.Kafka.TradesTopic == "" {
			bad("kafka topics are required when kafka is enabled")
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		bad("log.format must be text or json, got %q", c.Log.Format)
	}
	return errs
}

// JournalDir and the other path helpers lay out DataDir.
func (c Config) JournalDir() string  { return c.Storage.DataDir + "/journal" }
func (c Config) OutboxDir() string   { return c.Storage.DataDir + "/outbox" }
func (c Config) SnapshotDir() string { return c.Storage.DataDir + "/snapshots" }
