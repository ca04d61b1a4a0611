package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// RecordConfiguration controls what gets captured and where it lands
type RecordConfiguration struct {
	OutputDir               string   `toml:"output_dir"`
	AllChannels             bool     `toml:"all_channels"`
	Channels                []string `toml:"channels"`         // Exact channel names
	ChannelPatterns         []string `toml:"channel_patterns"` // Glob patterns
	PendingQueueSize        int      `toml:"pending_queue_size"`
	ProgressIntervalSeconds int      `toml:"progress_interval_seconds"`
	Compression             bool     `toml:"compression"`
}

// BusConfiguration controls the NATS connection and topology discovery
type BusConfiguration struct {
	URLs              []string `toml:"urls"`
	TopologyPrefix    string   `toml:"topology_prefix"`
	ChannelPrefix     string   `toml:"channel_prefix"`
	ConnectTimeoutMS  int      `toml:"connect_timeout_ms"`
	SnapshotTimeoutMS int      `toml:"snapshot_timeout_ms"`
}

// MirrorConfiguration describes an optional sink that recorded messages are
// republished to after a successful append
type MirrorConfiguration struct {
	Name        string   `toml:"name"`
	Type        string   `toml:"type"` // "kafka" or "mock"
	Brokers     []string `toml:"brokers"`
	TopicPrefix string   `toml:"topic_prefix"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// AdminConfiguration for the read-only stats HTTP endpoint
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID uint64 `toml:"node_id"`

	Record     RecordConfiguration     `toml:"record"`
	Bus        BusConfiguration        `toml:"bus"`
	Mirrors    []MirrorConfiguration   `toml:"mirror"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag  = flag.String("config", "config.toml", "Path to configuration file")
	OutputDirFlag   = flag.String("output", "", "Record output directory (overrides config)")
	AllChannelsFlag = flag.Bool("all", false, "Record all channels (overrides config)")
	ChannelsFlag    = flag.String("channels", "", "Comma-separated channel allow-list (overrides config)")
	BusURLFlag      = flag.String("bus", "", "Bus URL (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID: 0, // Auto-generate

	Record: RecordConfiguration{
		OutputDir:               "./magpie-data",
		AllChannels:             false,
		Channels:                []string{},
		ChannelPatterns:         []string{},
		PendingQueueSize:        50,
		ProgressIntervalSeconds: 5,
		Compression:             true,
	},

	Bus: BusConfiguration{
		URLs:              []string{"nats://127.0.0.1:4222"},
		TopologyPrefix:    "magpie.topology",
		ChannelPrefix:     "magpie.chan",
		ConnectTimeoutMS:  5000,
		SnapshotTimeoutMS: 2000,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: false,
		Address: "0.0.0.0",
		Port:    9090,
	},

	Admin: AdminConfiguration{
		Enabled: false,
		Address: "127.0.0.1",
		Port:    8310,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *OutputDirFlag != "" {
		Config.Record.OutputDir = *OutputDirFlag
	}
	if *AllChannelsFlag {
		Config.Record.AllChannels = true
	}
	if *ChannelsFlag != "" {
		Config.Record.Channels = splitChannels(*ChannelsFlag)
	}
	if *BusURLFlag != "" {
		Config.Bus.URLs = []string{*BusURLFlag}
	}

	// Auto-generate node ID if not set
	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	// Ensure output directory exists
	if err := os.MkdirAll(Config.Record.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	return nil
}

// splitChannels parses a comma-separated channel list, dropping empty entries
func splitChannels(s string) []string {
	parts := strings.Split(s, ",")
	channels := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			channels = append(channels, p)
		}
	}
	return channels
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("magpie")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Record.OutputDir == "" {
		return fmt.Errorf("record output directory is required")
	}

	hasSelection := len(Config.Record.Channels) > 0 || len(Config.Record.ChannelPatterns) > 0
	if Config.Record.AllChannels && hasSelection {
		return fmt.Errorf("all_channels and an explicit channel list are mutually exclusive")
	}
	if !Config.Record.AllChannels && !hasSelection {
		return fmt.Errorf("either all_channels or a channel list must be configured")
	}

	if Config.Record.PendingQueueSize < 1 {
		return fmt.Errorf("pending queue size must be >= 1")
	}

	if Config.Record.ProgressIntervalSeconds < 1 {
		return fmt.Errorf("progress interval must be >= 1 second")
	}

	if len(Config.Bus.URLs) == 0 {
		return fmt.Errorf("at least one bus URL is required")
	}

	if Config.Bus.TopologyPrefix == "" {
		return fmt.Errorf("topology prefix is required")
	}

	if Config.Bus.ConnectTimeoutMS < 1 {
		return fmt.Errorf("bus connect timeout must be >= 1ms")
	}

	if Config.Bus.SnapshotTimeoutMS < 1 {
		return fmt.Errorf("bus snapshot timeout must be >= 1ms")
	}

	for _, m := range Config.Mirrors {
		if m.Name == "" {
			return fmt.Errorf("mirror sink name is required")
		}
		if m.Type == "" {
			return fmt.Errorf("mirror sink %q: type is required", m.Name)
		}
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}
