package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

func validTestConfig() *Configuration {
	return &Configuration{
		NodeID: 1,
		Record: RecordConfiguration{
			OutputDir:               "./test-data",
			AllChannels:             true,
			PendingQueueSize:        50,
			ProgressIntervalSeconds: 5,
		},
		Bus: BusConfiguration{
			URLs:              []string{"nats://127.0.0.1:4222"},
			TopologyPrefix:    "magpie.topology",
			ChannelPrefix:     "magpie.chan",
			ConnectTimeoutMS:  5000,
			SnapshotTimeoutMS: 2000,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_AllChannelsAndListMutuallyExclusive(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Record.AllChannels = true
	Config.Record.Channels = []string{"/chatter"}

	if err := Validate(); err == nil {
		t.Error("Expected error when all_channels and channel list are both set")
	}
}

func TestValidate_NoSelection(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Record.AllChannels = false
	Config.Record.Channels = nil
	Config.Record.ChannelPatterns = nil

	if err := Validate(); err == nil {
		t.Error("Expected error when no channel selection is configured")
	}
}

func TestValidate_PatternsAreSelection(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Record.AllChannels = false
	Config.Record.ChannelPatterns = []string{"/sensor/*"}

	if err := Validate(); err != nil {
		t.Errorf("Expected patterns to count as a selection, got: %v", err)
	}
}

func TestValidate_PendingQueueSize(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, size := range []int{-1, 0} {
		Config = validTestConfig()
		Config.Record.PendingQueueSize = size

		if err := Validate(); err == nil {
			t.Errorf("Expected error for pending queue size %d", size)
		}
	}
}

func TestValidate_MissingBusURL(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Bus.URLs = nil

	if err := Validate(); err == nil {
		t.Error("Expected error when no bus URL configured")
	}
}

func TestValidate_MirrorRequiresType(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validTestConfig()
	Config.Mirrors = []MirrorConfiguration{{Name: "tap"}}

	if err := Validate(); err == nil {
		t.Error("Expected error for mirror sink without type")
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	outputDir := filepath.Join(dir, "records")
	configPath := filepath.Join(dir, "config.toml")

	content := `
node_id = 42

[record]
output_dir = "` + outputDir + `"
all_channels = false
channels = ["/chatter", "/sensor/lidar"]
pending_queue_size = 100

[bus]
urls = ["nats://10.0.0.1:4222"]
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	Config = validTestConfig()
	if err := Load(configPath); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if Config.NodeID != 42 {
		t.Errorf("expected node_id 42, got %d", Config.NodeID)
	}
	if len(Config.Record.Channels) != 2 {
		t.Errorf("expected 2 channels, got %v", Config.Record.Channels)
	}
	if Config.Record.PendingQueueSize != 100 {
		t.Errorf("expected pending queue size 100, got %d", Config.Record.PendingQueueSize)
	}
	if _, err := os.Stat(outputDir); err != nil {
		t.Errorf("expected output directory to be created: %v", err)
	}
}

func TestSplitChannels(t *testing.T) {
	got := splitChannels(" /chatter, /sensor/lidar ,,")
	if len(got) != 2 || got[0] != "/chatter" || got[1] != "/sensor/lidar" {
		t.Errorf("unexpected split result: %v", got)
	}
}
