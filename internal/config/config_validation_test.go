package config

import (
	"os"
	"strings"
	"testing"
)

func TestValidateConfigurationFormat_ValidConfig(t *testing.T) {
	validConfig := `
active_config: test

configs:
  default:
    audio:
      sample_rate: 44100
  test:
    audio:
      channels: 1
      source: tone
    capture:
      encoding: pcm32
    server:
      enabled: true
      port: 9090
`
	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if rootConfig.ActiveConfig != "test" {
		t.Errorf("Expected active config 'test', got '%s'", rootConfig.ActiveConfig)
	}
	if len(rootConfig.Configs) != 2 {
		t.Errorf("Expected 2 profiles, got %d", len(rootConfig.Configs))
	}
	test := rootConfig.Configs["test"]
	if test == nil {
		t.Fatal("Expected test config")
	}
	if test.Audio.Channels != 1 || test.Capture.Encoding != "pcm32" || !test.Server.Enabled {
		t.Errorf("Test profile parsed incorrectly: %+v", test)
	}
}

func TestValidateConfigurationFormat_MissingConfigs(t *testing.T) {
	configFile := createTempConfig(t, "active_config: default\n")
	defer os.Remove(configFile)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for missing configs section")
	}
	if !strings.Contains(err.Error(), "configs section is required") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidateConfigurationFormat_InvalidProfileValues(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		wantErr string
	}{
		{
			name:    "unknown source",
			profile: "audio:\n      source: microphone",
			wantErr: "audio.source must be one of",
		},
		{
			name:    "unknown encoding",
			profile: "capture:\n      encoding: float32",
			wantErr: "capture.encoding must be one of",
		},
		{
			name:    "unknown transport",
			profile: "link:\n      transport: ble",
			wantErr: "link.transport must be one of",
		},
		{
			name:    "negative chunk",
			profile: "capture:\n      chunk_bytes: -512",
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "configs:\n  default:\n    " + tt.profile + "\n"
			configFile := createTempConfig(t, content)
			defer os.Remove(configFile)

			_, err := ValidateConfigurationFormat(configFile)
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"three channels", func(c *Config) { c.Audio.Channels = 3 }, "audio.channels must be 1 or 2, got: 3"},
		{"zero rate", func(c *Config) { c.Audio.SampleRate = 0 }, "audio.sample_rate"},
		{"huge block", func(c *Config) { c.Audio.BlockSize = 4096 }, "audio.block_size"},
		{"buffer below chunk", func(c *Config) { c.Capture.BufferBytes = 256 }, "capture.buffer_bytes"},
		{"tcp without address", func(c *Config) { c.Link.Transport = "tcp"; c.Link.Address = "" }, "link.address"},
		{"payload limit", func(c *Config) { c.Protocol.MaxPayloadBytes = 0 }, "protocol.max_payload_bytes"},
		{"server port", func(c *Config) { c.Server.Enabled = true; c.Server.Port = 70000 }, "server.port"},
		{"disabled server ignores port", func(c *Config) { c.Server.Port = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	tmpfile, err := os.CreateTemp("", "earcapture-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}
