package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
)

type GlobalsConfig struct {
	Storage GlobalStorageConfig `mapstructure:"storage" yaml:"storage"`
}

type GlobalStorageConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Link     LinkConfig     `mapstructure:"link" yaml:"link"`
	Protocol ProtocolConfig `mapstructure:"protocol" yaml:"protocol"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

// InheritanceInfo maps a dotted setting key to "inherited" or "profile-specific".
type InheritanceInfo struct {
	Profile string
	Fields  map[string]string
}

// Keys returns the tracked setting keys in order.
func (i *InheritanceInfo) Keys() []string {
	keys := make([]string, 0, len(i.Fields))
	for k := range i.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type AudioConfig struct {
	Source     string  `mapstructure:"source" yaml:"source"` // "tone", "silence", "pipewire"
	Target     string  `mapstructure:"target" yaml:"target"` // PipeWire node or port for the "pipewire" source
	SampleRate int     `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int     `mapstructure:"channels" yaml:"channels"`
	BlockSize  int     `mapstructure:"block_size" yaml:"block_size"`
	ToneHz     float64 `mapstructure:"tone_hz" yaml:"tone_hz"`
	Amplitude  float64 `mapstructure:"amplitude" yaml:"amplitude"`
}

type CaptureConfig struct {
	Encoding    string `mapstructure:"encoding" yaml:"encoding"` // "pcm16", "pcm24", "pcm32"
	ChunkBytes  int    `mapstructure:"chunk_bytes" yaml:"chunk_bytes"`
	BufferBytes int    `mapstructure:"buffer_bytes" yaml:"buffer_bytes"`
}

type StorageConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type LinkConfig struct {
	Transport     string `mapstructure:"transport" yaml:"transport"` // "none", "stdio", "tcp"
	Address       string `mapstructure:"address" yaml:"address"`
	RxBufferBytes int    `mapstructure:"rx_buffer_bytes" yaml:"rx_buffer_bytes"`
}

type ProtocolConfig struct {
	MaxPayloadBytes   int           `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes"`
	GainStepDB        float64       `mapstructure:"gain_step_db" yaml:"gain_step_db"`
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval" yaml:"telemetry_interval"`
}

type ServerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

var (
	validSources    = []string{"tone", "silence", "pipewire"}
	validEncodings  = []string{"pcm16", "pcm24", "pcm32"}
	validTransports = []string{"none", "stdio", "tcp"}
)

// Default returns the built-in settings every profile falls back to.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Source:     "tone",
			SampleRate: 44100,
			Channels:   2,
			BlockSize:  128,
			ToneHz:     440,
			Amplitude:  0.25,
		},
		Capture: CaptureConfig{
			Encoding:    "pcm16",
			ChunkBytes:  512,
			BufferBytes: 300 * 512,
		},
		Storage: StorageConfig{
			Directory: "./recordings",
		},
		Link: LinkConfig{
			Transport:     "stdio",
			Address:       "127.0.0.1:7420",
			RxBufferBytes: 4096,
		},
		Protocol: ProtocolConfig{
			MaxPayloadBytes:   1024,
			GainStepDB:        2.5,
			TelemetryInterval: time.Second,
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8420,
		},
	}
}

// Load reads configFile and resolves its active profile.
func Load(configFile string) (*Config, error) {
	return LoadWithProfile(configFile, "")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Built-in defaults, then the "default" profile, then the selected one
	base := Default()
	if configName != "default" {
		if defaultProfile, ok := rootConfig.Configs["default"]; ok && defaultProfile != nil {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	selected := mergeConfigs(base, selectedProfile)
	selected.Inheritance.Profile = configName

	// Global storage directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Storage.Directory != "" {
		selected.Storage.Directory = rootConfig.Globals.Storage.Directory
		selected.Inheritance.Fields["storage.directory"] = inherited
	}
	selected.Storage.Directory = expandPath(selected.Storage.Directory)

	if err := selected.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return selected, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	v.Set("active_config", newActiveConfig)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// WriteDefault writes a starter config file with a single default profile.
func WriteDefault(configFile string, overwrite bool) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}
	if _, err := os.Stat(configFile); err == nil && !overwrite {
		return fmt.Errorf("config file %s already exists", configFile)
	}

	root := RootConfig{
		ActiveConfig: "default",
		Configs:      map[string]*Config{"default": Default()},
	}
	data, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}
	if dir := filepath.Dir(configFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(configFile, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// mergeConfigs overlays every non-zero profile setting onto base and records
// where each value came from. Booleans always come from the profile.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	if base != nil {
		*result = *base
	}
	result.Inheritance = &InheritanceInfo{Fields: make(map[string]string)}
	track := result.Inheritance.Fields

	if profile == nil {
		return result
	}

	str := func(key string, dst *string, v string) {
		track[key] = inherited
		if v != "" {
			*dst = v
			track[key] = profileSpecific
		}
	}
	num := func(key string, dst *int, v int) {
		track[key] = inherited
		if v != 0 {
			*dst = v
			track[key] = profileSpecific
		}
	}
	flt := func(key string, dst *float64, v float64) {
		track[key] = inherited
		if v != 0 {
			*dst = v
			track[key] = profileSpecific
		}
	}

	str("audio.source", &result.Audio.Source, profile.Audio.Source)
	str("audio.target", &result.Audio.Target, profile.Audio.Target)
	num("audio.sample_rate", &result.Audio.SampleRate, profile.Audio.SampleRate)
	num("audio.channels", &result.Audio.Channels, profile.Audio.Channels)
	num("audio.block_size", &result.Audio.BlockSize, profile.Audio.BlockSize)
	flt("audio.tone_hz", &result.Audio.ToneHz, profile.Audio.ToneHz)
	flt("audio.amplitude", &result.Audio.Amplitude, profile.Audio.Amplitude)

	str("capture.encoding", &result.Capture.Encoding, profile.Capture.Encoding)
	num("capture.chunk_bytes", &result.Capture.ChunkBytes, profile.Capture.ChunkBytes)
	num("capture.buffer_bytes", &result.Capture.BufferBytes, profile.Capture.BufferBytes)

	str("storage.directory", &result.Storage.Directory, profile.Storage.Directory)

	str("link.transport", &result.Link.Transport, profile.Link.Transport)
	str("link.address", &result.Link.Address, profile.Link.Address)
	num("link.rx_buffer_bytes", &result.Link.RxBufferBytes, profile.Link.RxBufferBytes)

	num("protocol.max_payload_bytes", &result.Protocol.MaxPayloadBytes, profile.Protocol.MaxPayloadBytes)
	flt("protocol.gain_step_db", &result.Protocol.GainStepDB, profile.Protocol.GainStepDB)
	track["protocol.telemetry_interval"] = inherited
	if profile.Protocol.TelemetryInterval != 0 {
		result.Protocol.TelemetryInterval = profile.Protocol.TelemetryInterval
		track["protocol.telemetry_interval"] = profileSpecific
	}

	num("server.port", &result.Server.Port, profile.Server.Port)
	result.Server.Enabled = profile.Server.Enabled
	track["server.enabled"] = profileSpecific

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("EARCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if active := v.GetString("active_config"); active != "" {
		rootConfig.ActiveConfig = active
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and must contain at least one profile")
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
		if err := validateProfileValues(profile); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}
	return &rootConfig, nil
}

// validateProfileValues checks the settings a profile sets explicitly. Zero
// values are left for inheritance.
func validateProfileValues(p *Config) error {
	if p.Audio.Source != "" && !oneOf(p.Audio.Source, validSources) {
		return fmt.Errorf("audio.source must be one of %s, got: %s", strings.Join(validSources, ", "), p.Audio.Source)
	}
	if p.Capture.Encoding != "" && !oneOf(p.Capture.Encoding, validEncodings) {
		return fmt.Errorf("capture.encoding must be one of %s, got: %s", strings.Join(validEncodings, ", "), p.Capture.Encoding)
	}
	if p.Link.Transport != "" && !oneOf(p.Link.Transport, validTransports) {
		return fmt.Errorf("link.transport must be one of %s, got: %s", strings.Join(validTransports, ", "), p.Link.Transport)
	}
	if p.Audio.SampleRate < 0 || p.Audio.Channels < 0 || p.Audio.BlockSize < 0 ||
		p.Capture.ChunkBytes < 0 || p.Capture.BufferBytes < 0 || p.Link.RxBufferBytes < 0 ||
		p.Protocol.MaxPayloadBytes < 0 || p.Server.Port < 0 {
		return fmt.Errorf("numeric settings must not be negative")
	}
	return nil
}

// Validate checks a fully resolved configuration.
func (c *Config) Validate() error {
	if !oneOf(c.Audio.Source, validSources) {
		return fmt.Errorf("audio.source must be one of %s, got: %s", strings.Join(validSources, ", "), c.Audio.Source)
	}
	if c.Audio.SampleRate <= 0 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 1 and 192000, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", c.Audio.Channels)
	}
	if c.Audio.BlockSize <= 0 || c.Audio.BlockSize > 1024 {
		return fmt.Errorf("audio.block_size must be between 1 and 1024, got: %d", c.Audio.BlockSize)
	}
	if c.Audio.Amplitude < 0 || c.Audio.Amplitude > 1 {
		return fmt.Errorf("audio.amplitude must be between 0 and 1, got: %g", c.Audio.Amplitude)
	}
	if !oneOf(c.Capture.Encoding, validEncodings) {
		return fmt.Errorf("capture.encoding must be one of %s, got: %s", strings.Join(validEncodings, ", "), c.Capture.Encoding)
	}
	if c.Capture.ChunkBytes <= 0 {
		return fmt.Errorf("capture.chunk_bytes must be positive, got: %d", c.Capture.ChunkBytes)
	}
	if c.Capture.BufferBytes < c.Capture.ChunkBytes {
		return fmt.Errorf("capture.buffer_bytes must be at least capture.chunk_bytes (%d), got: %d",
			c.Capture.ChunkBytes, c.Capture.BufferBytes)
	}
	if c.Storage.Directory == "" {
		return fmt.Errorf("storage.directory is required")
	}
	if !oneOf(c.Link.Transport, validTransports) {
		return fmt.Errorf("link.transport must be one of %s, got: %s", strings.Join(validTransports, ", "), c.Link.Transport)
	}
	if c.Link.Transport == "tcp" && c.Link.Address == "" {
		return fmt.Errorf("link.address is required for the tcp transport")
	}
	if c.Link.RxBufferBytes <= 0 {
		return fmt.Errorf("link.rx_buffer_bytes must be positive, got: %d", c.Link.RxBufferBytes)
	}
	if c.Protocol.MaxPayloadBytes <= 0 || c.Protocol.MaxPayloadBytes > 65536 {
		return fmt.Errorf("protocol.max_payload_bytes must be between 1 and 65536, got: %d", c.Protocol.MaxPayloadBytes)
	}
	if c.Protocol.GainStepDB <= 0 {
		return fmt.Errorf("protocol.gain_step_db must be positive, got: %g", c.Protocol.GainStepDB)
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
