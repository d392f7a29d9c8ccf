// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openpsg/pressure-sensor/internal/cs1237"
	"github.com/openpsg/pressure-sensor/internal/gpio"
	"github.com/openpsg/pressure-sensor/internal/mqtt"
	"github.com/openpsg/pressure-sensor/internal/sampler"
)

// Config represents the daemon configuration.
type Config struct {
	GPIO    GPIOConfig    `yaml:"gpio"`
	ADC     ADCConfig     `yaml:"adc"`
	RPC     RPCConfig     `yaml:"rpc"`
	HTTP    HTTPConfig    `yaml:"http"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Sampler SamplerConfig `yaml:"sampler"`
}

// GPIOConfig names the character device and line offsets wired to the ADC.
type GPIOConfig struct {
	Chip  string `yaml:"chip"`
	Clock int    `yaml:"clock"`
	Data  int    `yaml:"data"`
}

// ADCConfig is written to the CS1237 during the handshake.
type ADCConfig struct {
	SampleRate int    `yaml:"sample_rate"` // 10, 40, 640 or 1280
	Gain       int    `yaml:"gain"`        // 1, 2, 64 or 128
	Channel    string `yaml:"channel"`     // A, reserved, temperature or short
}

// RPCConfig is the JSON-RPC listener.
type RPCConfig struct {
	Addr string `yaml:"addr"`
}

// HTTPConfig is the status server listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig configures the optional broker connection. An empty broker
// disables MQTT.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	BufferSize int    `yaml:"buffer_size"` // windows kept while disconnected
}

// SamplerConfig configures the acquisition loop.
type SamplerConfig struct {
	NotifyFailure string `yaml:"notify_failure"` // fail-session or drop-window
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		GPIO: GPIOConfig{
			Chip:  gpio.DefaultChip,
			Clock: gpio.DefaultPinClock,
			Data:  gpio.DefaultPinData,
		},
		ADC: ADCConfig{
			SampleRate: sampler.SamplesPerSecond,
			Gain:       128,
			Channel:    "A",
		},
		RPC:  RPCConfig{Addr: ":1234"},
		HTTP: HTTPConfig{Addr: ":8080"},
		MQTT: MQTTConfig{
			ClientID:   "openpsg-pressure",
			BufferSize: mqtt.DefaultBufferSize,
		},
		Sampler: SamplerConfig{NotifyFailure: sampler.FailSession.String()},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values. The result is validated.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks every enumerated field.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.ADC.CS1237(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Sampler.Policy(); err != nil {
		errs = append(errs, err)
	}
	if c.GPIO.Clock == c.GPIO.Data {
		errs = append(errs, fmt.Errorf("config: clock and data share line %d", c.GPIO.Clock))
	}
	if c.GPIO.Clock < 0 || c.GPIO.Data < 0 {
		errs = append(errs, fmt.Errorf("config: negative line offset"))
	}
	return errors.Join(errs...)
}

// CS1237 converts the ADC section to a driver configuration.
func (a ADCConfig) CS1237() (cs1237.Config, error) {
	rate, err := cs1237.ParseSampleRate(a.SampleRate)
	if err != nil {
		return cs1237.Config{}, err
	}
	gain, err := cs1237.ParseGain(a.Gain)
	if err != nil {
		return cs1237.Config{}, err
	}
	ch, err := cs1237.ParseChannel(a.Channel)
	if err != nil {
		return cs1237.Config{}, err
	}
	return cs1237.Config{SampleRate: rate, Gain: gain, Channel: ch}, nil
}

// Policy parses the notify failure policy.
func (s SamplerConfig) Policy() (sampler.NotifyFailurePolicy, error) {
	return sampler.ParseNotifyFailurePolicy(s.NotifyFailure)
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.GPIO.Chip == "" {
		c.GPIO.Chip = def.GPIO.Chip
	}

	if c.ADC.SampleRate == 0 {
		c.ADC.SampleRate = def.ADC.SampleRate
	}
	if c.ADC.Gain == 0 {
		c.ADC.Gain = def.ADC.Gain
	}
	if c.ADC.Channel == "" {
		c.ADC.Channel = def.ADC.Channel
	}

	if c.RPC.Addr == "" {
		c.RPC.Addr = def.RPC.Addr
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.BufferSize <= 0 {
		c.MQTT.BufferSize = def.MQTT.BufferSize
	}

	if c.Sampler.NotifyFailure == "" {
		c.Sampler.NotifyFailure = def.Sampler.NotifyFailure
	}
}
