package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fxnlabs/gpu-morphology/internal/gpu"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Device struct {
		Backend string `yaml:"backend"`
		Index   int    `yaml:"index"`
	} `yaml:"device"`
	Precision string `yaml:"precision"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var config Config
	config.Logger.Verbosity = "info"
	config.Device.Backend = gpu.BackendAuto
	config.Precision = gpu.Float32.String()
	return &config
}

// LoadConfig reads a yaml file on top of Default and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes yaml on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the device and precision settings.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Device.Backend) {
	case gpu.BackendAuto, gpu.BackendCPU, gpu.BackendCUDA, gpu.BackendWebGPU:
	default:
		return fmt.Errorf("config: unknown device backend %q", c.Device.Backend)
	}
	if c.Device.Index < 0 {
		return fmt.Errorf("config: device index must not be negative, got %d", c.Device.Index)
	}
	if _, err := c.ParsedPrecision(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParsedPrecision returns the accumulation precision named by Precision.
func (c *Config) ParsedPrecision() (gpu.Precision, error) {
	return gpu.ParsePrecision(c.Precision)
}
