// Package conductor loads conductor configuration and manages the conductor
// process for the lifetime of an install run.
package conductor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the config file written into every sandbox.
const ConfigFileName = "conductor-config.yaml"

// DriverWebsocket is the only admin interface driver the installer speaks.
const DriverWebsocket = "websocket"

// ErrNoAdminInterface is returned when a config exposes no websocket admin port.
var ErrNoAdminInterface = errors.New("conductor config has no websocket admin interface")

// InterfaceDriver selects how an admin interface is exposed.
type InterfaceDriver struct {
	Type string `yaml:"type"`
	Port int    `yaml:"port"`
}

// AdminInterface is one admin interface entry.
type AdminInterface struct {
	Driver InterfaceDriver `yaml:"driver"`
}

// Config is the subset of the conductor configuration the installer reads
// or rewrites. Keys it does not model are kept in Extra and written back
// unchanged.
type Config struct {
	EnvironmentPath          string           `yaml:"environment_path"`
	KeystorePath             string           `yaml:"keystore_path,omitempty"`
	UseDangerousTestKeystore bool             `yaml:"use_dangerous_test_keystore"`
	PassphraseService        any              `yaml:"passphrase_service"`
	AdminInterfaces          []AdminInterface `yaml:"admin_interfaces,omitempty"`
	Network                  any              `yaml:"network"`
	Dpki                     any              `yaml:"dpki"`

	Extra map[string]any `yaml:",inline"`
}

// AdminPort returns the port of the first admin interface, which must use
// the websocket driver.
func (c *Config) AdminPort() (int, error) {
	if c == nil || len(c.AdminInterfaces) == 0 {
		return 0, ErrNoAdminInterface
	}
	d := c.AdminInterfaces[0].Driver
	if d.Type != DriverWebsocket || d.Port <= 0 || d.Port > 65535 {
		return 0, fmt.Errorf("%w: first interface is %s:%d", ErrNoAdminInterface, d.Type, d.Port)
	}
	return d.Port, nil
}

// SetAdminPort points the first websocket admin interface at port, adding
// one when the config has none.
func (c *Config) SetAdminPort(port int) {
	if len(c.AdminInterfaces) > 0 && c.AdminInterfaces[0].Driver.Type == DriverWebsocket {
		c.AdminInterfaces[0].Driver.Port = port
		return
	}
	if len(c.AdminInterfaces) == 0 {
		c.AdminInterfaces = []AdminInterface{{Driver: InterfaceDriver{Type: DriverWebsocket, Port: port}}}
		return
	}
	c.AdminInterfaces = append([]AdminInterface{{Driver: InterfaceDriver{Type: DriverWebsocket, Port: port}}}, c.AdminInterfaces...)
}

// Clone returns a deep enough copy for the installer to mutate paths and
// admin interfaces without touching the original.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.AdminInterfaces = append([]AdminInterface(nil), c.AdminInterfaces...)
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// ParseConfig decodes a conductor config document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse conductor config: %w", err)
	}
	for i, ai := range cfg.AdminInterfaces {
		if ai.Driver.Type == "" {
			return nil, fmt.Errorf("parse conductor config: admin_interfaces[%d]: driver type is required", i)
		}
	}
	return &cfg, nil
}

// LoadConfig reads the conductor config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conductor config: %w", err)
	}
	return ParseConfig(data)
}

// ConfigPath returns the config file location inside a sandbox directory.
func ConfigPath(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}

// ReadConfig reads the config file of the sandbox at dir.
func ReadConfig(dir string) (*Config, error) {
	return LoadConfig(ConfigPath(dir))
}

// WriteConfig writes cfg into the sandbox at dir.
func WriteConfig(dir string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal conductor config: %w", err)
	}
	if err := os.WriteFile(ConfigPath(dir), data, 0o600); err != nil {
		return fmt.Errorf("write conductor config: %w", err)
	}
	return nil
}
