// Package config loads the YAML configuration file describing the IRC
// network to connect to and the channels to auto-join.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Channel is one auto-join entry; Key is left empty for unkeyed channels.
type Channel struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key,omitempty"`
}

// Config holds all connection and auto-join configuration.
type Config struct {
	Nick       string `yaml:"nick"`
	NickPass   string `yaml:"nick_pass"`
	Alternate  string `yaml:"alternate"`
	Server     string `yaml:"server"`
	Port       int    `yaml:"port"`
	ServerPass string `yaml:"server_pass"`
	IRCName    string `yaml:"irc_name"`
	Username   string `yaml:"username"`
	UseTLS     bool   `yaml:"use_tls"`
	MaxMsgLen  int    `yaml:"max_msg_len"`
	OperNick   string `yaml:"oper_nick"`
	OperPass   string `yaml:"oper_pass"`

	Channels []Channel `yaml:"channels"`
}

// Load reads and parses a YAML configuration file, filling in the same
// defaults a hand-written minimal config would otherwise need to spell
// out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Username == "" {
		cfg.Username = cfg.Nick
	}
	if cfg.IRCName == "" {
		cfg.IRCName = cfg.Nick
	}
	if cfg.MaxMsgLen == 0 {
		cfg.MaxMsgLen = 510
	}
	if cfg.Port == 0 {
		cfg.Port = 6667
	}

	return &cfg, nil
}
