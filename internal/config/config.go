// Package config holds mlsclient's on-disk TOML configuration: ciphersuite
// ID, protocol version, and HTTP timeouts.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// MLSCiphersuiteID is MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519, the
	// only ciphersuite mlsclient groups use.
	MLSCiphersuiteID = 0x0001

	// Version is the mlsclient protocol version string.
	Version = "1.0.0"

	// DefaultHTTPTimeout is the default Delivery Service HTTP request timeout.
	DefaultHTTPTimeout = 30 * time.Second
)

// Config is mlsclient's runtime configuration.
type Config struct {
	Version          string `toml:"version"`
	CipherSuite      int    `toml:"cipher_suite"`
	HTTPTimeoutSecs  int    `toml:"http_timeout_secs"`
	AutosaveEnabled  bool   `toml:"autosave_enabled"`
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		Version:         Version,
		CipherSuite:     MLSCiphersuiteID,
		HTTPTimeoutSecs: int(DefaultHTTPTimeout / time.Second),
		AutosaveEnabled: false,
	}
}

// HTTPTimeout returns the configured HTTP timeout as a time.Duration.
func (c Config) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSecs <= 0 {
		return DefaultHTTPTimeout
	}
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}

// tomlConfig nests Config under an [mlsclient] table on disk.
type tomlConfig struct {
	MLSClient Config `toml:"mlsclient"`
}

// ToTOML serializes the config to TOML text.
func (c Config) ToTOML() string {
	return fmt.Sprintf(
		"[mlsclient]\nversion = %q\ncipher_suite = %d\nhttp_timeout_secs = %d\nautosave_enabled = %t\n",
		c.Version, c.CipherSuite, c.HTTPTimeoutSecs, c.AutosaveEnabled)
}

// FromTOML parses a Config from TOML text, filling unset fields with
// defaults.
func FromTOML(text string) (Config, error) {
	var wrapper tomlConfig
	if _, err := toml.Decode(text, &wrapper); err != nil {
		return Config{}, fmt.Errorf("parsing config TOML: %w", err)
	}
	cfg := Default()
	m := wrapper.MLSClient
	if m.Version != "" {
		cfg.Version = m.Version
	}
	if m.CipherSuite != 0 {
		cfg.CipherSuite = m.CipherSuite
	}
	if m.HTTPTimeoutSecs != 0 {
		cfg.HTTPTimeoutSecs = m.HTTPTimeoutSecs
	}
	cfg.AutosaveEnabled = m.AutosaveEnabled
	return cfg, nil
}
