// Package hostconfig loads virtual-host configuration from TOML documents
// into HostConfig values, giving the out-of-scope "configuration file
// parsing" collaborator a concrete shape to hand the server.
package hostconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// HostConfig describes one virtual host: its document root, port, FastCGI
// and load-balancing options, TLS material, cache settings, and logging
// configuration. Field names mirror the original configuration struct this
// was ported from.
type HostConfig struct {
	Domain   string `toml:"domain"`
	Dir      string `toml:"dir"`
	Port     uint16 `toml:"port"`
	Browsing bool   `toml:"browsing_enabled"`
	Workers  int    `toml:"workers"`
	Timeout  time.Duration `toml:"-"`
	TimeoutSeconds int     `toml:"timeout_seconds"`

	PHPEnabled bool    `toml:"php_enabled"`
	PHPIndex   *string `toml:"php_index"`
	PHPPort    *uint16 `toml:"php_port"`
	PHPSocket  *string `toml:"php_socket"`

	TLSEnabled       bool   `toml:"https_enabled"`
	TLSCertFile      string `toml:"https_pub_cert"`
	TLSPrivateKey    string `toml:"https_private_key"`

	LogsEnabled  bool   `toml:"logs_enabled"`
	LogsMinLevel string `toml:"logs_min_level"`
	LogsDir      string `toml:"logs_dir"`

	LoadBalancingEnabled bool     `toml:"load_balancing_enabled"`
	LoadBalancingServers []string `toml:"load_balancing_servers"`

	CacheEnabled  bool     `toml:"cache_enabled"`
	CacheDir      string   `toml:"cache_dir"`
	CachePatterns []string `toml:"cache_patterns"`
}

// document is the top-level shape of a TOML config file: one or more
// [[host]] tables.
type document struct {
	Host []HostConfig `toml:"host"`
}

// Load parses the TOML file at path into a slice of HostConfig. Each
// host's Timeout is derived from TimeoutSeconds after decoding, since
// time.Duration has no native TOML representation the teacher's config
// loader would recognize.
func Load(path string) ([]HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hostconfig: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw TOML bytes into a slice of HostConfig.
func Parse(data []byte) ([]HostConfig, error) {
	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("hostconfig: decoding toml: %w", err)
	}
	for i := range doc.Host {
		doc.Host[i].Timeout = time.Duration(doc.Host[i].TimeoutSeconds) * time.Second
	}
	return doc.Host, nil
}
