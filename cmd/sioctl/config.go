package main

import (
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// sioctl config.yaml key mapping to connection settings. Flags override
// whatever the file provides.
type fileConfig struct {
	URL              string            `yaml:"url"`
	Secure           *bool             `yaml:"secure"`
	SessionID        string            `yaml:"session_id"`
	ServerTransports []string          `yaml:"server_transports"`
	Transports       []string          `yaml:"transports"`
	Path             string            `yaml:"path"`
	Headers          map[string]string `yaml:"headers"`
	SkipVerify       *bool             `yaml:"skip_verify"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load sioctl config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("load sioctl config: %w", err)
	}
	return cfg, nil
}

// merge overlays file values onto settings the flags left at their
// defaults. changed reports whether the named flag was set explicitly.
func (c fileConfig) merge(s *settings, changed func(string) bool) {
	if c.URL != "" && !changed("url") {
		s.URL = c.URL
	}
	if c.Secure != nil && !changed("secure") {
		s.Secure = *c.Secure
	}
	if c.SessionID != "" && !changed("sid") {
		s.SessionID = c.SessionID
	}
	if len(c.ServerTransports) > 0 && !changed("server-transports") {
		s.ServerTransports = c.ServerTransports
	}
	if len(c.Transports) > 0 && !changed("transports") {
		s.Transports = c.Transports
	}
	if c.Path != "" && !changed("path") {
		s.Path = c.Path
	}
	if c.SkipVerify != nil && !changed("insecure") {
		s.SkipVerify = *c.SkipVerify
	}
	for k, v := range c.Headers {
		if s.Headers == nil {
			s.Headers = http.Header{}
		}
		if s.Headers.Get(k) == "" {
			s.Headers.Set(k, v)
		}
	}
}
