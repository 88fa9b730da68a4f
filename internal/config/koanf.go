// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations in priority order;
// the first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gotale/config.yaml",
	"/etc/gotale/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
//
// The returned Config has already passed Validate().
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the paths parsed as comma-separated lists when they
// arrive as strings from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"runtime.persistence_modes",
	"runtime.credential_files",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf paths.
// Flat legacy names (HTTP_PORT, DATA_DIR, …) are mapped explicitly;
// GOTALE_-prefixed variables map structurally:
// GOTALE_BRIDGE_PORT_BASE -> bridge.port_base.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"cors_origins": "server.cors_origins",

		"data_dir":      "paths.data_dir",
		"template_dir":  "paths.template_dir",
		"downloads_dir": "paths.downloads_dir",

		"java_binary":       "runtime.java_binary",
		"min_ram_mb":        "runtime.min_ram_mb",
		"max_ram_mb":        "runtime.max_ram_mb",
		"aot_cache":         "runtime.aot_cache",
		"hytale_profile":    "runtime.profile",
		"hytale_auth_mode":  "runtime.auth_mode",
		"persistence_modes": "runtime.persistence_modes",

		"bridge_enabled":           "bridge.enabled",
		"bridge_host":              "bridge.host",
		"bridge_port_base":         "bridge.port_base",
		"bridge_path":              "bridge.path",
		"bridge_scheme":            "bridge.scheme",
		"bridge_auth_enabled":      "bridge.auth_enabled",
		"bridge_auth_token":        "bridge.auth_token",
		"bridge_auth_query_param":  "bridge.auth_query_param",
		"bridge_insecure_fallback": "bridge.insecure_fallback",

		"store_path": "store.path",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	if rest, ok := strings.CutPrefix(key, "gotale_"); ok {
		for _, section := range []string{"server", "paths", "runtime", "bridge", "store", "logging"} {
			if field, ok := strings.CutPrefix(rest, section+"_"); ok {
				return section + "." + field
			}
		}
	}

	// Unknown variables are discarded rather than polluting the tree.
	return ""
}
