// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package config provides typed, validated configuration for GoTale.
//
// Configuration is loaded in layers (defaults, optional YAML file,
// environment variables) via Koanf v2 and normalized exactly once in
// Validate(). Call sites never merge defaults ad hoc; they read the
// already-normalized struct.
package config

import "time"

// Config is the root configuration tree.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Paths   PathsConfig   `koanf:"paths"`
	Runtime RuntimeConfig `koanf:"runtime"`
	Bridge  BridgeConfig  `koanf:"bridge"`
	Store   StoreConfig   `koanf:"store"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the operator HTTP/WebSocket surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// PathsConfig locates the on-disk layout shared with the managed servers.
type PathsConfig struct {
	// DataDir contains one server_<id> directory per instance.
	DataDir string `koanf:"data_dir" validate:"required"`

	// TemplateDir holds the installable HytaleServer.jar / Assets.zip /
	// HytaleServer.aot produced by the download pipeline.
	TemplateDir string `koanf:"template_dir" validate:"required"`

	// DownloadsDir is the working directory of the downloader binary.
	DownloadsDir string `koanf:"downloads_dir" validate:"required"`
}

// RuntimeConfig controls how instance processes are launched and how the
// authentication automation behaves.
type RuntimeConfig struct {
	// JavaBinary is the runtime executable used to launch instances.
	JavaBinary string `koanf:"java_binary" validate:"required"`

	// MinRAMMB / MaxRAMMB become -Xms / -Xmx unless the per-instance
	// custom args already carry them. Zero disables the flag.
	MinRAMMB int `koanf:"min_ram_mb" validate:"gte=0"`
	MaxRAMMB int `koanf:"max_ram_mb" validate:"gte=0"`

	// AOTCache enables -XX:AOTCache when the cache artifact is present.
	AOTCache bool `koanf:"aot_cache"`

	// Profile and AuthMode are exported to the child environment as
	// HYTALE_PROFILE / HYTALE_AUTH_MODE.
	Profile  string `koanf:"profile"`
	AuthMode string `koanf:"auth_mode" validate:"oneof=authenticated offline"`

	// ExtraEnv is appended to the child environment verbatim.
	ExtraEnv map[string]string `koanf:"extra_env"`

	// PersistenceModes is the ordered candidate list the console monitor
	// walks when configuring credential persistence. Must not be empty.
	PersistenceModes []string `koanf:"persistence_modes" validate:"min=1"`

	// CredentialFiles are candidate paths, relative to the instance
	// directory, checked by the asynchronous persistence verification.
	CredentialFiles []string `koanf:"credential_files" validate:"min=1"`
}

// BridgeConfig configures the companion-plugin event bridge.
type BridgeConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`

	// PortBase plus the instance ID yields the plugin API port for that
	// instance.
	PortBase int `koanf:"port_base" validate:"gte=1,lte=65535"`

	Path string `koanf:"path"`

	// Scheme is ws, wss, or empty for auto (wss when auth is enabled).
	Scheme string `koanf:"scheme" validate:"omitempty,oneof=ws wss"`

	AuthEnabled    bool   `koanf:"auth_enabled"`
	AuthToken      string `koanf:"auth_token"`
	AuthQueryParam string `koanf:"auth_query_param"`

	// InsecureFallback permits retrying over plain ws when the wss
	// candidate fails and wss was not explicitly forced.
	InsecureFallback bool `koanf:"insecure_fallback"`
}

// StoreConfig configures the Badger-backed event/credential store.
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`

	// InMemory runs Badger without disk persistence. Test use only.
	InMemory bool `koanf:"in_memory"`
}

// LoggingConfig configures the zerolog wrapper.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the Config all other layers override.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8066,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Paths: PathsConfig{
			DataDir:      "/data/servers",
			TemplateDir:  "/data/servertemplate",
			DownloadsDir: "/data/downloads",
		},
		Runtime: RuntimeConfig{
			JavaBinary:       "java",
			MinRAMMB:         1024,
			MaxRAMMB:         4096,
			AOTCache:         true,
			Profile:          "default",
			AuthMode:         "authenticated",
			PersistenceModes: []string{"encrypted"},
			CredentialFiles: []string{
				"auth.enc",
				"credentials.json",
				".hytale/credentials.json",
			},
		},
		Bridge: BridgeConfig{
			Enabled:          false,
			Host:             "127.0.0.1",
			PortBase:         50000,
			Path:             "/ws",
			Scheme:           "",
			InsecureFallback: false,
		},
		Store: StoreConfig{
			Path: "/data/gotale",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
