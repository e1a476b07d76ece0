// Package config implements the TOML-based process configuration this
// server reads at startup: listen address, session token secret/ttl, the
// module-host sandbox limits spec.md §4.4/§5 leave configurable, and the
// WAL durability toggle from §4.7. Grounded on sibling example repo
// Pieczasz-smf's BurntSushi/toml-backed loader
// (internal/parser/toml/parser.go) — the teacher bindings crate has no
// process-level config of its own to generalize, since it is a module-side
// SDK rather than a server.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/clockworklabs/stdb-core/internal/hostmodule"
	"github.com/clockworklabs/stdb-core/internal/wal"
)

// Config is the top-level document shape, one table per subsystem.
type Config struct {
	HTTP    HTTPConfig    `toml:"http"`
	Session SessionConfig `toml:"session"`
	Module  ModuleConfig  `toml:"module"`
	WAL     WALConfig     `toml:"wal"`
	Log     LogConfig     `toml:"log"`
}

// HTTPConfig controls the address internal/httpapi listens on.
type HTTPConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// SessionConfig controls identity-token issuance (internal/session).
type SessionConfig struct {
	TokenSecret string `toml:"token_secret"`
	TokenTTL    string `toml:"token_ttl"`
}

// TokenTTLDuration parses TokenTTL, defaulting to one hour if unset.
func (s SessionConfig) TokenTTLDuration() (time.Duration, error) {
	if s.TokenTTL == "" {
		return time.Hour, nil
	}
	d, err := time.ParseDuration(s.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("config: session.token_ttl: %w", err)
	}
	return d, nil
}

// ModuleConfig mirrors hostmodule.Config with TOML-friendly field types
// (durations as strings, per BurntSushi/toml's lack of a duration codec).
type ModuleConfig struct {
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
	CallTimeout      string `toml:"call_timeout"`
	EnergyBudget     int64  `toml:"energy_budget"`
	ScratchBufferCap uint32 `toml:"scratch_buffer_cap"`
	SchedulerTick    string `toml:"scheduler_tick"`
}

// ToHostConfig converts to the hostmodule.Config the module host expects.
func (m ModuleConfig) ToHostConfig() (hostmodule.Config, error) {
	timeout, err := time.ParseDuration(m.CallTimeout)
	if err != nil {
		return hostmodule.Config{}, fmt.Errorf("config: module.call_timeout: %w", err)
	}
	tick, err := time.ParseDuration(m.SchedulerTick)
	if err != nil {
		return hostmodule.Config{}, fmt.Errorf("config: module.scheduler_tick: %w", err)
	}
	return hostmodule.Config{
		MemoryLimitPages: m.MemoryLimitPages,
		CallTimeout:      timeout,
		EnergyBudget:     m.EnergyBudget,
		ScratchBufferCap: m.ScratchBufferCap,
		SchedulerTick:    tick,
	}, nil
}

// WALConfig controls internal/wal's durability behavior.
type WALConfig struct {
	Dir   string `toml:"dir"`
	Fsync bool   `toml:"fsync"`
}

// ToWALConfig converts to the wal.Config the commit log expects.
func (w WALConfig) ToWALConfig() wal.Config {
	return wal.Config{Dir: w.Dir, Fsync: w.Fsync}
}

// LogConfig controls the rs/zerolog global level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the config this server runs with if no file is loaded,
// proportioned from hostmodule.DefaultConfig.
func Default() Config {
	hostDefault := hostmodule.DefaultConfig()
	return Config{
		HTTP:    HTTPConfig{ListenAddr: "127.0.0.1:3000"},
		Session: SessionConfig{TokenTTL: "24h"},
		Module: ModuleConfig{
			MemoryLimitPages: hostDefault.MemoryLimitPages,
			CallTimeout:      hostDefault.CallTimeout.String(),
			EnergyBudget:     hostDefault.EnergyBudget,
			ScratchBufferCap: hostDefault.ScratchBufferCap,
			SchedulerTick:    hostDefault.SchedulerTick.String(),
		},
		WAL: WALConfig{Dir: "data/wal", Fsync: true},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFile reads and decodes a TOML config file over Default(), so an
// omitted table or field keeps its default rather than zeroing out.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}
