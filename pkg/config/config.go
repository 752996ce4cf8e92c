// Package config loads the engine's JSON configuration document,
// defaulting missing or malformed fields rather than failing the load.
package config

import (
	"encoding/json"
	"os"
)

const (
	DefaultBaudRate       = 115200
	DefaultTimeoutMS      = 100
	DefaultRetryDelayMaxS = 30
	DefaultLogLevel       = "info"

	// OutgoingPortA and OutgoingPortB are the fixed topology's compile-time
	// identifiers.
	OutgoingPortA = "COM131"
	OutgoingPortB = "COM141"
	OutgoingBaud  = 115200
)

// Config is the on-disk JSON document the CLI host loads before
// constructing an engine.Config.
type Config struct {
	IncomingPort   string `json:"incoming_port"`
	BaudRate       int    `json:"baud_rate"`
	TimeoutMS      int    `json:"timeout_ms"`
	RetryDelayMaxS int    `json:"retry_delay_max_s"`
	LogLevel       string `json:"log_level"`
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Default returns a Config with every field set to its default value.
func Default() Config {
	return Config{
		BaudRate:       DefaultBaudRate,
		TimeoutMS:      DefaultTimeoutMS,
		RetryDelayMaxS: DefaultRetryDelayMaxS,
		LogLevel:       DefaultLogLevel,
	}
}

// Load reads and parses path, filling in defaults for any field that is
// missing or fails validation. A missing file, unparsable JSON, or
// malformed field is reported as a warning string, never as an error — the
// returned Config is always usable.
func Load(path string) (Config, []string) {
	cfg := Default()
	var warnings []string

	data, err := os.ReadFile(path)
	if err != nil {
		warnings = append(warnings, "config file unreadable, using defaults: "+err.Error())
		return cfg, warnings
	}

	var raw Config
	if err := json.Unmarshal(data, &raw); err != nil {
		warnings = append(warnings, "config file malformed, using defaults: "+err.Error())
		return cfg, warnings
	}

	if raw.IncomingPort != "" {
		cfg.IncomingPort = raw.IncomingPort
	} else {
		warnings = append(warnings, "incoming_port missing")
	}

	if raw.BaudRate > 0 {
		cfg.BaudRate = raw.BaudRate
	} else if raw.BaudRate != 0 {
		warnings = append(warnings, "baud_rate invalid, using default")
	}

	if raw.TimeoutMS > 0 {
		cfg.TimeoutMS = raw.TimeoutMS
	} else if raw.TimeoutMS != 0 {
		warnings = append(warnings, "timeout_ms invalid, using default")
	}

	if raw.RetryDelayMaxS > 0 {
		cfg.RetryDelayMaxS = raw.RetryDelayMaxS
	} else if raw.RetryDelayMaxS != 0 {
		warnings = append(warnings, "retry_delay_max_s invalid, using default")
	}

	if raw.LogLevel != "" {
		if validLogLevels[raw.LogLevel] {
			cfg.LogLevel = raw.LogLevel
		} else {
			warnings = append(warnings, "log_level invalid, using default")
		}
	}

	return cfg, warnings
}
