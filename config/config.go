// Package config loads the service configuration from a YAML or JSON file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/exportmon/exportmon/core/autocontrol"
	"github.com/exportmon/exportmon/core/coordinator"
	"github.com/exportmon/exportmon/core/guard"
	"github.com/exportmon/exportmon/core/metrics"
	"github.com/exportmon/exportmon/core/planner"
	"github.com/exportmon/exportmon/infra/mqtt"
)

type Config struct {
	MQTT        mqtt.Config        `json:"mqtt"`
	Battery     BatteryConfig      `json:"battery"`
	Planner     planner.Config     `json:"planner"`
	Guard       guard.Config       `json:"guard"`
	AutoControl autocontrol.Config `json:"auto_control"`
	Coordinator coordinator.Config `json:"coordinator"`
	Metrics     metrics.Config     `json:"metrics"`
}

// Load reads the configuration file at path, applies EXPORTMON_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides, e.g. EXPORTMON_MQTT__BROKER.
	if err := k.Load(env.Provider("EXPORTMON_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "exportmon_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.MQTT.SetDefaults()
	cfg.Battery.SetDefaults()
	cfg.Planner.SetDefaults()
	cfg.Guard.SetDefaults()
	cfg.AutoControl.SetDefaults()
	cfg.Coordinator.SetDefaults()
	cfg.Metrics.SetDefaults()
	if err := cfg.Battery.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Planner.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Guard.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.AutoControl.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Coordinator.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
