// Package config loads server configuration from a TOML base file
// (the on-disk format this project has always shipped,
// config.v6.toml-style) overlaid with environment variables, mirroring
// the teacher's envconfig.Process + godotenv.Load layering.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Tier selects default fps ceilings and audio transport (spec.md §6.5).
type Tier string

const (
	TierAir  Tier = "AIR"
	TierWarp Tier = "WARP"
	TierFlow Tier = "FLOW"
)

// Mode selects the governor's quality/fps envelope (spec.md §4.6).
type Mode string

const (
	ModeGaming   Mode = "GAMING"
	ModeBalanced Mode = "BALANCED"
	ModeStudio   Mode = "STUDIO"
)

// Server holds the recognized keys from spec.md §6.5. Deliberately no
// `default` struct tags: envconfig applies a default tag whenever the
// env var is absent, which would clobber a value already loaded from
// the TOML file. Defaults are seeded by defaultServer() before the
// TOML decode instead, so the precedence is env > toml > code-default.
type Server struct {
	Port                    int    `toml:"port" envconfig:"VELOX_PORT"`
	WebPort                 int    `toml:"web_port" envconfig:"VELOX_WEB_PORT"`
	MonitorID               int    `toml:"monitor_id" envconfig:"VELOX_MONITOR_ID"`
	FrameRate               int    `toml:"frame_rate" envconfig:"VELOX_FRAME_RATE"`
	Resolution              string `toml:"resolution" envconfig:"VELOX_RESOLUTION"`
	Mode                    Mode   `toml:"mode" envconfig:"VELOX_MODE"`
	Tier                    Tier   `toml:"tier" envconfig:"VELOX_TIER"`
	OptimizeCapturePipeline bool   `toml:"optimize_capture_pipeline" envconfig:"VELOX_OPTIMIZE_CAPTURE"`
	EnableDXCAMFallback     bool   `toml:"enable_dxcam_fallback" envconfig:"VELOX_ENABLE_DXCAM_FALLBACK"`
	EnableInputControl      bool   `toml:"enable_input_control" envconfig:"VELOX_ENABLE_INPUT_CONTROL"`
	Language                string `toml:"language" envconfig:"VELOX_LANGUAGE"`
	WebPQuality             int    `toml:"webp_quality" envconfig:"VELOX_WEBP_QUALITY"`
}

func defaultServer() Server {
	return Server{
		Port:                    8765,
		WebPort:                 8766,
		MonitorID:               0,
		FrameRate:               30,
		Resolution:              "full",
		Mode:                    ModeBalanced,
		Tier:                    TierWarp,
		OptimizeCapturePipeline: true,
		EnableDXCAMFallback:     true,
		EnableInputControl:      true,
		Language:                "en_US",
		WebPQuality:             75,
	}
}

// Config is the top-level document; today it only carries [server], but
// is a struct (not a bare Server) so the file format can grow sections
// without breaking the env overlay.
type Config struct {
	Server Server `toml:"server"`
}

// Load reads an optional .env file, an optional TOML file at path, then
// applies environment overrides on top of both. Env vars always win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := &Config{Server: defaultServer()}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode toml config %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process("", &cfg.Server); err != nil {
		return nil, fmt.Errorf("apply env overlay: %w", err)
	}

	return cfg, nil
}
