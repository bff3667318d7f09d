// Package config loads service configuration with viper and builds the
// service logger.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CODERBOT_LOG_LEVEL.
const EnvPrefix = "CODERBOT"

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "coderbot.db"
	defaultProgramDir      = "./data"
	defaultTeardownTimeout = 5 * time.Second
)

// Config holds application configuration.
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	DBPath          string        `mapstructure:"db_path"`
	ProgramDir      string        `mapstructure:"program_dir"`
	VideoRec        bool          `mapstructure:"prog_video_rec"`
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout"`
	MotorTrim       float64       `mapstructure:"motor_trim_factor"`
	Log             LogConfig     `mapstructure:"log"`
	Camera          CameraConfig  `mapstructure:"camera"`
	Sim             SimConfig     `mapstructure:"sim"`
}

// LogConfig selects log destinations.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Journal bool   `mapstructure:"journal"`
}

// CameraConfig configures the camera collaborator.
type CameraConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SimConfig configures the simulated robot.
type SimConfig struct {
	// TimeScale multiplies simulated motor durations.
	TimeScale float64 `mapstructure:"time_scale"`
}

// ProgVideoRec reports whether program runs are recorded by the camera.
func (c *Config) ProgVideoRec() bool {
	return c.VideoRec
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("program_dir", defaultProgramDir)
	v.SetDefault("prog_video_rec", false)
	v.SetDefault("teardown_timeout", defaultTeardownTimeout)
	v.SetDefault("motor_trim_factor", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.journal", false)
	v.SetDefault("camera.enabled", true)
	v.SetDefault("sim.time_scale", 1.0)
}

// Load reads configuration from defaults, the optional config file at path
// and the environment, in increasing order of precedence. A .env file in the
// working directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = defaultTeardownTimeout
	}
	if cfg.Sim.TimeScale <= 0 {
		cfg.Sim.TimeScale = 1
	}
	if cfg.MotorTrim <= 0 {
		cfg.MotorTrim = 1
	}
	return &cfg, nil
}

// LogLevel returns the configured slog level.
func (c LogConfig) LogLevel() slog.Level {
	return parseLogLevel(c.Level)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
