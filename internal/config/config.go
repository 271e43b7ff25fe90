package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// InterpreterConfig describes the external shell interpreter and how its output is parsed.
type InterpreterConfig struct {
	Path          string        `yaml:"path"`
	Timeout       time.Duration `yaml:"timeout"`
	PromptMarker  string        `yaml:"prompt_marker"`
	BannerMarkers []string      `yaml:"banner_markers"`
	NoiseMarkers  []string      `yaml:"noise_markers"`
	LogFile       string        `yaml:"log_file"` // relative to the workspace
	CalcEnabled   bool          `yaml:"calc_enabled"`
	CalcPrefix    string        `yaml:"calc_prefix"`
}

type WorkspaceConfig struct {
	Dir       string `yaml:"dir"`
	ReadLimit int64  `yaml:"read_limit"`
}

type HistoryConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	Path   string `yaml:"path"`
}

type LauncherConfig struct {
	Host         string        `yaml:"host"`
	StartPort    int           `yaml:"start_port"`
	MaxProbes    int           `yaml:"max_probes"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	OpenBrowser  bool          `yaml:"open_browser"`
	ServiceDir   string        `yaml:"service_dir"`
}

type LoggerConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the top-level configuration shared by the launcher and the service.
type Config struct {
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	History     HistoryConfig     `yaml:"history"`
	Launcher    LauncherConfig    `yaml:"launcher"`
	Logger      LoggerConfig      `yaml:"logger"`
}

func Defaults() *Config {
	return &Config{
		Interpreter: InterpreterConfig{
			Path:          "./xhell/bin/xhell",
			Timeout:       5 * time.Second,
			PromptMarker:  "[lad]#",
			BannerMarkers: []string{"Welcome to Xhell", "Quiting Xhell"},
			NoiseMarkers:  []string{"[proxychains]"},
			LogFile:       ".xhell_log",
			CalcEnabled:   true,
			CalcPrefix:    "xcalc",
		},
		Workspace: WorkspaceConfig{
			Dir:       "./demo_workspace",
			ReadLimit: 2000,
		},
		History: HistoryConfig{
			Driver: "memory",
			Path:   "xhelldemo_history.db",
		},
		Launcher: LauncherConfig{
			Host:         "localhost",
			StartPort:    8501,
			MaxProbes:    100,
			ReadyTimeout: 30 * time.Second,
			StopTimeout:  5 * time.Second,
			OpenBrowser:  true,
			ServiceDir:   ".",
		},
		Logger: LoggerConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file on top of Defaults and applies env overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps XHELLDEMO_* env vars onto cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XHELLDEMO_INTERPRETER"); v != "" {
		cfg.Interpreter.Path = v
	}
	if v := os.Getenv("XHELLDEMO_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Interpreter.Timeout = d
		}
	}
	if v := os.Getenv("XHELLDEMO_WORKSPACE"); v != "" {
		cfg.Workspace.Dir = v
	}
	if v := os.Getenv("XHELLDEMO_HISTORY_DRIVER"); v != "" {
		cfg.History.Driver = v
	}
	if v := os.Getenv("XHELLDEMO_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("XHELLDEMO_START_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Launcher.StartPort = n
		}
	}
	if v := os.Getenv("XHELLDEMO_OPEN_BROWSER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Launcher.OpenBrowser = b
		}
	}
	if v := os.Getenv("XHELLDEMO_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}

func Validate(cfg *Config) error {
	var errs []string
	if cfg.Interpreter.Path == "" {
		errs = append(errs, "interpreter.path is required")
	}
	if cfg.Interpreter.Timeout <= 0 {
		errs = append(errs, "interpreter.timeout must be positive")
	}
	if cfg.Interpreter.PromptMarker == "" {
		errs = append(errs, "interpreter.prompt_marker is required")
	}
	if cfg.Interpreter.CalcEnabled && strings.TrimSpace(cfg.Interpreter.CalcPrefix) == "" {
		errs = append(errs, "interpreter.calc_prefix is required when calc is enabled")
	}
	if cfg.Workspace.Dir == "" {
		errs = append(errs, "workspace.dir is required")
	}
	switch cfg.History.Driver {
	case "memory":
	case "sqlite":
		if cfg.History.Path == "" {
			errs = append(errs, "history.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported history.driver %q", cfg.History.Driver))
	}
	if cfg.Launcher.StartPort <= 0 || cfg.Launcher.StartPort > 65535 {
		errs = append(errs, fmt.Sprintf("launcher.start_port %d out of range", cfg.Launcher.StartPort))
	}
	if cfg.Launcher.ReadyTimeout <= 0 {
		errs = append(errs, "launcher.ready_timeout must be positive")
	}
	if cfg.Launcher.StopTimeout <= 0 {
		errs = append(errs, "launcher.stop_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
