// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package config defines the supervisor's configuration record and the
// section/key text format it is read from.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

// FlexBool is a boolean that decodes from the native TOML true/false
// tokens as well as a quoted "yes"/"no"/"on"/"off" string, matched case
// insensitively, via encoding.TextUnmarshaler (spec §6.2 "booleans accept
// true|false|yes|no|on|off"). BurntSushi/toml calls UnmarshalText with the
// raw token text for any primitive value, string or bare boolean, bound to
// a field implementing the interface.
type FlexBool bool

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *FlexBool) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "true", "yes", "on":
		*b = true
	case "false", "no", "off":
		*b = false
	default:
		return kv.NewError("invalid boolean value").With("value", string(text)).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// GeneralConfig holds the [general] section of the configuration file.
type GeneralConfig struct {
	CheckIntervalSecs  int               `toml:"check_interval"`
	MaxTrainingProcess int               `toml:"max_training_process"`
	AutoContinue       FlexBool          `toml:"auto_continue"`
	ProcessGPUMapping  map[string]string `toml:"process_gpu_mapping"`
	BaseCheckpointDir  string            `toml:"base_checkpoint_dir"`
}

// GPUConfig holds the [gpu] section of the configuration file.
type GPUConfig struct {
	EnableGPUAssignment FlexBool `toml:"enable_gpu_assignment"`
	GPUList             []string `toml:"gpu_list"`
	AllowMultiGPU       FlexBool `toml:"allow_multi_gpu"`
	UseProcessOrder     FlexBool `toml:"use_process_order"`
	DefaultGPU          string   `toml:"default_gpu"`
}

// EnvironmentConfig holds the [environment] section.
type EnvironmentConfig struct {
	SetupScript string            `toml:"setup_script"`
	UseConda    FlexBool          `toml:"use_conda"`
	CondaEnv    string            `toml:"conda_env"`
	EnvVars     map[string]string `toml:"env_vars"`
}

// WandbConfig holds the [wandb] section: tracker credentials.
type WandbConfig struct {
	APIKey string `toml:"api_key"`
	Entity string `toml:"entity"`
	Project string `toml:"project"`
}

// EmailConfig holds the [email] section used by the notification module.
type EmailConfig struct {
	Enabled  FlexBool `toml:"enabled"`
	SMTPHost string   `toml:"smtp_host"`
	SMTPPort int      `toml:"smtp_port"`
	From     string   `toml:"from"`
	To       []string `toml:"to"`
}

// NotificationConfig holds the [notification] section.
type NotificationConfig struct {
	DesktopEnabled FlexBool `toml:"desktop_enabled"`
	SoundEnabled   FlexBool `toml:"sound_enabled"`
}

// Config is the immutable-for-the-lifetime-of-a-run configuration record
// described in spec §3.
type Config struct {
	CheckInterval time.Duration `toml:"-"`

	General      GeneralConfig      `toml:"general"`
	GPU          GPUConfig          `toml:"gpu"`
	Environment  EnvironmentConfig  `toml:"environment"`
	Wandb        WandbConfig        `toml:"wandb"`
	Email        EmailConfig        `toml:"email"`
	Notification NotificationConfig `toml:"notification"`
}

// Defaults returns the configuration record populated with the defaults
// documented in spec §3 / §6.2.
func Defaults() *Config {
	return &Config{
		CheckInterval: 30 * time.Second,
		General: GeneralConfig{
			CheckIntervalSecs:  30,
			MaxTrainingProcess: 1,
			AutoContinue:       FlexBool(true),
			ProcessGPUMapping:  map[string]string{},
		},
		GPU: GPUConfig{
			EnableGPUAssignment: FlexBool(true),
			GPUList:             []string{},
			AllowMultiGPU:       FlexBool(false),
			UseProcessOrder:     FlexBool(true),
			DefaultGPU:          "0",
		},
		Environment: EnvironmentConfig{
			EnvVars: map[string]string{},
		},
	}
}

// Load parses a TOML configuration file into a Config seeded with defaults,
// then normalizes derived fields (CheckInterval from CheckIntervalSecs).
func Load(path string) (cfg *Config, err kv.Error) {
	cfg = Defaults()
	if _, errGo := toml.DecodeFile(path, cfg); errGo != nil {
		return nil, kv.Wrap(errGo).With("path", path).With("stack", stack.Trace().TrimRuntime())
	}
	cfg.normalize()
	return cfg, nil
}

// Normalize re-derives CheckInterval and clamps invalid values after the
// caller has applied command-line overrides on top of a loaded or default
// configuration (spec §6.3 "Command-line values override configuration
// values").
func (cfg *Config) Normalize() {
	cfg.normalize()
}

func (cfg *Config) normalize() {
	if cfg.General.CheckIntervalSecs <= 0 {
		cfg.General.CheckIntervalSecs = 30
	}
	cfg.CheckInterval = time.Duration(cfg.General.CheckIntervalSecs) * time.Second
	if cfg.General.MaxTrainingProcess <= 0 {
		cfg.General.MaxTrainingProcess = 1
	}
	if cfg.General.ProcessGPUMapping == nil {
		cfg.General.ProcessGPUMapping = map[string]string{}
	}
	if cfg.Environment.EnvVars == nil {
		cfg.Environment.EnvVars = map[string]string{}
	}
}

// WriteDefault writes a commented default configuration file to path,
// grounded on original_source's config_handler.py DEFAULT_CONFIG behavior
// for --create_config.
func WriteDefault(path string) (err kv.Error) {
	contents := strings.TrimLeft(`
# Training supervisor configuration.  Sections mirror the ones documented
# in the supervisor's configuration file format.

[general]
check_interval = 30
max_training_process = 1
auto_continue = true

[gpu]
enable_gpu_assignment = true
default_gpu = "0"
gpu_list = []
use_process_order = true
allow_multi_gpu = false

[environment]
setup_script = ""
use_conda = false
conda_env = ""

[wandb]
api_key = ""
entity = ""
project = ""

[email]
enabled = false

[notification]
desktop_enabled = true
sound_enabled = false
`, "\n")

	return writeFile(path, contents)
}

func writeFile(path, contents string) (err kv.Error) {
	if errGo := os.WriteFile(path, []byte(contents), 0644); errGo != nil {
		return kv.Wrap(errGo).With("path", path).With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}
