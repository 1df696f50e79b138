// Package config loads run settings for the horseshoe command from YAML, TOML
// or JSON files.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/CraigKelly/horseshoe/data"
	"github.com/CraigKelly/horseshoe/sampler"
)

// Data describes where the regression data comes from: File if set,
// otherwise a simulated dataset.
type Data struct {
	N         int     `json:"n" yaml:"n" toml:"n"`
	P         int     `json:"p" yaml:"p" toml:"p"`
	NRelevant int     `json:"n_relevant" yaml:"n_relevant" toml:"n_relevant"`
	NoiseStd  float64 `json:"noise_std" yaml:"noise_std" toml:"noise_std"`
	Seed      int64   `json:"seed" yaml:"seed" toml:"seed"`
	File      string  `json:"file" yaml:"file" toml:"file"`
}

// Config holds everything needed for a fit. Fields missing from a file keep
// their Default values.
type Config struct {
	Draws        int     `json:"draws" yaml:"draws" toml:"draws"`
	Tune         int     `json:"tune" yaml:"tune" toml:"tune"`
	TargetAccept float64 `json:"target_accept" yaml:"target_accept" toml:"target_accept"`
	Chains       int     `json:"chains" yaml:"chains" toml:"chains"`
	Cores        int     `json:"cores" yaml:"cores" toml:"cores"`
	Seed         int64   `json:"seed" yaml:"seed" toml:"seed"`
	MaxTreeDepth int     `json:"max_tree_depth" yaml:"max_tree_depth" toml:"max_tree_depth"`
	KeepWarmup   bool    `json:"keep_warmup" yaml:"keep_warmup" toml:"keep_warmup"`
	Data         Data    `json:"data" yaml:"data" toml:"data"`
	LogLevel     string  `json:"log_level" yaml:"log_level" toml:"log_level"`
	MonitorAddr  string  `json:"monitor_addr" yaml:"monitor_addr" toml:"monitor_addr"`
}

// Default returns the standard settings: 2000 draws after 1000 tuning steps,
// target acceptance 0.9, one chain, and the default simulated dataset.
func Default() Config {
	opts := sampler.DefaultOptions()
	return Config{
		Draws:        opts.Draws,
		Tune:         opts.Tune,
		TargetAccept: opts.TargetAccept,
		Chains:       opts.Chains,
		Cores:        opts.Cores,
		Seed:         opts.Seed,
		MaxTreeDepth: opts.MaxTreeDepth,
		KeepWarmup:   opts.KeepWarmup,
		Data: Data{
			N:         data.DefaultN,
			P:         data.DefaultP,
			NRelevant: data.DefaultRelevant,
			NoiseStd:  data.DefaultNoiseStd,
			Seed:      data.DefaultDataSeed,
		},
		LogLevel: "info",
	}
}

// Load reads a configuration file based on its extension and overlays it on
// Default. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "Could not read config %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, errors.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "Could not parse config %s", path)
	}

	return cfg, cfg.Validate()
}

// Save writes the config in the format given by the file extension
func (c Config) Save(path string) error {
	var b []byte
	var err error

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(c)
	case ".json":
		b, err = json.MarshalIndent(c, "", "  ")
	case ".toml":
		b, err = toml.Marshal(c)
	default:
		return errors.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return errors.Wrap(err, "Could not encode config")
	}

	return errors.Wrapf(os.WriteFile(path, b, 0644), "Could not write config %s", path)
}

// SamplerOptions converts the config to sampler options. Options without a
// config field keep their sampler defaults.
func (c Config) SamplerOptions() sampler.Options {
	opts := sampler.DefaultOptions()
	opts.Draws = c.Draws
	opts.Tune = c.Tune
	opts.TargetAccept = c.TargetAccept
	opts.Chains = c.Chains
	opts.Cores = c.Cores
	opts.Seed = c.Seed
	opts.MaxTreeDepth = c.MaxTreeDepth
	opts.KeepWarmup = c.KeepWarmup
	return opts
}

// Validate checks the sampler settings and the data source
func (c Config) Validate() error {
	if err := c.SamplerOptions().Validate(); err != nil {
		return err
	}

	if c.Data.File == "" {
		d := c.Data
		if d.N < 1 || d.P < 1 || d.NRelevant < 0 || d.NRelevant > d.P || !(d.NoiseStd >= 0) {
			return errors.Wrapf(data.ErrInvalidArgument, "simulated data settings %+v", d)
		}
	}
	return nil
}
