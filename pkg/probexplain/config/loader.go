package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/cognicore/probexplain/pkg/probexplain/network"
)

// Loader loads the run configuration and the network it names
type Loader struct {
	ConfigPath  string
	NetworkPath string // overrides Config.Network
	EnvFile     string // defaults to .env; a missing file is ignored
}

// Components holds everything a run needs
type Components struct {
	Config  Config
	Network *network.Network
	Source  []byte // raw network document
}

// Load reads configuration, applies environment overrides and parses the
// network file
func (l *Loader) Load() (*Components, error) {
	cfg := Default()
	if l.ConfigPath != "" {
		c, err := LoadConfig(l.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = *c
	}

	env, err := l.environment()
	if err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return nil, err
	}
	if l.NetworkPath != "" {
		cfg.Network = l.NetworkPath
	}

	comp := &Components{Config: cfg}
	if cfg.Network == "" {
		return comp, nil
	}
	src, err := os.ReadFile(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("load network: %w", err)
	}
	n, err := network.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("load network %s: %w", cfg.Network, err)
	}
	comp.Network = n
	comp.Source = src
	return comp, nil
}

// environment merges the env file under the process environment. Process
// variables win.
func (l *Loader) environment() (func(string) (string, bool), error) {
	path := l.EnvFile
	if path == "" {
		path = ".env"
	}
	file, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}, nil
}
