package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattsolo1/tuxplan/pkg/orchestration"
	"github.com/mattsolo1/tuxplan/pkg/tuxapi"
	"gopkg.in/yaml.v3"
)

//go:generate sh -c "cd .. && go run ./tools/schema-generator/"

// Config holds the API endpoint, credentials and watch settings.
type Config struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	Group        string        `yaml:"group"`
	Project      string        `yaml:"project"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

const localConfigFile = "tuxplan.yml"

// globalConfigPath returns $XDG_CONFIG_HOME/tuxplan/config.yml.
func globalConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tuxplan", "config.yml"), nil
}

// loadConfig builds the effective configuration. With an explicit path
// only that file is read. Otherwise the global file is read and then the
// project-local tuxplan.yml, later values winning. Environment variables
// override both.
func loadConfig(explicit string) (*Config, error) {
	cfg := &Config{
		URL:          tuxapi.DefaultBaseURL,
		PollInterval: orchestration.DefaultPollInterval,
	}

	if explicit != "" {
		if err := mergeConfigFile(cfg, explicit, false); err != nil {
			return nil, err
		}
	} else {
		if global, err := globalConfigPath(); err == nil {
			if err := mergeConfigFile(cfg, global, true); err != nil {
				return nil, err
			}
		}
		if err := mergeConfigFile(cfg, localConfigFile, true); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func mergeConfigFile(cfg *Config, path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if file.URL != "" {
		cfg.URL = file.URL
	}
	if file.Token != "" {
		cfg.Token = file.Token
	}
	if file.Group != "" {
		cfg.Group = file.Group
	}
	if file.Project != "" {
		cfg.Project = file.Project
	}
	if file.PollInterval != 0 {
		cfg.PollInterval = file.PollInterval
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TUXSUITE_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("TUXSUITE_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("TUXSUITE_GROUP"); v != "" {
		cfg.Group = v
	}
	if v := os.Getenv("TUXSUITE_PROJECT"); v != "" {
		cfg.Project = v
	}
}

// validateAPI checks the settings every API call needs.
func (c *Config) validateAPI() error {
	var missing []string
	if c.Token == "" {
		missing = append(missing, "token (TUXSUITE_TOKEN)")
	}
	if c.Group == "" {
		missing = append(missing, "group (TUXSUITE_GROUP)")
	}
	if c.Project == "" {
		missing = append(missing, "project (TUXSUITE_PROJECT)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %v", missing)
	}
	return nil
}

// redacted returns a copy safe to print.
func (c Config) redacted() Config {
	if len(c.Token) > 4 {
		c.Token = c.Token[:4] + "****"
	} else if c.Token != "" {
		c.Token = "****"
	}
	return c
}
