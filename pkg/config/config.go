package config

import (
	"fmt"
	"os"

	"github.com/fde-io/fde/pkg/paths"
	"github.com/fde-io/fde/pkg/types"
	"gopkg.in/yaml.v3"
)

// rawEnvironment mirrors one environment entry in the YAML file before
// resolution.
type rawEnvironment struct {
	ServerURL     string   `yaml:"serverUrl"`
	Token         string   `yaml:"token"`
	LocalPath     string   `yaml:"localPath"`
	UploadPath    string   `yaml:"uploadPath"`
	DeployCommand string   `yaml:"deployCommand"`
	BuildCommand  string   `yaml:"buildCommand"`
	Exclude       []string `yaml:"exclude"`
}

// rawConfig mirrors the YAML file as written by the operator.
type rawConfig struct {
	ServerURL    string                    `yaml:"serverUrl"`
	Token        string                    `yaml:"token"`
	Environments map[string]rawEnvironment `yaml:"environments"`
}

// Config is the resolved configuration: absolute paths, token and
// serverUrl fallbacks applied. It is pure data.
type Config struct {
	Path         string
	Environments map[string]*types.Environment
	Paths        *paths.Context
}

// Load reads, parses and resolves the configuration file at path. Every
// environment must end up with a token (environment-level, else
// top-level); anything else is a fatal configuration error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(raw.Environments) == 0 {
		return nil, fmt.Errorf("config defines no environments")
	}

	pathCtx, err := paths.DetectContext(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Path:         path,
		Environments: make(map[string]*types.Environment, len(raw.Environments)),
		Paths:        pathCtx,
	}

	for name, re := range raw.Environments {
		env := &types.Environment{
			Name:          name,
			ServerURL:     re.ServerURL,
			Token:         re.Token,
			DeployCommand: re.DeployCommand,
			BuildCommand:  re.BuildCommand,
			Exclude:       re.Exclude,
		}

		// Environment-level values win; top-level values are the fallback.
		if env.Token == "" {
			env.Token = raw.Token
		}
		if env.Token == "" {
			return nil, fmt.Errorf("no token configured for environment %q", name)
		}
		if env.ServerURL == "" {
			env.ServerURL = raw.ServerURL
		}

		if re.LocalPath != "" {
			env.LocalPath = pathCtx.ResolveDataPath(re.LocalPath)
		}
		if re.UploadPath != "" {
			env.UploadPath = pathCtx.ResolveDataPath(re.UploadPath)
		}

		cfg.Environments[name] = env
	}

	return cfg, nil
}

// Environment returns the named environment or an error suitable for
// surfacing to clients.
func (c *Config) Environment(name string) (*types.Environment, error) {
	env, ok := c.Environments[name]
	if !ok {
		return nil, fmt.Errorf("unknown environment: %s", name)
	}
	return env, nil
}

// ConfigDir returns the directory containing the config file.
func (c *Config) ConfigDir() string {
	return c.Paths.ConfigDir
}
