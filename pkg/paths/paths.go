package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables consumed in container mode.
const (
	EnvInContainer   = "FDE_IN_CONTAINER"
	EnvHostConfigDir = "FDE_HOST_CONFIG_DIR"
	EnvSSHHost       = "FDE_SSH_HOST"
	EnvSSHUser       = "FDE_SSH_USER"
	EnvSSHPort       = "FDE_SSH_PORT"
)

// ContainerAnchor is where the config and data live inside the container.
const ContainerAnchor = "/app"

// SSHKeyPath is the fixed location of the deploy key inside the container.
const SSHKeyPath = "/root/.ssh/fde_deploy_key"

// SSHConfig describes the host reached from inside the container.
type SSHConfig struct {
	Host string
	User string
	Port string
}

// Context carries both path anchors plus the container flag. Data paths
// resolve against the container-side anchor; command working directories
// resolve against the host-side config directory. Keeping both in one
// struct keeps that split explicit.
type Context struct {
	ConfigDir     string // directory containing the loaded config file
	HostConfigDir string // host-side config dir, container mode only
	IsContainer   bool
	SSH           SSHConfig
}

// Command is a prepared subprocess invocation: pure data, no process state.
type Command struct {
	Name string
	Args []string
	Dir  string
}

// containerMarkers are well-known files whose presence means we are
// running inside a container.
var containerMarkers = []string{"/.dockerenv", "/run/.containerenv"}

// InContainer reports whether the server runs inside a container.
func InContainer() bool {
	if os.Getenv(EnvInContainer) == "1" {
		return true
	}
	for _, marker := range containerMarkers {
		if _, err := os.Stat(marker); err == nil {
			return true
		}
	}
	return false
}

// DetectContext builds a Context for the given config file path. In
// container mode the host config directory is mandatory; its absence is a
// fatal configuration error.
func DetectContext(configPath string) (*Context, error) {
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	ctx := &Context{
		ConfigDir:   filepath.Dir(absConfig),
		IsContainer: InContainer(),
	}

	if ctx.IsContainer {
		hostDir := os.Getenv(EnvHostConfigDir)
		if hostDir == "" {
			return nil, fmt.Errorf("%s must be set when running in a container", EnvHostConfigDir)
		}
		ctx.HostConfigDir = hostDir
		ctx.SSH = SSHConfig{
			Host: os.Getenv(EnvSSHHost),
			User: os.Getenv(EnvSSHUser),
			Port: os.Getenv(EnvSSHPort),
		}
		if ctx.SSH.Host == "" {
			return nil, fmt.Errorf("%s must be set when running in a container", EnvSSHHost)
		}
		if ctx.SSH.User == "" {
			return nil, fmt.Errorf("%s must be set when running in a container", EnvSSHUser)
		}
		if ctx.SSH.Port == "" {
			ctx.SSH.Port = "22"
		}
	}

	return ctx, nil
}

// ResolveDataPath makes a config path absolute. Absolute paths pass
// through unchanged. Relative paths resolve against the container anchor
// in container mode, else against the config directory.
func (c *Context) ResolveDataPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if c.IsContainer {
		return filepath.Join(ContainerAnchor, path)
	}
	return filepath.Join(c.ConfigDir, path)
}

// ResolveCommandCwd decides the working directory for a deploy command.
// All commands run in the config directory; in container mode that is the
// host-side config directory, the one visible to the shell reached over
// SSH. The command string itself is never rewritten, so relative
// arguments resolve identically in both modes.
func (c *Context) ResolveCommandCwd(command string) (string, string) {
	if c.IsContainer {
		return command, c.HostConfigDir
	}
	return command, c.ConfigDir
}

// isScriptPath reports whether a deploy command is a bare script path
// rather than a shell pipeline.
func isScriptPath(command string) bool {
	if strings.ContainsAny(command, " \t") {
		return false
	}
	return strings.HasPrefix(command, "./") ||
		strings.HasPrefix(command, "../") ||
		filepath.IsAbs(command)
}

// PrepareDeployCommand turns a resolved deploy command into a runnable
// invocation. Native mode wraps the command in a shell with the config
// directory as cwd. Container mode composes an SSH invocation against the
// host; the remote command first ensures the upload path exists, then
// changes into the host config directory (or the script's own directory
// for bare script commands) before running.
func (c *Context) PrepareDeployCommand(deployCommand, uploadPath string) Command {
	command, cwd := c.ResolveCommandCwd(deployCommand)

	if !c.IsContainer {
		return Command{
			Name: "/bin/sh",
			Args: []string{"-c", command},
			Dir:  cwd,
		}
	}

	var remote string
	if isScriptPath(command) {
		scriptDir := filepath.Dir(command)
		if !filepath.IsAbs(scriptDir) {
			scriptDir = filepath.Join(cwd, scriptDir)
		}
		remote = fmt.Sprintf("mkdir -p '%s' && cd '%s' && ./%s",
			uploadPath, scriptDir, filepath.Base(command))
	} else {
		remote = fmt.Sprintf("mkdir -p '%s' && cd '%s' && %s", uploadPath, cwd, command)
	}

	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "IdentitiesOnly=yes",
		"-o", "LogLevel=ERROR",
		"-i", SSHKeyPath,
		"-p", c.SSH.Port,
		fmt.Sprintf("%s@%s", c.SSH.User, c.SSH.Host),
		remote,
	}

	return Command{Name: "ssh", Args: args}
}
