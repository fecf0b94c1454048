package client

import (
	"fmt"
	"os"
	"os/exec"
)

// RunBuild executes the environment's buildCommand in localPath with
// output attached to the terminal. A missing buildCommand is a no-op.
func (c *Client) RunBuild() error {
	if c.env.BuildCommand == "" {
		return nil
	}

	c.logger.Info().Str("command", c.env.BuildCommand).Msg("running build command")

	cmd := exec.Command("/bin/sh", "-c", c.env.BuildCommand)
	cmd.Dir = c.env.LocalPath
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build command failed: %w", err)
	}
	return nil
}
