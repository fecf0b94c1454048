package main

import (
	"fmt"
	"os"

	"github.com/fde-io/fde/pkg/client"
	"github.com/fde-io/fde/pkg/config"
	"github.com/fde-io/fde/pkg/log"
	"github.com/fde-io/fde/pkg/metrics"
	"github.com/fde-io/fde/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fde",
	Short: "fde - push-based deployment over HTTP",
	Long: `fde pushes a local build artifact to a remote fde server over
resumable chunked HTTP uploads and runs the configured deploy command
there, streaming its output back live.

One binary serves both roles: 'fde server start' on the target host,
'fde deploy' from the developer machine or CI.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := log.InfoLevel
		if verbose {
			level = log.DebugLevel
		}
		log.Init(log.Config{Level: level, JSONOutput: false, Output: os.Stderr})
		metrics.SetVersion(Version)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fde version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fde.yml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
}

// clientFor loads the config and builds a client for the named
// environment.
func clientFor(envName string) (*client.Client, *types.Environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	env, err := cfg.Environment(envName)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.New(env)
	if err != nil {
		return nil, nil, err
	}
	return c, env, nil
}

var deployCmd = &cobra.Command{
	Use:   "deploy ENV",
	Short: "Push the artifact and run the deploy command",
	Long: `Build (if buildCommand is set), push the environment's localPath to
the server, then trigger the deploy command and stream its output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noStream, _ := cmd.Flags().GetBool("no-stream")
		skipBuild, _ := cmd.Flags().GetBool("skip-build")
		noProgress, _ := cmd.Flags().GetBool("no-progress")

		c, env, err := clientFor(args[0])
		if err != nil {
			return err
		}
		c.Progress = !noProgress

		if !skipBuild {
			if err := c.RunBuild(); err != nil {
				return err
			}
		}

		if env.LocalPath == "" {
			return fmt.Errorf("no localPath configured for environment %q", env.Name)
		}
		resp, err := c.Push()
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		fmt.Printf("✓ Uploaded %s (%d bytes)\n", resp.FileName, resp.FileSize)

		if noStream {
			return runSyncDeploy(c)
		}
		return runStreamedDeploy(c)
	},
}

func runSyncDeploy(c *client.Client) error {
	resp, err := c.DeploySync()
	if err != nil {
		if apiErr, ok := err.(*client.APIError); ok && apiErr.Body.Error == "deploy command failed" {
			fmt.Print(apiErr.Body.Stdout)
			fmt.Fprint(os.Stderr, apiErr.Body.Stderr)
			return fmt.Errorf("deploy failed with exit code %d", apiErr.Body.ExitCode)
		}
		return err
	}
	fmt.Print(resp.Stdout)
	fmt.Fprint(os.Stderr, resp.Stderr)
	fmt.Println("✓ Deploy succeeded")
	return nil
}

func runStreamedDeploy(c *client.Client) error {
	outcome, err := c.DeployStream(func(stream, line string) {
		if stream == types.StreamStderr {
			fmt.Fprint(os.Stderr, line)
			return
		}
		fmt.Print(line)
	})
	if err != nil {
		return err
	}
	if !outcome.Success {
		if outcome.Stdout != "" {
			fmt.Print(outcome.Stdout)
		}
		if outcome.Stderr != "" {
			fmt.Fprint(os.Stderr, outcome.Stderr)
		}
		if outcome.Err != "" {
			return fmt.Errorf("deploy failed: %s", outcome.Err)
		}
		return fmt.Errorf("deploy failed with exit code %d", outcome.ExitCode)
	}
	fmt.Println("✓ Deploy succeeded")
	return nil
}

var pushCmd = &cobra.Command{
	Use:   "push ENV",
	Short: "Push the artifact without deploying",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noProgress, _ := cmd.Flags().GetBool("no-progress")

		c, env, err := clientFor(args[0])
		if err != nil {
			return err
		}
		c.Progress = !noProgress

		if env.LocalPath == "" {
			return fmt.Errorf("no localPath configured for environment %q", env.Name)
		}
		resp, err := c.Push()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Uploaded %s (%d bytes) to %s\n", resp.FileName, resp.FileSize, resp.UploadPath)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify ENV",
	Short: "Check that the environment and token are accepted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := clientFor(args[0])
		if err != nil {
			return err
		}
		resp, err := c.Verify()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Environment %q verified\n", resp.Env)
		return nil
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping ENV",
	Short: "Check server reachability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, env, err := clientFor(args[0])
		if err != nil {
			return err
		}
		if err := c.Ping(); err != nil {
			return err
		}
		fmt.Printf("✓ %s is reachable\n", env.ServerURL)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health ENV",
	Short: "Show server health",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := clientFor(args[0])
		if err != nil {
			return err
		}
		h, err := c.Health()
		if err != nil {
			return err
		}
		fmt.Printf("Status:  %s\nVersion: %s\nUptime:  %s\n", h.Status, h.Version, h.Uptime)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status ENV",
	Short: "Show the last or running deploy for an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := clientFor(args[0])
		if err != nil {
			return err
		}
		s, err := c.DeployStatus()
		if err != nil {
			return err
		}
		if s.Running {
			fmt.Printf("Deploy running since %s (%d events buffered)\n",
				s.StartTime.Format("15:04:05"), s.BufferedCount)
			return nil
		}
		if s.LastResult == nil {
			fmt.Println("No deploy recorded")
			return nil
		}
		outcome := "succeeded"
		if !s.LastResult.Success {
			outcome = fmt.Sprintf("failed (exit %d)", s.LastResult.ExitCode)
		}
		fmt.Printf("Last deploy %s at %s\n", outcome,
			s.LastResult.EndTime.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	deployCmd.Flags().Bool("no-stream", false, "Wait for completion instead of streaming output")
	deployCmd.Flags().Bool("skip-build", false, "Skip the buildCommand step")
	deployCmd.Flags().Bool("no-progress", false, "Disable progress bars")
	pushCmd.Flags().Bool("no-progress", false, "Disable progress bars")
}
