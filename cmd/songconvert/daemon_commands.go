package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"songconvert/internal/daemon"
	"songconvert/internal/daemonctl"
	"songconvert/internal/daemonrun"
	"songconvert/internal/preflight"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var wait bool
	var waitTimeout time.Duration
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon after it finishes the songs already queued",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			sup, err := ctx.supervisor(false)
			if err != nil {
				return err
			}
			err = sup.Stop(cmd.Context())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon stopping; queued songs will finish first")
			if !wait {
				return nil
			}
			if err := waitForExit(cmd.Context(), ctx.configValue().PIDPath(), waitTimeout); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
	stopCmd.Flags().BoolVar(&wait, "wait", false, "Block until the daemon has drained and exited")
	stopCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Minute, "Maximum time to wait with --wait")

	var jsonOutput bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, pipeline, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			sup, err := ctx.supervisor(false)
			if err != nil {
				return err
			}

			snapshot := statusSnapshot{Address: sup.Address()}
			daemonStatus, err := sup.Status(cmd.Context())
			switch {
			case err == nil:
				snapshot.Running = true
				snapshot.Daemon = &daemonStatus
			case errors.Is(err, daemonctl.ErrDaemonNotRunning):
			default:
				return err
			}
			snapshot.Checks = preflight.RunAll(cmd.Context(), cfg)

			if jsonOutput {
				return writeJSON(cmd, snapshot)
			}
			renderStatus(cmd.OutOrStdout(), snapshot, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit status as JSON")

	return []*cobra.Command{stopCmd, statusCmd}
}

type statusSnapshot struct {
	Address string             `json:"address"`
	Running bool               `json:"running"`
	Daemon  *daemon.Status     `json:"daemon,omitempty"`
	Checks  []preflight.Result `json:"checks"`
}

// waitForExit polls until the daemon removes its pid file.
func waitForExit(ctx context.Context, pidPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for daemonrun.ReadPIDFile(pidPath) != 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon still running after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
