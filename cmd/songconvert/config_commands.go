package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"songconvert/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample songconvert.toml",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("%s exists; pass --overwrite to replace it", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}

			sample, _, _, err := config.Load(target)
			if err != nil {
				return fmt.Errorf("reload sample config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sample songconvert config: %s\n", target)
			fmt.Fprintf(out, "[split]    demucs %s, model %s\n", sample.Split.DemucsBinary, sample.Split.Model)
			fmt.Fprintf(out, "[reencode] ffmpeg %s, ffprobe %s\n", sample.Reencode.FFmpegBinary, sample.Reencode.FFprobeBinary)
			fmt.Fprintf(out, "[daemon]   listening on %s\n", sample.ControlAddress())
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write songconvert.toml")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flagPath string) (string, error) {
	target := strings.TrimSpace(flagPath)
	if target == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return path, nil
	}
	expanded, err := config.ExpandPath(target)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return expanded, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load songconvert.toml and show the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			source := ctx.configPath
			if !ctx.configExists {
				source += " (missing, built-in defaults)"
			}
			rows := [][]string{
				{"file", source},
				{"daemon", fmt.Sprintf("%s, %d split / %d reencode workers", cfg.ControlAddress(), cfg.Daemon.SplitWorkers, cfg.Daemon.ReencodeWorkers)},
				{"split", fmt.Sprintf("%s -n %s", cfg.Split.DemucsBinary, cfg.Split.Model)},
				{"reencode", fmt.Sprintf("%s / %s, audio %s", cfg.Reencode.VideoCodec, cfg.Reencode.Preset, cfg.Reencode.AudioCodec)},
				{"logs", cfg.Paths.LogDir},
				{"state", cfg.Paths.StateDir},
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Section", "Effective value"}, rows, []columnAlignment{alignLeft, alignLeft}))
			fmt.Fprintln(out, "songconvert.toml OK")
			return nil
		},
	}
}
