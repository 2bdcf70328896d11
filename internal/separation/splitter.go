package separation

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"songconvert/internal/config"
	"songconvert/internal/deps"
	"songconvert/internal/fileutil"
	"songconvert/internal/logging"
	"songconvert/internal/services"
	"songconvert/internal/song"
	"songconvert/internal/stage"
)

const (
	stageName = "split"

	vocalsSuffix       = " [VOC].mp3"
	instrumentalSuffix = " [INSTR].mp3"
	demucsVocals       = "vocals.mp3"
	demucsInstrumental = "no_vocals.mp3"
	outputTailLimit    = 2048
)

// Splitter runs demucs for one song folder.
type Splitter struct {
	binary string
	model  string
	logger *slog.Logger
}

// NewSplitter builds the split stage handler.
func NewSplitter(cfg *config.Config, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Splitter{
		binary: cfg.Split.DemucsBinary,
		model:  cfg.Split.Model,
		logger: logging.NewComponentLogger(logger, "separation"),
	}
}

// Outputs returns the derived asset paths for a song.
func Outputs(s *song.Song) (vocals, instrumental string) {
	base := s.CommonName()
	return filepath.Join(s.Folder(), base+vocalsSuffix), filepath.Join(s.Folder(), base+instrumentalSuffix)
}

// Execute separates the song's primary audio. It is a no-op when both derived
// tracks already exist.
func (sp *Splitter) Execute(ctx context.Context, location string) error {
	logger := logging.WithContext(ctx, sp.logger)

	meta, err := song.Load(location)
	if err != nil {
		return err
	}
	vocals, instrumental := Outputs(meta)
	if fileutil.Exists(vocals) && fileutil.Exists(instrumental) {
		logger.Info("vocals and instrumental already present",
			logging.String(logging.FieldEventType, "split_skipped"),
			logging.String("song", meta.CommonName()),
		)
		return nil
	}

	audioName, err := meta.PrimaryAudio()
	if err != nil {
		return err
	}
	audioPath := filepath.Join(meta.Folder(), audioName)
	if !fileutil.Exists(audioPath) {
		return services.Wrap(services.ErrNotFound, stageName, "locate audio", audioPath, nil)
	}

	modelDir := filepath.Join(meta.Folder(), sp.model)
	start := time.Now()
	if err := sp.runDemucs(ctx, logger, audioPath, meta.Folder()); err != nil {
		_ = os.RemoveAll(modelDir)
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(audioName), filepath.Ext(audioName))
	separated := filepath.Join(modelDir, stem)
	moves := []struct {
		src string
		dst string
		tag string
	}{
		{src: filepath.Join(separated, demucsVocals), dst: vocals, tag: song.TagVocals},
		{src: filepath.Join(separated, demucsInstrumental), dst: instrumental, tag: song.TagInstrumental},
	}
	for _, move := range moves {
		if !fileutil.Exists(move.src) {
			return services.Wrap(services.ErrExternalTool, stageName, "collect output",
				fmt.Sprintf("demucs did not produce %s", move.src), nil)
		}
		if err := fileutil.MoveFile(move.src, move.dst); err != nil {
			return services.Wrap(services.ErrTransient, stageName, "move output", move.dst, err)
		}
		meta.Set(move.tag, filepath.Base(move.dst))
		if err := meta.Flush(); err != nil {
			return services.Wrap(services.ErrTransient, stageName, "write metadata", meta.Path(), err)
		}
	}

	if err := os.RemoveAll(modelDir); err != nil {
		logging.WarnWithContext(logger, "failed to remove demucs output folder", "split_cleanup_failed",
			logging.String("path", modelDir),
			logging.String(logging.FieldErrorHint, "remove the folder manually"),
			logging.String(logging.FieldImpact, "leftover demucs files in song folder"),
			logging.Error(err),
		)
	}
	logger.Info("vocals and instrumental created",
		logging.String(logging.FieldEventType, "split_created"),
		logging.String("song", meta.CommonName()),
		logging.String("model", sp.model),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (sp *Splitter) runDemucs(ctx context.Context, logger *slog.Logger, audioPath, outDir string) error {
	args := []string{"--mp3", "--two-stems=vocals", "-n", sp.model, audioPath, "-o", outDir}
	logger.Debug("running demucs", logging.String("binary", sp.binary), logging.Any("args", args))

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, sp.binary, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "demucs", tail(output.String()), err)
	}
	return nil
}

// HealthCheck reports whether the demucs binary resolves.
func (sp *Splitter) HealthCheck(context.Context) stage.Health {
	status := deps.CheckBinary(deps.Requirement{Name: "demucs", Command: sp.binary})
	if !status.Available {
		return stage.Unhealthy(stageName, status.Detail)
	}
	return stage.Healthy(stageName)
}

func tail(output string) string {
	output = strings.TrimSpace(output)
	if len(output) > outputTailLimit {
		output = "..." + output[len(output)-outputTailLimit:]
	}
	return output
}
