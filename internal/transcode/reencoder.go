package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"songconvert/internal/config"
	"songconvert/internal/deps"
	"songconvert/internal/fileutil"
	"songconvert/internal/logging"
	"songconvert/internal/media/ffprobe"
	"songconvert/internal/services"
	"songconvert/internal/song"
	"songconvert/internal/stage"
)

const (
	stageName       = "reencode"
	outputExt       = ".mp4"
	tempPrefix      = ".songconvert-"
	outputTailLimit = 2048
)

// Reencoder runs ffprobe and ffmpeg for one song folder.
type Reencoder struct {
	ffmpeg     string
	ffprobe    string
	audioCodec string
	videoCodec string
	quality    int
	preset     string
	logger     *slog.Logger
}

// NewReencoder builds the reencode stage handler.
func NewReencoder(cfg *config.Config, logger *slog.Logger) *Reencoder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reencoder{
		ffmpeg:     cfg.Reencode.FFmpegBinary,
		ffprobe:    cfg.Reencode.FFprobeBinary,
		audioCodec: cfg.Reencode.AudioCodec,
		videoCodec: cfg.Reencode.VideoCodec,
		quality:    cfg.Reencode.Quality,
		preset:     cfg.Reencode.Preset,
		logger:     logging.NewComponentLogger(logger, "transcode"),
	}
}

// Execute re-encodes the song's video with its primary audio.
func (r *Reencoder) Execute(ctx context.Context, location string) error {
	logger := logging.WithContext(ctx, r.logger)

	meta, err := song.Load(location)
	if err != nil {
		return err
	}
	videoName, _ := meta.Get(song.TagVideo)
	videoPath, ok := meta.Asset(song.TagVideo)
	if !ok || !fileutil.Exists(videoPath) {
		return services.Wrap(services.ErrNotFound, stageName, "locate video",
			fmt.Sprintf("video %q referenced by %s is missing", videoName, filepath.Base(meta.Path())), nil)
	}

	probe, err := ffprobe.Inspect(ctx, r.ffprobe, videoPath)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "ffprobe", filepath.Base(videoPath), err)
	}
	if probe.HasAudioCodec(r.audioCodec) {
		logger.Info("video already up to date",
			logging.String(logging.FieldEventType, "reencode_skipped"),
			logging.String("video", filepath.Base(videoPath)),
			logging.String("audio_codec", r.audioCodec),
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

	id, ok := services.ItemIDFromContext(ctx)
	if !ok {
		id = uuid.NewString()
	}
	tempPath := filepath.Join(meta.Folder(), tempPrefix+id+outputExt)
	start := time.Now()
	logger.Info("reencoding video",
		logging.String(logging.FieldEventType, "reencode_started"),
		logging.String("video", filepath.Base(videoPath)),
		logging.Any("source_audio_codecs", probe.AudioCodecs()),
	)
	if err := r.runFFmpeg(ctx, logger, videoPath, audioPath, tempPath); err != nil {
		_ = os.Remove(tempPath)
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	target := filepath.Join(filepath.Dir(videoPath), stem+outputExt)
	// The rename replaces target in place; the original is only removed once
	// the metadata points at the new file.
	if err := os.Rename(tempPath, target); err != nil {
		_ = os.Remove(tempPath)
		return services.Wrap(services.ErrTransient, stageName, "install output", target, err)
	}

	newName := filepath.ToSlash(filepath.Join(filepath.Dir(filepath.FromSlash(videoName)), stem+outputExt))
	if newName != videoName {
		meta.Set(song.TagVideo, newName)
		if err := meta.Flush(); err != nil {
			return services.Wrap(services.ErrTransient, stageName, "write metadata", meta.Path(), err)
		}
	}
	if target != videoPath {
		if err := os.Remove(videoPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("original video left in place",
				logging.String(logging.FieldEventType, "reencode_cleanup_failed"),
				logging.String("video", filepath.Base(videoPath)),
				logging.String(logging.FieldImpact, "song folder keeps both videos"),
				logging.Error(err),
			)
		}
	}

	logger.Info("video reencoded",
		logging.String(logging.FieldEventType, "reencode_completed"),
		logging.String("video", filepath.Base(target)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (r *Reencoder) runFFmpeg(ctx context.Context, logger *slog.Logger, video, audio, output string) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", r.videoCodec,
		"-c:a", r.audioCodec,
		qualityFlag(r.videoCodec), strconv.Itoa(r.quality),
	}
	if r.preset != "" {
		args = append(args, "-preset", r.preset)
	}
	args = append(args, output)
	logger.Debug("running ffmpeg", logging.String("binary", r.ffmpeg), logging.Any("args", args))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "ffmpeg", tail(stderr.String()), err)
	}
	if !fileutil.Exists(output) {
		return services.Wrap(services.ErrExternalTool, stageName, "ffmpeg", "no output file produced", nil)
	}
	return nil
}

// qualityFlag selects the constant-quality option: NVENC encoders take -cq,
// software encoders -crf.
func qualityFlag(videoCodec string) string {
	if strings.Contains(strings.ToLower(videoCodec), "nvenc") {
		return "-cq"
	}
	return "-crf"
}

// HealthCheck reports whether ffmpeg and ffprobe resolve.
func (r *Reencoder) HealthCheck(context.Context) stage.Health {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "ffmpeg", Command: r.ffmpeg},
		{Name: "ffprobe", Command: r.ffprobe},
	})
	if missing := deps.Missing(statuses); len(missing) > 0 {
		details := make([]string, 0, len(missing))
		for _, m := range missing {
			details = append(details, m.Detail)
		}
		return stage.Unhealthy(stageName, strings.Join(details, "; "))
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
