package config

const (
	defaultConfigPath           = "~/.config/songconvert/config.toml"
	defaultLogDir               = "~/.local/share/songconvert/logs"
	defaultStateDir             = "~/.local/share/songconvert"
	defaultHost                 = "127.0.0.1"
	defaultPort                 = 6745
	defaultSplitWorkers         = 1
	defaultReencodeWorkers      = 2
	defaultReadTimeoutSeconds   = 10
	defaultPollInitialMillis    = 100
	defaultPollMaxMillis        = 2000
	defaultLaunchTimeoutSeconds = 15
	defaultMaxLaunches          = 2
	defaultDemucsBinary         = "demucs"
	defaultDemucsModel          = "htdemucs_ft"
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultAudioCodec           = "aac"
	defaultVideoCodec           = "hevc_nvenc"
	defaultQuality              = 17
	defaultPreset               = "p7"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultNotifyTimeout        = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Daemon: Daemon{
			Host:               defaultHost,
			Port:               defaultPort,
			SplitWorkers:       defaultSplitWorkers,
			ReencodeWorkers:    defaultReencodeWorkers,
			ReadTimeoutSeconds: defaultReadTimeoutSeconds,
		},
		Client: Client{
			PollInitialMillis:    defaultPollInitialMillis,
			PollMaxMillis:        defaultPollMaxMillis,
			LaunchTimeoutSeconds: defaultLaunchTimeoutSeconds,
			MaxLaunches:          defaultMaxLaunches,
		},
		Split: Split{
			DemucsBinary: defaultDemucsBinary,
			Model:        defaultDemucsModel,
		},
		Reencode: Reencode{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			AudioCodec:    defaultAudioCodec,
			VideoCodec:    defaultVideoCodec,
			Quality:       defaultQuality,
			Preset:        defaultPreset,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
	}
}
