package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// build info set by goreleaser
var (
	Version = "unknown"
	Commit  = "unknown"
)

// EnvPrefix is the prefix for environment variables overriding config keys,
// e.g. TRANSCRIBE_DOCKER_IMAGE for docker.image.
const EnvPrefix = "TRANSCRIBE"

// ModelDirEnv overrides the local model cache directory.
const ModelDirEnv = "WHISPER_MODEL_DIR"

// Config holds the application settings.
type Config struct {
	Output   OutputConfig   `mapstructure:"output"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Log      LogConfig      `mapstructure:"log"`
	Local    LocalConfig    `mapstructure:"local"`
	Docker   DockerConfig   `mapstructure:"docker"`
	API      APIConfig      `mapstructure:"api"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	EnvFile  string         `mapstructure:"env_file"`
}

// OutputConfig configures the output tree.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// DefaultsConfig holds request defaults applied when flags are omitted.
type DefaultsConfig struct {
	Model    string        `mapstructure:"model"`
	Language string        `mapstructure:"language"`
	Method   string        `mapstructure:"method"`
	Formats  []string      `mapstructure:"formats"`
	Mode     string        `mapstructure:"mode"`
	Task     string        `mapstructure:"task"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LocalConfig configures the locally installed whisper.cpp engine.
type LocalConfig struct {
	Binary        string `mapstructure:"binary"`
	FFmpeg        string `mapstructure:"ffmpeg"`
	ModelDir      string `mapstructure:"model_dir"`
	AllowDownload bool   `mapstructure:"allow_download"`
	DownloadURL   string `mapstructure:"download_url"`
	Threads       int    `mapstructure:"threads"`
}

// DockerConfig configures the containerized backend.
type DockerConfig struct {
	Host        string `mapstructure:"host"`
	Image       string `mapstructure:"image"`
	FasterImage string `mapstructure:"faster_image"`
	Faster      bool   `mapstructure:"faster"`
	GPU         bool   `mapstructure:"gpu"`
	AllowPull   bool   `mapstructure:"allow_pull"`
	StderrTail  int    `mapstructure:"stderr_tail"`
}

// APIConfig configures the cloud vendors.
type APIConfig struct {
	Vendor         string        `mapstructure:"vendor"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	OpenAI         VendorConfig  `mapstructure:"openai"`
	Groq           VendorConfig  `mapstructure:"groq"`
	AWS            AWSConfig     `mapstructure:"aws"`
}

// VendorConfig configures an OpenAI-compatible vendor.
type VendorConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// AWSConfig configures the Amazon Transcribe vendor.
type AWSConfig struct {
	Region             string        `mapstructure:"region"`
	Bucket             string        `mapstructure:"bucket"`
	SpeakerDiarization bool          `mapstructure:"speaker_diarization"`
	MaxSpeakers        int           `mapstructure:"max_speakers"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
}

// RedisConfig configures the job queue.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Queue        string        `mapstructure:"queue"`
	ResultPrefix string        `mapstructure:"result_prefix"`
	ResultTTL    time.Duration `mapstructure:"result_ttl"`
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	Dir    string        `mapstructure:"dir"`
	Settle time.Duration `mapstructure:"settle"`
}

// MetricsConfig configures the prometheus endpoint of long-running commands.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// CleanupConfig configures scheduled pruning of non-archival outputs.
type CleanupConfig struct {
	Schedule  string        `mapstructure:"schedule"`
	OlderThan time.Duration `mapstructure:"older_than"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("output.dir", "output")

	v.SetDefault("defaults.model", "small")
	v.SetDefault("defaults.language", "en")
	v.SetDefault("defaults.method", "auto")
	v.SetDefault("defaults.formats", []string{"txt"})
	v.SetDefault("defaults.mode", "production")
	v.SetDefault("defaults.task", "transcribe")
	v.SetDefault("defaults.timeout", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("local.binary", "whisper-cli")
	v.SetDefault("local.ffmpeg", "ffmpeg")
	v.SetDefault("local.model_dir", defaultModelDir())
	v.SetDefault("local.allow_download", true)
	v.SetDefault("local.download_url", "https://huggingface.co/ggerganov/whisper.cpp/resolve/main")
	v.SetDefault("local.threads", 0)

	v.SetDefault("docker.host", "")
	v.SetDefault("docker.image", "whisper-local:latest")
	v.SetDefault("docker.faster_image", "faster-whisper:latest")
	v.SetDefault("docker.faster", false)
	v.SetDefault("docker.gpu", false)
	v.SetDefault("docker.allow_pull", false)
	v.SetDefault("docker.stderr_tail", 20)

	v.SetDefault("api.vendor", "auto")
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.initial_backoff", time.Second)
	v.SetDefault("api.max_backoff", 30*time.Second)
	v.SetDefault("api.probe_timeout", 3*time.Second)
	v.SetDefault("api.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("api.openai.model", "whisper-1")
	v.SetDefault("api.groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("api.groq.model", "whisper-large-v3")
	v.SetDefault("api.aws.region", "us-east-1")
	v.SetDefault("api.aws.bucket", "")
	v.SetDefault("api.aws.speaker_diarization", false)
	v.SetDefault("api.aws.max_speakers", 10)
	v.SetDefault("api.aws.poll_interval", 10*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue", "whisper:jobs")
	v.SetDefault("redis.result_prefix", "whisper:result:")
	v.SetDefault("redis.result_ttl", time.Hour)

	v.SetDefault("watch.dir", "input")
	v.SetDefault("watch.settle", 2*time.Second)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("cleanup.schedule", "")
	v.SetDefault("cleanup.older_than", 24*time.Hour)

	v.SetDefault("env_file", ".env")
}

// New returns a viper instance with defaults, config file search paths and
// environment binding applied. The config file is read when present.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("transcribe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "transcribe"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if dir := os.Getenv(ModelDirEnv); dir != "" {
		cfg.Local.ModelDir = dir
	}
	cfg.Local.ModelDir = expandTilde(cfg.Local.ModelDir)
	cfg.Output.Dir = expandTilde(cfg.Output.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be trace, debug, info, warn, or error, got %q", c.Log.Level)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be \"console\" or \"json\", got %q", c.Log.Format)
	}

	switch c.API.Vendor {
	case "auto", "openai", "groq", "aws":
	default:
		return fmt.Errorf("api.vendor must be auto, openai, groq, or aws, got %q", c.API.Vendor)
	}

	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0")
	}
	if c.Docker.StderrTail < 0 {
		return fmt.Errorf("docker.stderr_tail must be >= 0")
	}
	return nil
}

// VersionString returns the build information.
func VersionString() string {
	commit := Commit
	if len(commit) >= 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("Version: %s\nCommit: %s\n", Version, commit)
}

func defaultModelDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cache", "whisper")
	}
	return filepath.Join(home, ".cache", "whisper")
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
