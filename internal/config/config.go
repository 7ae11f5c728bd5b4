package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration. Values come from defaults, an
// optional config/settings.yaml, and VIDINSIGHTS_* env overrides, in that
// order of precedence (lowest first).
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Models   ModelsConfig   `mapstructure:"models"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Retry    RetryConfig    `mapstructure:"retry"`
}

// GatewayConfig points at the AI gateway endpoints.
type GatewayConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	APIKey           string  `mapstructure:"api_key"`
	FaceDetectionURL string  `mapstructure:"face_detection_url"`
	TimeoutSec       int     `mapstructure:"timeout_sec"`
	RequestsPerSec   float64 `mapstructure:"requests_per_sec"`
}

// ModelsConfig names the model used at each call site.
type ModelsConfig struct {
	Transcription  string `mapstructure:"transcription"`
	Caption        string `mapstructure:"caption"`
	Topics         string `mapstructure:"topics"`
	Summary        string `mapstructure:"summary"`
	TextEmbedding  string `mapstructure:"text_embedding"`
	ImageEmbedding string `mapstructure:"image_embedding"`
	FaceDetection  string `mapstructure:"face_detection"`
}

// PipelineConfig holds stage tunables.
type PipelineConfig struct {
	FrameIntervalSec    float64 `mapstructure:"frame_interval_sec"`
	MaxFrames           int     `mapstructure:"max_frames"`
	FrameWorkers        int     `mapstructure:"frame_workers"`
	FaceWorkers         int     `mapstructure:"face_workers"`
	FaceConfidenceMin   float64 `mapstructure:"face_confidence_min"`
	FaceCropPadding     float64 `mapstructure:"face_crop_padding"`
	FaceCropMaxHeight   int     `mapstructure:"face_crop_max_height"`
	FaceDedupWindowSec  float64 `mapstructure:"face_dedup_window_sec"`
	FaceDedupIoU        float64 `mapstructure:"face_dedup_iou"`
	EmbeddingBatchSize  int     `mapstructure:"embedding_batch_size"`
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions"`
	RunTimeoutSec       int     `mapstructure:"run_timeout_sec"`
}

// RetryConfig bounds the remote-call retry behavior.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// Load reads the configuration. Missing settings.yaml is fine; invalid
// values are not.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VIDINSIGHTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := filepath.Clean("./config/settings.yaml")
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		// absent settings.yaml is fine, a broken one is not
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.base_url", "https://api.openai.com/v1")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.face_detection_url", "")
	v.SetDefault("gateway.timeout_sec", 60)
	v.SetDefault("gateway.requests_per_sec", 8.0)

	v.SetDefault("models.transcription", "whisper-1")
	v.SetDefault("models.caption", "gpt-4o-mini")
	v.SetDefault("models.topics", "gpt-4o-mini")
	v.SetDefault("models.summary", "gpt-4o-mini")
	v.SetDefault("models.text_embedding", "embed-text-v3")
	v.SetDefault("models.image_embedding", "embed-image-v3")
	v.SetDefault("models.face_detection", "face-detect-v1")

	v.SetDefault("pipeline.frame_interval_sec", 5.0)
	v.SetDefault("pipeline.max_frames", 20)
	v.SetDefault("pipeline.frame_workers", 6)
	v.SetDefault("pipeline.face_workers", 5)
	v.SetDefault("pipeline.face_confidence_min", 0.80)
	v.SetDefault("pipeline.face_crop_padding", 0.20)
	v.SetDefault("pipeline.face_crop_max_height", 448)
	v.SetDefault("pipeline.face_dedup_window_sec", 10.0)
	v.SetDefault("pipeline.face_dedup_iou", 0.5)
	v.SetDefault("pipeline.embedding_batch_size", 64)
	v.SetDefault("pipeline.embedding_dimensions", 1024)
	v.SetDefault("pipeline.run_timeout_sec", 900)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 10*time.Second)
}

func (c *Config) validate() error {
	if c.Pipeline.FrameIntervalSec <= 0 {
		return fmt.Errorf("pipeline.frame_interval_sec must be positive")
	}
	if c.Pipeline.MaxFrames <= 0 {
		return fmt.Errorf("pipeline.max_frames must be positive")
	}
	if c.Pipeline.FrameWorkers <= 0 || c.Pipeline.FaceWorkers <= 0 {
		return fmt.Errorf("worker pool sizes must be positive")
	}
	if c.Pipeline.FaceConfidenceMin < 0 || c.Pipeline.FaceConfidenceMin > 1 {
		return fmt.Errorf("pipeline.face_confidence_min must be in [0,1]")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	return nil
}
