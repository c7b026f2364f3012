package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Audio       AudioConfig       `yaml:"audio"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Generation  GenerationConfig  `yaml:"generation"`
	Editor      EditorConfig      `yaml:"editor"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	Control     ControlConfig     `yaml:"control"`
	Log         LogConfig         `yaml:"log"`
}

type AudioConfig struct {
	Source       string `yaml:"source"`
	SampleRate   int    `yaml:"sample_rate"`
	FrameSamples int    `yaml:"frame_samples"`
	FilePath     string `yaml:"file_path"`
	Realtime     bool   `yaml:"realtime"`
	HTTPAddr     string `yaml:"http_addr"`
	AuthToken    string `yaml:"auth_token"`
	// CaptureBuffer is how much microphone audio is held while recognition
	// is busy with a segment.
	CaptureBuffer time.Duration `yaml:"capture_buffer"`
}

type RecognitionConfig struct {
	Engine    string          `yaml:"engine"`
	VoskURL   string          `yaml:"vosk_url"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
}

type WhisperConfig struct {
	APIKey   string `yaml:"api_key"`
	Language string `yaml:"language"`
	BaseURL  string `yaml:"base_url"`
}

type SegmenterConfig struct {
	SilenceThreshold int           `yaml:"silence_threshold"`
	SilenceDuration  time.Duration `yaml:"silence_duration"`
	MinSpeech        time.Duration `yaml:"min_speech"`
	MaxSegment       time.Duration `yaml:"max_segment"`
}

type GenerationConfig struct {
	Provider    string            `yaml:"provider"`
	Model       string            `yaml:"model"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature *float64          `yaml:"temperature"`
	Language    string            `yaml:"language"`
	BaseURL     string            `yaml:"base_url"`
	APIKeys     map[string]string `yaml:"api_keys"`
}

type EditorConfig struct {
	Mode  string `yaml:"mode"`
	Path  string `yaml:"path"`
	Caret string `yaml:"caret"`
}

type SecretsConfig struct {
	Path string `yaml:"path"`
}

type ControlConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var providers = map[string]bool{"openai": true, "anthropic": true, "gemini": true}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Audio.Source == "" {
		c.Audio.Source = "microphone"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FrameSamples == 0 {
		c.Audio.FrameSamples = 1024
	}
	if c.Audio.HTTPAddr == "" {
		c.Audio.HTTPAddr = ":8080"
	}
	if c.Audio.CaptureBuffer == 0 {
		c.Audio.CaptureBuffer = 40 * time.Second
	}
	if c.Recognition.Engine == "" {
		c.Recognition.Engine = "whisper"
	}
	if c.Recognition.VoskURL == "" {
		c.Recognition.VoskURL = "ws://localhost:2700"
	}
	if c.Recognition.Whisper.Language == "" {
		c.Recognition.Whisper.Language = "en"
	}
	if c.Recognition.Segmenter.SilenceThreshold == 0 {
		c.Recognition.Segmenter.SilenceThreshold = 500
	}
	if c.Recognition.Segmenter.SilenceDuration == 0 {
		c.Recognition.Segmenter.SilenceDuration = time.Second
	}
	if c.Recognition.Segmenter.MinSpeech == 0 {
		c.Recognition.Segmenter.MinSpeech = 300 * time.Millisecond
	}
	if c.Recognition.Segmenter.MaxSegment == 0 {
		c.Recognition.Segmenter.MaxSegment = 10 * time.Second
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = "openai"
	}
	if c.Generation.Temperature == nil {
		temperature := 0.4
		c.Generation.Temperature = &temperature
	}
	if c.Generation.APIKeys == nil {
		c.Generation.APIKeys = make(map[string]string)
	}
	if c.Editor.Mode == "" {
		c.Editor.Mode = "clipboard"
	}
	if c.Editor.Caret == "" {
		c.Editor.Caret = "end"
	}
	if c.Secrets.Path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		c.Secrets.Path = filepath.Join(dir, "voice-code", "secrets.yaml")
	}
	if c.Control.Addr == "" {
		c.Control.Addr = "127.0.0.1:7655"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Audio.Source {
	case "microphone", "http":
	case "file":
		if c.Audio.FilePath == "" {
			return fmt.Errorf("audio.file_path is required for the file source")
		}
	default:
		return fmt.Errorf("unknown audio.source %q", c.Audio.Source)
	}

	switch c.Recognition.Engine {
	case "whisper", "vosk":
	default:
		return fmt.Errorf("unknown recognition.engine %q", c.Recognition.Engine)
	}

	if !providers[c.Generation.Provider] {
		return fmt.Errorf("unknown generation.provider %q", c.Generation.Provider)
	}
	for name := range c.Generation.APIKeys {
		if !providers[name] {
			return fmt.Errorf("generation.api_keys: unknown provider %q", name)
		}
	}

	switch c.Editor.Mode {
	case "clipboard":
	case "file":
		if c.Editor.Path == "" {
			return fmt.Errorf("editor.path is required for the file editor")
		}
	default:
		return fmt.Errorf("unknown editor.mode %q", c.Editor.Mode)
	}

	return nil
}

// ChangedKeys lists the provider keys that are set in next and differ from
// prev. Removing a key from the file does not delete the stored one.
func ChangedKeys(prev, next *Config) map[string]string {
	changed := make(map[string]string)
	for name, value := range next.Generation.APIKeys {
		if value == "" {
			continue
		}
		if prev != nil && prev.Generation.APIKeys[name] == value {
			continue
		}
		changed[name] = value
	}
	return changed
}
