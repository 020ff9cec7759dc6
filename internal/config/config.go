// Package config loads process-wide settings from an optional YAML file and
// environment variables, with environment variables always taking
// precedence (spec §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every env-overridable knob from spec §6.
type Config struct {
	WhisperModelSize string `yaml:"whisperModelSize"`
	WhisperBeamSize  int    `yaml:"whisperBeamSize"`

	CumulativeMaxAudioSeconds       float64 `yaml:"cumulativeMaxAudioSeconds"`
	CumulativeTranscriptionInterval int     `yaml:"cumulativeTranscriptionInterval"`
	CumulativeMinAudioSeconds       float64 `yaml:"cumulativeMinAudioSeconds"`
	CumulativeOverlapSeconds        float64 `yaml:"cumulativeOverlapSeconds"`

	SessionIdleTTLSeconds         int `yaml:"sessionIdleTtlSeconds"`
	EndFinalizationTimeoutSeconds int `yaml:"endFinalizationTimeoutSeconds"`
	PromptMaxChars                int `yaml:"promptMaxChars"`

	ListenAddr        string `yaml:"listenAddr"`
	SampleRate        int    `yaml:"sampleRate"`
	TranscriberSemCap int64  `yaml:"transcriberSemCap"`

	NormalizerProvider  string `yaml:"normalizerProvider"`
	TranslatorProvider  string `yaml:"translatorProvider"`
	TranscriberProvider string `yaml:"transcriberProvider"`
	OpenAIAPIKey        string `yaml:"-"`
	AnthropicAPIKey     string `yaml:"-"`
	GroqAPIKey          string `yaml:"-"`
	WhisperModelPath    string `yaml:"whisperModelPath"`

	AuditDatabaseURL string `yaml:"-"`

	MetricsAddr string `yaml:"metricsAddr"`
}

// Default returns spec §6's documented defaults.
func Default() Config {
	return Config{
		WhisperModelSize: "base",
		WhisperBeamSize:  3,

		CumulativeMaxAudioSeconds:       30,
		CumulativeTranscriptionInterval: 1,
		CumulativeMinAudioSeconds:       1.0,
		CumulativeOverlapSeconds:        5.0,

		SessionIdleTTLSeconds:         1800,
		EndFinalizationTimeoutSeconds: 20,
		PromptMaxChars:                224,

		ListenAddr:        ":8080",
		SampleRate:        16000,
		TranscriberSemCap: 1,

		NormalizerProvider:  "katakana-fold",
		TranslatorProvider:  "",
		TranscriberProvider: "whisper-cpp",

		MetricsAddr: ":9090",
	}
}

// Load builds a Config by layering, in increasing priority: the documented
// defaults, an optional YAML file at yamlPath (skipped if it doesn't
// exist), a .env file in the working directory (via godotenv, best-effort),
// and finally OS environment variables.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: failed to parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: failed to read %s: %w", yamlPath, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		// No .env file present; system environment variables still apply.
	}

	overrideString(&cfg.WhisperModelSize, "WHISPER_MODEL_SIZE")
	overrideInt(&cfg.WhisperBeamSize, "WHISPER_BEAM_SIZE")
	overrideFloat(&cfg.CumulativeMaxAudioSeconds, "CUMULATIVE_MAX_AUDIO_SECONDS")
	overrideInt(&cfg.CumulativeTranscriptionInterval, "CUMULATIVE_TRANSCRIPTION_INTERVAL")
	overrideFloat(&cfg.CumulativeMinAudioSeconds, "CUMULATIVE_MIN_AUDIO_SECONDS")
	overrideFloat(&cfg.CumulativeOverlapSeconds, "CUMULATIVE_OVERLAP_SECONDS")
	overrideInt(&cfg.SessionIdleTTLSeconds, "SESSION_IDLE_TTL_SECONDS")
	overrideInt(&cfg.EndFinalizationTimeoutSeconds, "END_FINALIZATION_TIMEOUT_SECONDS")
	overrideInt(&cfg.PromptMaxChars, "PROMPT_MAX_CHARS")
	overrideString(&cfg.ListenAddr, "LISTEN_ADDR")
	overrideInt(&cfg.SampleRate, "SAMPLE_RATE")
	overrideInt64(&cfg.TranscriberSemCap, "TRANSCRIBER_CONCURRENCY")
	overrideString(&cfg.NormalizerProvider, "NORMALIZER_PROVIDER")
	overrideString(&cfg.TranslatorProvider, "TRANSLATOR_PROVIDER")
	overrideString(&cfg.TranscriberProvider, "TRANSCRIBER_PROVIDER")
	overrideString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	overrideString(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	overrideString(&cfg.GroqAPIKey, "GROQ_API_KEY")
	overrideString(&cfg.WhisperModelPath, "WHISPER_MODEL_PATH")
	overrideString(&cfg.AuditDatabaseURL, "AUDIT_DATABASE_URL")
	overrideString(&cfg.MetricsAddr, "METRICS_ADDR")

	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func overrideFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// SessionIdleTTL returns the idle TTL as a time.Duration.
func (c Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLSeconds) * time.Second
}

// EndFinalizationTimeout returns the finalization deadline as a
// time.Duration.
func (c Config) EndFinalizationTimeout() time.Duration {
	return time.Duration(c.EndFinalizationTimeoutSeconds) * time.Second
}
