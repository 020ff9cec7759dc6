package config

import (
	"os"
	"testing"
)

func TestDefaultsMatchSpec(t *testing.T) {
	cfg := Default()
	if cfg.WhisperBeamSize != 3 {
		t.Errorf("WhisperBeamSize = %d, want 3", cfg.WhisperBeamSize)
	}
	if cfg.CumulativeMaxAudioSeconds != 30 {
		t.Errorf("CumulativeMaxAudioSeconds = %v, want 30", cfg.CumulativeMaxAudioSeconds)
	}
	if cfg.CumulativeOverlapSeconds != 5.0 {
		t.Errorf("CumulativeOverlapSeconds = %v, want 5.0", cfg.CumulativeOverlapSeconds)
	}
	if cfg.SessionIdleTTLSeconds != 1800 {
		t.Errorf("SessionIdleTTLSeconds = %d, want 1800", cfg.SessionIdleTTLSeconds)
	}
	if cfg.PromptMaxChars != 224 {
		t.Errorf("PromptMaxChars = %d, want 224", cfg.PromptMaxChars)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	os.Setenv("WHISPER_BEAM_SIZE", "5")
	os.Setenv("CUMULATIVE_MIN_AUDIO_SECONDS", "2.5")
	defer os.Unsetenv("WHISPER_BEAM_SIZE")
	defer os.Unsetenv("CUMULATIVE_MIN_AUDIO_SECONDS")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WhisperBeamSize != 5 {
		t.Errorf("WhisperBeamSize = %d, want 5", cfg.WhisperBeamSize)
	}
	if cfg.CumulativeMinAudioSeconds != 2.5 {
		t.Errorf("CumulativeMinAudioSeconds = %v, want 2.5", cfg.CumulativeMinAudioSeconds)
	}
}

func TestLoadMissingYamlFileIsNotAnError(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("unexpected error for missing yaml file: %v", err)
	}
	if cfg.WhisperModelSize != "base" {
		t.Errorf("expected default WhisperModelSize, got %q", cfg.WhisperModelSize)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.SessionIdleTTL().Seconds() != 1800 {
		t.Errorf("SessionIdleTTL = %v, want 1800s", cfg.SessionIdleTTL())
	}
	if cfg.EndFinalizationTimeout().Seconds() != 20 {
		t.Errorf("EndFinalizationTimeout = %v, want 20s", cfg.EndFinalizationTimeout())
	}
}
