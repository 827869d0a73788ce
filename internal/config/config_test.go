package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parse(envMap(map[string]string{"JWT_SECRET": "secret"}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cfg.Port != "8080" || cfg.AppEnv != EnvProduction {
		t.Errorf("Unexpected server defaults %s %s", cfg.Port, cfg.AppEnv)
	}
	if cfg.SpeechBackend != BackendGoogle || cfg.CaptureBackend != BackendNative {
		t.Errorf("Unexpected backends %s %s", cfg.SpeechBackend, cfg.CaptureBackend)
	}
	if cfg.MicrophoneDevice != "default" || cfg.SystemAudioDevice != "default" {
		t.Errorf("Unexpected devices %s %s", cfg.MicrophoneDevice, cfg.SystemAudioDevice)
	}
	if cfg.PostMeetingTimeout != 2*time.Minute {
		t.Errorf("Unexpected timeout %s", cfg.PostMeetingTimeout)
	}

	sc := cfg.StreamConfig()
	if sc.SampleRateHz != 16000 || sc.ChannelCount != 1 || sc.LanguageCode != "en-US" || sc.Model != "latest_long" || !sc.UseEnhanced {
		t.Errorf("Unexpected stream config %+v", sc)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret in production", map[string]string{}},
		{"bad port", map[string]string{"JWT_SECRET": "s", "PORT": "http"}},
		{"bad bool", map[string]string{"JWT_SECRET": "s", "SPEECH_USE_ENHANCED": "maybe"}},
		{"bad duration", map[string]string{"JWT_SECRET": "s", "POST_MEETING_TIMEOUT": "soon"}},
		{"negative duration", map[string]string{"JWT_SECRET": "s", "POST_MEETING_TIMEOUT": "-1s"}},
		{"unknown speech backend", map[string]string{"JWT_SECRET": "s", "SPEECH_BACKEND": "whisper"}},
		{"unknown capture backend", map[string]string{"JWT_SECRET": "s", "CAPTURE_BACKEND": "alsa"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parse(envMap(tt.env)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestParseDevelopmentWithoutSecret(t *testing.T) {
	cfg, err := parse(envMap(map[string]string{"APP_ENV": "development", "SPEECH_BACKEND": "mock"}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !cfg.IsDevelopment() || cfg.SpeechBackend != BackendMock {
		t.Errorf("Unexpected config %+v", cfg)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "COPILOT_TEST_UNUSED=1\nSPEECH_LANGUAGE_CODE=id-ID\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Setenv("JWT_SECRET", "secret")
	// godotenv does not override variables that are already set.
	t.Setenv("SPEECH_LANGUAGE_CODE", "")
	os.Unsetenv("SPEECH_LANGUAGE_CODE")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SpeechLanguageCode != "id-ID" {
		t.Errorf("Expected language from env file, got %s", cfg.SpeechLanguageCode)
	}
	os.Unsetenv("COPILOT_TEST_UNUSED")
}
