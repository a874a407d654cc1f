package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"POLL_INTERVAL", "POLL_MAX_ATTEMPTS", "POLL_TIMEOUT", "ADMISSION_LIMIT", "CORS_ALLOWED_ORIGINS", "DISPATCH_MODE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 20, cfg.PollMaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.PollTimeout)
	assert.Equal(t, 10, cfg.AdmissionLimit)
	assert.Equal(t, time.Minute, cfg.AdmissionWindow)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "memory", cfg.DispatchMode)
	assert.Equal(t, int64(10<<20), cfg.OCRMaxImageBytes)
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("POLL_MAX_ATTEMPTS", "5")
	t.Setenv("ADMISSION_LIMIT", "not-a-number")
	t.Setenv("S3_FORCE_PATH_STYLE", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("APP_ENV", "production")

	cfg := Load()
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5, cfg.PollMaxAttempts)
	assert.Equal(t, 10, cfg.AdmissionLimit)
	assert.False(t, cfg.S3ForcePathStyle)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.IsProduction())
}
