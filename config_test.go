package agentsync

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFileReader struct {
	files map[string][]byte
}

func (f *fakeFileReader) ReadFile(path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return data, nil
}

func loaderWith(content string) *ConfigLoader {
	return NewConfigLoader(&fakeFileReader{
		files: map[string][]byte{"agentsync.yaml": []byte(content)},
	})
}

func TestLoadConfig(t *testing.T) {
	loader := loaderWith(`
server_url: wss://workspace.example.com/sync
user_id: user-1
channel:
  emit_rate: 25
  emit_burst: 50
attention:
  trim_schedule: "@every 5m"
history:
  backend: file
  dir: /tmp/attention
`)

	cfg, err := loader.LoadConfig("agentsync.yaml")
	require.NoError(t, err)

	assert.Equal(t, "wss://workspace.example.com/sync", cfg.ServerURL)
	assert.Equal(t, "user-1", cfg.UserID)
	assert.Equal(t, float64(25), cfg.Channel.EmitRate)
	assert.Equal(t, "@every 5m", cfg.Attention.TrimSchedule)
	assert.Equal(t, "file", cfg.History.Backend)
	assert.Equal(t, 8090, cfg.Observability.Port, "port defaults when unset")
}

func TestLoadConfigMissingFile(t *testing.T) {
	loader := NewConfigLoader(&fakeFileReader{files: map[string][]byte{}})

	_, err := loader.LoadConfig("missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfigEnvFallbacks(t *testing.T) {
	t.Setenv("AGENTSYNC_USER_ID", "env-user")
	t.Setenv("AGENTSYNC_AUTH_TOKEN", "env-token")

	loader := loaderWith("server_url: wss://workspace.example.com/sync\n")

	cfg, err := loader.LoadConfig("agentsync.yaml")
	require.NoError(t, err)
	assert.Equal(t, "env-user", cfg.UserID)
	assert.Equal(t, "env-token", cfg.AuthToken)
}

func TestLoadConfigRejectsOversizedFile(t *testing.T) {
	loader := loaderWith(strings.Repeat("# padding\n", maxConfigSize/10+1))

	_, err := loader.LoadConfig("agentsync.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestLoadConfigRejectsDeepNesting(t *testing.T) {
	var b strings.Builder
	b.WriteString("server_url: wss://x\nuser_id: u\na:\n")
	for i := 0; i < maxConfigDepth+2; i++ {
		b.WriteString(strings.Repeat("  ", i+1))
		b.WriteString("a:\n")
	}
	b.WriteString(strings.Repeat("  ", maxConfigDepth+3))
	b.WriteString("leaf: 1\n")

	loader := loaderWith(b.String())

	_, err := loader.LoadConfig("agentsync.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting depth")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing server url",
			cfg:     Config{UserID: "u"},
			wantErr: "server_url",
		},
		{
			name:    "missing user id",
			cfg:     Config{ServerURL: "wss://x"},
			wantErr: "user_id",
		},
		{
			name: "redis backend without addr",
			cfg: Config{
				ServerURL: "wss://x", UserID: "u",
				History: HistoryConfig{Backend: "redis"},
			},
			wantErr: "history.redis.addr",
		},
		{
			name: "unknown backend",
			cfg: Config{
				ServerURL: "wss://x", UserID: "u",
				History: HistoryConfig{Backend: "sqlite"},
			},
			wantErr: "unknown history backend",
		},
		{
			name: "valid",
			cfg:  Config{ServerURL: "wss://x", UserID: "u"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
