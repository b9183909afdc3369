package config

import (
	"os"
	"path/filepath"
	"testing"

	"tigsync/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{"server":{"port":9090},"log_level":"debug"}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
	assert.Empty(t, cfg.PublicURL)

	cfg, err = Load(writeFile(t, "config.json", `{"public_url":"https://tig.example/"}`))
	require.NoError(t, err)
	assert.Equal(t, "https://tig.example", cfg.PublicURL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed", content: `{"server":`},
		{name: "bad backend", content: `{"storage":{"backend":"ftp"}}`},
		{name: "s3 without bucket", content: `{"storage":{"backend":"s3"}}`},
		{name: "auth without secret", content: `{"auth":{"enabled":true}}`},
		{name: "bad log level", content: `{"log_level":"loud"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.json", tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TIG_AUTH_SECRET", "0123456789abcdef-secret")
	path := writeFile(t, "config.json", `{"auth":{"enabled":true}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef-secret", cfg.Auth.Secret)
}

func TestPath(t *testing.T) {
	t.Setenv("TIG_ENV", "production")
	assert.Equal(t, "config/config.production.json", Path())
}

func TestWorkspaceManager_RoundTrip(t *testing.T) {
	m := ForRepository(filepath.Join(t.TempDir(), ".tig"))

	ws, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, ws.ChunkSize())
	assert.Empty(t, ws.LFS.Patterns)

	ws.User.Name = "alice"
	ws.LFS.Patterns = []string{"*.psd", "assets/**"}
	ws.Remotes = []RemoteConfig{{Name: "origin", URL: "http://localhost:8080/api/repos/game", Default: true}}
	require.NoError(t, m.Save(ws))

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.User.Name)
	assert.Equal(t, []string{"*.psd", "assets/**"}, loaded.LFS.Patterns)
	require.Len(t, loaded.Remotes, 1)
	assert.True(t, loaded.Remotes[0].Default)
}

func TestWorkspaceManager_Update(t *testing.T) {
	m := ForRepository(t.TempDir())

	require.NoError(t, m.Update(func(ws *Workspace) error {
		ws.LFS.ChunkSize = 1024
		return nil
	}))

	failing := errors.ValidationError("nope", nil)
	err := m.Update(func(ws *Workspace) error {
		ws.LFS.ChunkSize = 1
		return failing
	})
	assert.ErrorIs(t, err, failing)

	ws, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(1024), ws.ChunkSize())
}

func TestWorkspaceManager_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, WorkspaceFile), []byte("[lfs\nchunk_size ="), 0644))

	_, err := ForRepository(dir).Load()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
