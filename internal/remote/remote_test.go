package remote

import (
	"path/filepath"
	"testing"

	"tigsync/internal/config"
	"tigsync/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(config.NewWorkspaceManager(filepath.Join(t.TempDir(), "config.toml")))
}

func TestManager_AddAndDefault(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Default()
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	origin, err := m.Add("origin", "http://localhost:8080/demo")
	require.NoError(t, err)
	assert.True(t, origin.Default, "first remote becomes default")

	backup, err := m.Add("backup", "http://backup:8080/api/repos/demo")
	require.NoError(t, err)
	assert.False(t, backup.Default)

	_, err = m.Add("origin", "http://elsewhere/demo")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = m.Add("bad name", "http://elsewhere/demo")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = m.Add("nourl", "localhost")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	require.NoError(t, m.SetDefault("backup"))
	def, err := m.Default()
	require.NoError(t, err)
	assert.Equal(t, "backup", def.Name)

	remotes, err := m.List()
	require.NoError(t, err)
	require.Len(t, remotes, 2)
	defaults := 0
	for _, r := range remotes {
		if r.Default {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults, "exactly one default")

	assert.True(t, errors.IsType(m.SetDefault("missing"), errors.ErrorTypeNotFound))
}

func TestManager_RemovePromotes(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Add("origin", "http://a/demo")
	require.NoError(t, err)
	_, err = m.Add("second", "http://b/demo")
	require.NoError(t, err)
	_, err = m.Add("third", "http://c/demo")
	require.NoError(t, err)

	require.NoError(t, m.Remove("origin"))
	def, err := m.Default()
	require.NoError(t, err)
	assert.Equal(t, "second", def.Name)

	require.NoError(t, m.Remove("third"))
	def, err = m.Default()
	require.NoError(t, err)
	assert.Equal(t, "second", def.Name)

	require.NoError(t, m.Remove("second"))
	remotes, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, remotes)

	assert.True(t, errors.IsType(m.Remove("second"), errors.ErrorTypeNotFound))
}

func TestManager_UpdateAndClient(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Add("origin", "http://a:1/demo")
	require.NoError(t, err)

	require.NoError(t, m.SetURL("origin", "http://b:2/api/repos/other"))
	require.NoError(t, m.SetToken("origin", "secret-token"))

	r, err := m.Get("origin")
	require.NoError(t, err)
	assert.Equal(t, "http://b:2/api/repos/other", r.URL)
	assert.Equal(t, "secret-token", r.Token)

	c, err := m.Client("")
	require.NoError(t, err)
	assert.Equal(t, "other", c.Repo())

	_, err = m.Client("nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	assert.True(t, errors.IsType(m.SetToken("nope", "x"), errors.ErrorTypeNotFound))
	assert.True(t, errors.IsType(m.SetURL("origin", "::"), errors.ErrorTypeConfig))
}
