// Package remote manages the named remotes of a workspace.
package remote

import (
	"fmt"
	"strings"

	"tigsync/client"
	"tigsync/internal/config"
	"tigsync/internal/errors"
)

// Manager edits the remotes stored in a workspace config file.
type Manager struct {
	ws *config.WorkspaceManager
}

func NewManager(ws *config.WorkspaceManager) *Manager {
	return &Manager{ws: ws}
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, " \t/\\") {
		return errors.ValidationError(fmt.Sprintf("invalid remote name %q", name), nil)
	}
	return nil
}

func find(ws *config.Workspace, name string) int {
	for i := range ws.Remotes {
		if ws.Remotes[i].Name == name {
			return i
		}
	}
	return -1
}

func notFound(name string) error {
	return errors.NotFound(fmt.Sprintf("remote %s not found", name))
}

// Add registers a remote. The first remote becomes the default.
func (m *Manager) Add(name, url string) (*config.RemoteConfig, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, _, err := client.ParseRemoteURL(url); err != nil {
		return nil, err
	}

	var added config.RemoteConfig
	err := m.ws.Update(func(ws *config.Workspace) error {
		if find(ws, name) >= 0 {
			return errors.ValidationError(fmt.Sprintf("remote %s already exists", name), nil)
		}
		added = config.RemoteConfig{
			Name:      name,
			URL:       url,
			Default:   len(ws.Remotes) == 0,
			FetchRefs: []string{"refs/heads/*"},
			PushRefs:  []string{"refs/heads/*"},
		}
		ws.Remotes = append(ws.Remotes, added)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// Remove deletes a remote. Removing the default promotes the first
// remaining remote.
func (m *Manager) Remove(name string) error {
	return m.ws.Update(func(ws *config.Workspace) error {
		i := find(ws, name)
		if i < 0 {
			return notFound(name)
		}
		wasDefault := ws.Remotes[i].Default
		ws.Remotes = append(ws.Remotes[:i], ws.Remotes[i+1:]...)
		if wasDefault && len(ws.Remotes) > 0 {
			ws.Remotes[0].Default = true
		}
		return nil
	})
}

// SetDefault makes name the only default remote.
func (m *Manager) SetDefault(name string) error {
	return m.ws.Update(func(ws *config.Workspace) error {
		if find(ws, name) < 0 {
			return notFound(name)
		}
		for i := range ws.Remotes {
			ws.Remotes[i].Default = ws.Remotes[i].Name == name
		}
		return nil
	})
}

func (m *Manager) update(name string, fn func(*config.RemoteConfig)) error {
	return m.ws.Update(func(ws *config.Workspace) error {
		i := find(ws, name)
		if i < 0 {
			return notFound(name)
		}
		fn(&ws.Remotes[i])
		return nil
	})
}

func (m *Manager) SetURL(name, url string) error {
	if _, _, err := client.ParseRemoteURL(url); err != nil {
		return err
	}
	return m.update(name, func(r *config.RemoteConfig) { r.URL = url })
}

func (m *Manager) SetToken(name, token string) error {
	return m.update(name, func(r *config.RemoteConfig) { r.Token = token })
}

func (m *Manager) Get(name string) (*config.RemoteConfig, error) {
	ws, err := m.ws.Load()
	if err != nil {
		return nil, err
	}
	i := find(ws, name)
	if i < 0 {
		return nil, notFound(name)
	}
	r := ws.Remotes[i]
	return &r, nil
}

// Default returns the default remote.
func (m *Manager) Default() (*config.RemoteConfig, error) {
	ws, err := m.ws.Load()
	if err != nil {
		return nil, err
	}
	for _, r := range ws.Remotes {
		if r.Default {
			return &r, nil
		}
	}
	return nil, errors.NotFound("no default remote configured")
}

// List returns the remotes in the order they were added.
func (m *Manager) List() ([]config.RemoteConfig, error) {
	ws, err := m.ws.Load()
	if err != nil {
		return nil, err
	}
	if ws.Remotes == nil {
		return []config.RemoteConfig{}, nil
	}
	return ws.Remotes, nil
}

// Resolve returns the named remote, or the default when name is empty.
func (m *Manager) Resolve(name string) (*config.RemoteConfig, error) {
	if name == "" {
		return m.Default()
	}
	return m.Get(name)
}

// Client builds an API client for the named remote, or the default.
func (m *Manager) Client(name string, opts ...client.Option) (*client.Client, error) {
	r, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	if r.Token != "" {
		opts = append([]client.Option{client.WithToken(r.Token)}, opts...)
	}
	if r.Retries > 0 {
		opts = append(opts, client.WithRetries(r.Retries))
	}
	return client.FromRemoteURL(r.URL, opts...)
}
